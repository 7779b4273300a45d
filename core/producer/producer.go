// Package producer writes chunks of records into the shared segment while
// holding the turn.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/base/metrics"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/base/timebase"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/latch"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/record"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/turn"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/shm"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/signals"
)

const maxTurnWait = int64(time.Hour / time.Microsecond)

var prodMetrics = struct {
	chunksWritten  prometheus.Counter
	recordsWritten prometheus.Counter
	turnsAcquired  prometheus.Counter
	completions    prometheus.Counter
}{
	chunksWritten: promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.ProducerChunksWrittenN,
		Help: metrics.ProducerChunksWrittenH,
	}),
	recordsWritten: promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.ProducerRecordsWrittenN,
		Help: metrics.ProducerRecordsWrittenH,
	}),
	turnsAcquired: promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.ProducerTurnsAcquiredN,
		Help: metrics.ProducerTurnsAcquiredH,
	}),
	completions: promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.ProducerCompletionsN,
		Help: metrics.ProducerCompletionsH,
	}),
}

type Producer struct {
	Log     *zap.Logger
	Config  config.Config
	ID      int
	Segment *shm.Segment
	Token   *turn.Token
	Cursor  turn.Cursor
	Start   *latch.Latch
	Done    signals.Notifier
	Clock   timebase.Clock
}

type Stats struct {
	Chunks  int
	Records int
	// TurnWait holds the time spent in Acquire, in microseconds.
	TurnWait *hdrhistogram.Histogram
}

// Run waits for the start latch and then writes chunks until the cursor
// reaches the configured total. The producer that observes the total
// notifies Done.
func (p *Producer) Run(ctx context.Context) (Stats, error) {
	st := Stats{TurnWait: hdrhistogram.New(1, maxTurnWait, 3)}

	err := p.Start.Wait(ctx, p.Config.LatchWait)
	if err != nil {
		return st, err
	}
	p.Log.Debug("start latch observed", zap.Int("id", p.ID))

	total := p.Config.TotalRecords
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		t0 := p.Clock.Now()
		err = p.Token.Acquire()
		if err != nil {
			return st, err
		}
		_ = st.TurnWait.RecordValue(min(p.Clock.Now().Sub(t0).Microseconds(), maxTurnWait))
		prodMetrics.turnsAcquired.Inc()

		cursor, err := p.Cursor.Get()
		if err != nil {
			return st, err
		}
		if cursor < total {
			end := min(cursor+p.Config.ChunkSize, total)
			err = p.writeChunk(cursor+1, end)
			if err != nil {
				return st, err
			}
			err = p.Cursor.Set(end)
			if err != nil {
				return st, err
			}
			st.Chunks++
			st.Records += end - cursor
			prodMetrics.chunksWritten.Inc()
			prodMetrics.recordsWritten.Add(float64(end - cursor))
			p.Log.Debug("chunk written",
				zap.Int("id", p.ID), zap.Int("first", cursor+1), zap.Int("last", end))
			cursor = end
		}

		err = p.Token.Release()
		if err != nil {
			return st, err
		}
		if cursor >= total {
			break
		}
	}

	err = p.Done.Notify()
	if err != nil {
		return st, fmt.Errorf("notify consumer: %w", err)
	}
	prodMetrics.completions.Inc()

	p.Log.Info("producer finished",
		zap.Int("id", p.ID),
		zap.Int("chunks", st.Chunks),
		zap.Int("records", st.Records),
		zap.Int64("turn_wait_p50_us", st.TurnWait.ValueAtQuantile(50)),
		zap.Int64("turn_wait_p99_us", st.TurnWait.ValueAtQuantile(99)),
		zap.Int64("turn_wait_max_us", st.TurnWait.Max()),
	)
	return st, nil
}

// writeChunk encodes rows first..last and stores them in the segment.
func (p *Producer) writeChunk(first, last int) error {
	for r := first; r <= last; r++ {
		b, err := record.Encode(record.Record{
			RowIndex:        r,
			ProducerID:      p.ID,
			TimestampMicros: p.Clock.Now().UnixMicro(),
		}, p.Segment.Width())
		if err != nil {
			return fmt.Errorf("row %d: %w", r, err)
		}
		err = p.Segment.WriteRow(r, b)
		if err != nil {
			return err
		}
	}
	return nil
}
