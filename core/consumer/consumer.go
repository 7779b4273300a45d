// Package consumer drains the shared segment once the producers are done.
package consumer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/base/metrics"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/latch"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/record"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/shm"
)

var consMetrics = struct {
	recordsRead  prometheus.Counter
	decodeErrors prometheus.Counter
}{
	recordsRead: promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.ConsumerRecordsReadN,
		Help: metrics.ConsumerRecordsReadH,
	}),
	decodeErrors: promauto.NewCounter(prometheus.CounterOpts{
		Name: metrics.ConsumerDecodeErrorsN,
		Help: metrics.ConsumerDecodeErrorsH,
	}),
}

var ErrShortSegment = errors.New("segment holds fewer rows than records expected")

type Consumer struct {
	Log     *zap.Logger
	Config  config.Config
	Segment *shm.Segment
	Start   *latch.Latch
	Sink    io.Writer
}

type Stats struct {
	Records      int
	DecodeErrors int
}

// Run waits for the read latch and emits exactly TotalRecords lines to Sink.
// Blocks that fail to decode are emitted as found.
func (c *Consumer) Run(ctx context.Context) (Stats, error) {
	var st Stats

	if rows := c.Segment.Rows(); rows < c.Config.TotalRecords {
		return st, fmt.Errorf("%w: %d < %d", ErrShortSegment, rows, c.Config.TotalRecords)
	}
	err := c.Start.Wait(ctx, c.Config.LatchWait)
	if err != nil {
		return st, err
	}
	c.Log.Debug("read latch observed")

	total, chunk, width := c.Config.TotalRecords, c.Config.ChunkSize, c.Segment.Width()
	w := bufio.NewWriter(c.Sink)
	buf := make([]byte, chunk*width)
	for first := 1; first <= total; first += chunk {
		last := min(first+chunk-1, total)
		n := last - first + 1
		for i := 0; i < n; i++ {
			err = c.Segment.ReadRow(first+i, buf[i*width:(i+1)*width])
			if err != nil {
				return st, err
			}
		}
		for i := 0; i < n; i++ {
			b := buf[i*width : (i+1)*width]
			line := record.Text(b)
			if _, err := record.Decode(b); err != nil {
				st.DecodeErrors++
				consMetrics.decodeErrors.Inc()
				c.Log.Info("failed to decode record", zap.Int("row", first+i), zap.Error(err))
				if len(line) == 0 || line[len(line)-1] != '\n' {
					line = append(line[:len(line):len(line)], '\n')
				}
			}
			_, err = w.Write(line)
			if err != nil {
				return st, fmt.Errorf("write row %d: %w", first+i, err)
			}
			st.Records++
			consMetrics.recordsRead.Inc()
		}
	}
	err = w.Flush()
	if err != nil {
		return st, fmt.Errorf("flush: %w", err)
	}
	c.Log.Debug("segment drained", zap.Int("records", st.Records), zap.Int("decode_errors", st.DecodeErrors))
	return st, nil
}
