package producer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/latch"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/producer"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/record"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/turn"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/sem"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/shm"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/signals"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

type fixture struct {
	cfg       config.Config
	seg       *shm.Segment
	set       *sem.Memory
	start     *latch.Latch
	read      *latch.Latch
	producers []*producer.Producer
}

func newFixture(t *testing.T, total, chunk, n int) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.TotalRecords = total
	cfg.ChunkSize = chunk
	cfg.Producers = n
	cfg.LatchWait = config.LatchWaitBlock
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid config: %v", err)
	}
	l, err := turn.Roles(cfg.TurnMode, n)
	if err != nil {
		t.Fatalf("Roles failed: %v", err)
	}
	f := &fixture{
		cfg:   cfg,
		seg:   shm.NewMemory(total, cfg.RecordWidth),
		set:   sem.NewMemory(l.Slots()),
		start: latch.New("startWrite"),
		read:  latch.New("startRead"),
	}
	if err := turn.Init(f.set, l); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	for i, r := range l.Roles {
		f.producers = append(f.producers, &producer.Producer{
			Log:     zap.NewNop(),
			Config:  cfg,
			ID:      i + 1,
			Segment: f.seg,
			Token:   turn.NewToken(f.set, r),
			Cursor:  turn.NewCursor(f.set),
			Start:   f.start,
			Done:    signals.LatchNotifier{Latch: f.read},
			Clock:   fixedClock{epoch},
		})
	}
	return f
}

func (f *fixture) run(t *testing.T) []producer.Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats := make([]producer.Stats, len(f.producers))
	errs := make([]error, len(f.producers))
	var wg sync.WaitGroup
	for i, p := range f.producers {
		wg.Add(1)
		go func(i int, p *producer.Producer) {
			defer wg.Done()
			stats[i], errs[i] = p.Run(ctx)
		}(i, p)
	}
	f.start.Set()
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("producer %d failed: %v", i+1, err)
		}
	}
	return stats
}

func (f *fixture) checkRows(t *testing.T) {
	t.Helper()
	for r := 1; r <= f.cfg.TotalRecords; r++ {
		b, _ := f.seg.Row(r)
		rec, err := record.Decode(b)
		if err != nil {
			t.Fatalf("row %d: %v", r, err)
		}
		if rec.RowIndex != r {
			t.Errorf("row %d holds record for row %d", r, rec.RowIndex)
		}
		if rec.TimestampMicros != epoch.UnixMicro() {
			t.Errorf("row %d timestamp = %d", r, rec.TimestampMicros)
		}
	}
}

func TestTwoChunks(t *testing.T) {
	f := newFixture(t, 150, 75, 2)
	stats := f.run(t)

	// Producer 2 completes the segment, producer 1 takes one more turn to
	// observe that.
	for i, turns := range []int64{2, 1} {
		st := stats[i]
		if st.Chunks != 1 || st.Records != 75 {
			t.Errorf("producer %d wrote %d chunks, %d records; want 1, 75", i+1, st.Chunks, st.Records)
		}
		if st.TurnWait.TotalCount() != turns {
			t.Errorf("producer %d acquired the turn %d times; want %d", i+1, st.TurnWait.TotalCount(), turns)
		}
	}
	f.checkRows(t)

	// The ring starts at producer 1, so it owns the first chunk.
	for r := 1; r <= 150; r++ {
		b, _ := f.seg.Row(r)
		rec, _ := record.Decode(b)
		want := 1
		if r > 75 {
			want = 2
		}
		if rec.ProducerID != want {
			t.Errorf("row %d written by producer %d; want %d", r, rec.ProducerID, want)
		}
	}
	if !f.read.IsSet() {
		t.Error("consumer was not notified")
	}
	if v, _ := f.set.Value(turn.CursorSlot); v != 150 {
		t.Errorf("cursor = %d; want 150", v)
	}
}

func TestChunkBoundary(t *testing.T) {
	var tests = []struct {
		total, chunk, n int
		chunks          int
	}{
		{100, 30, 2, 4},
		{1000, 75, 2, 14},
		{10, 75, 2, 1},
		{7, 2, 3, 4},
		{1, 1, 1, 1},
	}
	for _, tt := range tests {
		f := newFixture(t, tt.total, tt.chunk, tt.n)
		stats := f.run(t)
		chunks, records := 0, 0
		for _, st := range stats {
			chunks += st.Chunks
			records += st.Records
		}
		if chunks != tt.chunks || records != tt.total {
			t.Errorf("total %d, chunk %d, %d producers: %d chunks, %d records; want %d, %d",
				tt.total, tt.chunk, tt.n, chunks, records, tt.chunks, tt.total)
		}
		f.checkRows(t)
	}
}

func TestRepeatedStartDoesNotRewrite(t *testing.T) {
	f := newFixture(t, 150, 75, 2)
	f.run(t)

	f.start.Set()
	for _, p := range f.producers {
		p.Clock = fixedClock{epoch.Add(time.Hour)}
	}
	stats := f.run(t)
	for i, st := range stats {
		if st.Chunks != 0 || st.Records != 0 {
			t.Errorf("producer %d rewrote %d records after completion", i+1, st.Records)
		}
	}
	f.checkRows(t)
}

func TestRunCanceledBeforeStart(t *testing.T) {
	f := newFixture(t, 10, 5, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.producers[0].Run(ctx); err == nil {
		t.Error("Run returned nil error for canceled context")
	}
	if v, _ := f.set.Value(turn.CursorSlot); v != 0 {
		t.Errorf("cursor = %d; want 0", v)
	}
}

func TestRecordTooWide(t *testing.T) {
	f := newFixture(t, 4, 2, 1)
	p := f.producers[0]
	p.Segment = shm.NewMemory(4, 8)
	f.start.Set()
	if _, err := p.Run(context.Background()); err == nil {
		t.Error("Run succeeded with a block narrower than a record")
	}
}
