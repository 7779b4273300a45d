package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/base/timebase"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/latch"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/producer"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/turn"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/sem"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/shm"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/signals"
)

// Target is everything a launcher needs to start producer Index.
type Target struct {
	Index   int
	Role    turn.Role
	Segment *shm.Segment
	Set     sem.Set
}

type Launcher interface {
	Launch(ctx context.Context, t Target) (Handle, error)
}

// ErrKilled is wrapped by Handle.Wait when the producer was terminated by
// Kill rather than exiting on its own.
var ErrKilled = errors.New("producer killed")

// Handle controls one launched producer. Start delivers the start-writing
// notification, Wait blocks until the producer has terminated.
type Handle interface {
	Start() error
	Wait() error
	Kill() error
	String() string
}

// GoroutineLauncher runs producers inside the current process. Each producer
// owns its start latch, and all of them notify Read on completion.
type GoroutineLauncher struct {
	Log    *zap.Logger
	Config config.Config
	Clock  timebase.Clock
	Read   *latch.Latch
}

type goroutine struct {
	index  int
	start  signals.Notifier
	cancel context.CancelFunc
	killed atomic.Bool
	done   chan struct{}
	err    error
}

func (l *GoroutineLauncher) Launch(ctx context.Context, t Target) (Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	start := latch.New("startWrite")
	p := &producer.Producer{
		Log:     l.Log.With(zap.Int("producer", t.Index)),
		Config:  l.Config,
		ID:      t.Index + 1,
		Segment: t.Segment,
		Token:   turn.NewToken(t.Set, t.Role),
		Cursor:  turn.NewCursor(t.Set),
		Start:   start,
		Done:    signals.LatchNotifier{Latch: l.Read},
		Clock:   l.Clock,
	}
	h := &goroutine{
		index:  t.Index,
		start:  signals.LatchNotifier{Latch: start},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		defer cancel()
		_, err := p.Run(ctx)
		if err != nil && h.killed.Load() &&
			(errors.Is(err, context.Canceled) || errors.Is(err, sem.ErrRemoved)) {
			err = fmt.Errorf("%w: %w", ErrKilled, err)
		}
		h.err = err
	}()
	return h, nil
}

func (h *goroutine) Start() error { return h.start.Notify() }

func (h *goroutine) Wait() error {
	<-h.done
	return h.err
}

// Kill cancels the producer. A producer blocked on the turn only returns once
// the semaphore set is removed.
func (h *goroutine) Kill() error {
	h.killed.Store(true)
	h.cancel()
	return nil
}

func (h *goroutine) String() string {
	return "producer " + strconv.Itoa(h.index)
}
