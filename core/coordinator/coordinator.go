// Package coordinator runs the consumer side of a transfer: it owns the
// shared resources, launches and starts the producers, drains the segment
// and tears everything down.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/consumer"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/latch"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/turn"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/sem"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/shm"
)

var (
	ErrProvision       = errors.New("failed to create shared resources")
	ErrLaunch          = errors.New("failed to launch producer")
	ErrProducersExited = errors.New("all producers exited before completion")
)

type Coordinator struct {
	Log         *zap.Logger
	Config      config.Config
	Provisioner Provisioner
	Launcher    Launcher
	// Read is set when a producer reports completion.
	Read *latch.Latch
	Sink io.Writer

	phase atomic.Int32
}

func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Coordinator) setPhase(p Phase) {
	old := Phase(c.phase.Swap(int32(p)))
	c.Log.Info("phase transition", zap.Stringer("from", old), zap.Stringer("to", p))
}

// Run performs one transfer. Resource creation failures are returned wrapped
// in ErrProvision before any producer is launched.
func (c *Coordinator) Run(ctx context.Context) (consumer.Stats, error) {
	var st consumer.Stats

	l, err := turn.Roles(c.Config.TurnMode, c.Config.Producers)
	if err != nil {
		return st, err
	}
	seg, set, err := c.Provisioner.Provision(c.Config, l.Slots())
	if err != nil {
		return st, fmt.Errorf("%w: %w", ErrProvision, err)
	}
	if seg.Size() < c.Config.SegmentSize() {
		err = multierr.Append(
			fmt.Errorf("%w: segment of %d bytes, need %d", ErrProvision, seg.Size(), c.Config.SegmentSize()),
			c.Provisioner.Release(seg, set))
		return st, err
	}
	c.Log.Info("shared resources created",
		zap.String("segment", seg.Name()),
		zap.String("segment_size", humanize.IBytes(uint64(seg.Size()))),
		zap.Int("sem_slots", set.Len()),
		zap.String("turn_mode", l.Mode),
	)
	released := false
	release := func() error {
		if released {
			return nil
		}
		released = true
		err := c.Provisioner.Release(seg, set)
		if err != nil {
			c.Log.Error("failed to release shared resources", zap.Error(err))
		}
		return err
	}
	defer release()

	err = turn.Init(set, l)
	if err != nil {
		return st, fmt.Errorf("%w: %w", ErrProvision, err)
	}

	handles, err := c.launch(ctx, l, seg, set)
	if err != nil {
		return st, err
	}
	r := c.watch(handles)

	c.setPhase(Writing)
	for _, h := range handles {
		err = h.Start()
		if err != nil {
			r.killAll()
			release()
			_ = r.wait()
			return st, fmt.Errorf("start %s: %w", h, err)
		}
	}

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.allExited:
		case <-readCtx.Done():
			return
		}
		// A completion notification may still be in flight.
		select {
		case <-time.After(c.grace()):
			cancel()
		case <-readCtx.Done():
		}
	}()
	err = c.Read.Wait(readCtx, c.Config.LatchWait)
	if err != nil {
		r.killAll()
		release()
		werr := r.wait()
		if ctx.Err() == nil {
			err = ErrProducersExited
		}
		return st, multierr.Append(err, werr)
	}
	cancel()
	c.setPhase(Reading)

	cons := &consumer.Consumer{
		Log:     c.Log,
		Config:  c.Config,
		Segment: seg,
		Start:   c.Read,
		Sink:    c.Sink,
	}
	st, err = cons.Run(ctx)
	if err != nil {
		return st, err
	}
	if st.DecodeErrors != 0 {
		c.Log.Warn("segment contained undecodable records", zap.Int("count", st.DecodeErrors))
	}
	c.setPhase(Done)

	r.reap(c.grace())
	err = release()
	return st, multierr.Append(err, r.wait())
}

func (c *Coordinator) grace() time.Duration {
	return time.Duration(c.Config.ShutdownGraceMS) * time.Millisecond
}

func (c *Coordinator) launch(ctx context.Context, l turn.Layout, seg *shm.Segment, set sem.Set) ([]Handle, error) {
	handles := make([]Handle, 0, len(l.Roles))
	for i, role := range l.Roles {
		h, err := c.Launcher.Launch(ctx, Target{Index: i, Role: role, Segment: seg, Set: set})
		if err != nil {
			for _, h := range handles {
				_ = h.Kill()
			}
			return nil, fmt.Errorf("%w %d: %w", ErrLaunch, i, err)
		}
		c.Log.Debug("producer launched", zap.Stringer("handle", h), zap.Stringer("role", role))
		handles = append(handles, h)
	}
	return handles, nil
}

// reaper waits for every producer in the background.
type reaper struct {
	log       *zap.Logger
	handles   []Handle
	killed    []atomic.Bool
	exited    chan int
	allExited chan struct{}
	g         errgroup.Group
}

func (c *Coordinator) watch(handles []Handle) *reaper {
	r := &reaper{
		log:       c.Log,
		handles:   handles,
		killed:    make([]atomic.Bool, len(handles)),
		exited:    make(chan int, len(handles)),
		allExited: make(chan struct{}),
	}
	for i, h := range handles {
		i, h := i, h
		r.g.Go(func() error {
			err := h.Wait()
			r.exited <- i
			if r.killed[i].Load() && errors.Is(err, ErrKilled) {
				r.log.Debug("killed producer exited", zap.Stringer("handle", h), zap.Error(err))
				return nil
			}
			if err != nil {
				return fmt.Errorf("%s: %w", h, err)
			}
			return nil
		})
	}
	go func() {
		_ = r.g.Wait()
		close(r.allExited)
	}()
	return r
}

// reap waits up to grace for the producers to exit on their own and kills
// the rest.
func (r *reaper) reap(grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-r.allExited:
		return
	case <-timer.C:
	}
	alive := make([]bool, len(r.handles))
	for i := range alive {
		alive[i] = true
	}
	for {
		select {
		case i := <-r.exited:
			alive[i] = false
			continue
		default:
		}
		break
	}
	for i, h := range r.handles {
		if alive[i] {
			r.log.Warn("producer did not exit, killing it", zap.Stringer("handle", h))
			r.kill(i)
		}
	}
}

func (r *reaper) kill(i int) {
	r.killed[i].Store(true)
	err := r.handles[i].Kill()
	if err != nil {
		r.log.Info("failed to kill producer", zap.Stringer("handle", r.handles[i]), zap.Error(err))
	}
}

func (r *reaper) killAll() {
	for i := range r.handles {
		r.kill(i)
	}
}

func (r *reaper) wait() error {
	<-r.allExited
	return r.g.Wait()
}
