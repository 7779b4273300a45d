// Package latch provides level-triggered start flags owned by one process.
package latch

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"
)

type Latch struct {
	name string
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

func New(name string) *Latch {
	return &Latch{name: name, done: make(chan struct{})}
}

func (l *Latch) Name() string { return l.name }

// Set raises the latch. It reports whether this call changed its state.
func (l *Latch) Set() bool {
	changed := false
	l.once.Do(func() {
		l.set.Store(true)
		close(l.done)
		changed = true
	})
	return changed
}

func (l *Latch) IsSet() bool {
	return l.set.Load()
}

// Wait returns once the latch is set or ctx is done. In spin mode it polls
// without sleeping.
func (l *Latch) Wait(ctx context.Context, mode string) error {
	if mode == config.LatchWaitSpin {
		for !l.set.Load() {
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		if l.set.Load() {
			return nil
		}
		return ctx.Err()
	}
}
