// Package timebase holds the process-wide clock.
package timebase

import (
	"sync/atomic"
	"time"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/base/timebase"
)

type holder struct {
	c timebase.Clock
}

var (
	clk atomic.Pointer[holder]
)

func RegisterClock(c timebase.Clock) {
	if c == nil {
		panic("clock must not be nil")
	}
	swapped := clk.CompareAndSwap(nil, &holder{c: c})
	if !swapped {
		panic("clock already registered")
	}
}

// Clock returns the registered clock.
func Clock() timebase.Clock {
	h := clk.Load()
	if h == nil {
		panic("no clock registered")
	}
	return h.c
}

func Now() time.Time {
	return Clock().Now()
}
