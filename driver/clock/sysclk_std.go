//go:build !linux

package clock

import (
	"time"

	"go.uber.org/zap"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/base/timebase"
)

type SystemClock struct {
	Log *zap.Logger
}

var _ timebase.Clock = (*SystemClock)(nil)

func (c *SystemClock) Now() time.Time {
	return time.Now().UTC()
}
