//go:build linux

package clock

import (
	"time"

	"go.uber.org/zap"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/base/timebase"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/base/unixutil"
)

type SystemClock struct {
	Log *zap.Logger
}

var _ timebase.Clock = (*SystemClock)(nil)

func (c *SystemClock) Now() time.Time {
	tv, err := unixutil.Gettimeofday()
	if err != nil {
		c.Log.Fatal("unix.Gettimeofday failed", zap.Error(err))
	}
	return unixutil.TimeFromTimeval(tv)
}
