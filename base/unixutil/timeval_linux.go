package unixutil

import (
	"time"

	"golang.org/x/sys/unix"
)

func TimeFromTimeval(tv unix.Timeval) time.Time {
	return time.Unix(int64(tv.Sec), int64(tv.Usec)*1e3).UTC()
}

func Gettimeofday() (unix.Timeval, error) {
	var tv unix.Timeval
	for {
		err := unix.Gettimeofday(&tv)
		if err == unix.EINTR {
			continue
		}
		return tv, err
	}
}
