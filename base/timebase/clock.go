package timebase

import (
	"time"
)

// Clock is the time source producers stamp records with.
type Clock interface {
	Now() time.Time
}
