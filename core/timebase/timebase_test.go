package timebase

import (
	"testing"
	"time"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestRegisterClock(t *testing.T) {
	defer clk.Store(nil)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Now without a registered clock did not panic")
			}
		}()
		_ = Now()
	}()

	want := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	RegisterClock(fixedClock{want})
	if got := Now(); !got.Equal(want) {
		t.Errorf("Now() = %v; want %v", got, want)
	}

	defer func() {
		if recover() == nil {
			t.Error("second RegisterClock did not panic")
		}
	}()
	RegisterClock(fixedClock{})
}
