// Package sem provides counting semaphore sets with System V semop
// semantics: a call applies all of its operations atomically or blocks
// until it can.
package sem

import (
	"errors"
)

// MaxValue mirrors SEMVMX.
const MaxValue = 32767

var (
	ErrUnsupported = errors.New("System V semaphores are not supported on this platform")
	ErrRemoved     = errors.New("semaphore set removed")
	ErrOutOfRange  = errors.New("semaphore number out of range")
	ErrOverflow    = errors.New("semaphore value out of range")
)

// Op is one element of a semop call. A negative Delta blocks while the value
// is below -Delta, a zero Delta blocks until the value is zero, a positive
// Delta never blocks.
type Op struct {
	Num   int
	Delta int
}

func P(num int) Op { return Op{Num: num, Delta: -1} }

func V(num int) Op { return Op{Num: num, Delta: +1} }

// WaitZero returns an operation that blocks until slot num is zero.
func WaitZero(num int) Op { return Op{Num: num, Delta: 0} }

type Set interface {
	Op(ops ...Op) error
	Value(num int) (int, error)
	SetValue(num, val int) error
	Len() int
	Remove() error
}

// apply performs ops on vals in order. It reports false, leaving vals
// partially modified, if the caller would have to block.
func apply(vals []int, ops []Op) (bool, error) {
	for _, op := range ops {
		if op.Num < 0 || op.Num >= len(vals) {
			return false, ErrOutOfRange
		}
		v := vals[op.Num]
		switch {
		case op.Delta == 0:
			if v != 0 {
				return false, nil
			}
		case v+op.Delta < 0:
			return false, nil
		case v+op.Delta > MaxValue:
			return false, ErrOverflow
		default:
			vals[op.Num] = v + op.Delta
		}
	}
	return true, nil
}
