// Package turn implements turn taking between producers on a semaphore set.
//
// Slot 0 of the set holds the row cursor. The remaining slots hold the turn
// token, whose shape depends on the mode:
//
//	asymmetric   one shared slot; producer 0 locks with P and unlocks with V,
//	             producer 1 does the opposite. Two producers may be inside at
//	             once.
//	alternating  one binary slot per producer forming a ring. Producer i
//	             takes the token from slot 1+i and hands it to the slot of
//	             producer i+1 mod N.
package turn

import (
	"errors"
	"fmt"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/core/config"
	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/sem"
)

const CursorSlot = 0

var ErrUnknownMode = errors.New("unknown turn mode")

type Role struct {
	Index  int
	Lock   sem.Op
	Unlock sem.Op
}

func (r Role) String() string {
	return fmt.Sprintf("producer %d lock {%d,%+d} unlock {%d,%+d}",
		r.Index, r.Lock.Num, r.Lock.Delta, r.Unlock.Num, r.Unlock.Delta)
}

// Layout describes the semaphore set a mode needs and the role of every
// producer.
type Layout struct {
	Mode    string
	Initial []int
	Roles   []Role
}

func (l Layout) Slots() int { return len(l.Initial) }

func Roles(mode string, n int) (Layout, error) {
	switch mode {
	case config.TurnModeAsymmetric:
		if n != 2 {
			return Layout{}, fmt.Errorf("%w: %s mode needs 2 producers, got %d",
				config.ErrInvalidConfig, mode, n)
		}
		return Layout{
			Mode:    mode,
			Initial: []int{0, 0},
			Roles: []Role{
				{Index: 0, Lock: sem.P(1), Unlock: sem.V(1)},
				{Index: 1, Lock: sem.V(1), Unlock: sem.P(1)},
			},
		}, nil
	case config.TurnModeAlternating:
		if n < 1 {
			return Layout{}, fmt.Errorf("%w: need at least 1 producer, got %d",
				config.ErrInvalidConfig, n)
		}
		l := Layout{
			Mode:    mode,
			Initial: make([]int, 1+n),
			Roles:   make([]Role, n),
		}
		l.Initial[1] = 1
		for i := 0; i < n; i++ {
			l.Roles[i] = Role{Index: i, Lock: sem.P(1 + i), Unlock: sem.V(1 + (i+1)%n)}
		}
		return l, nil
	default:
		return Layout{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Init stores the initial slot values of l into s.
func Init(s sem.Set, l Layout) error {
	if s.Len() < l.Slots() {
		return fmt.Errorf("semaphore set has %d slots, %s mode needs %d", s.Len(), l.Mode, l.Slots())
	}
	for i, v := range l.Initial {
		err := s.SetValue(i, v)
		if err != nil {
			return fmt.Errorf("init slot %d: %w", i, err)
		}
	}
	return nil
}

type Token struct {
	set  sem.Set
	role Role
}

func NewToken(s sem.Set, r Role) *Token {
	if s == nil {
		panic("turn: nil semaphore set")
	}
	return &Token{set: s, role: r}
}

func (t *Token) Role() Role { return t.role }

func (t *Token) Acquire() error {
	err := t.set.Op(t.role.Lock)
	if err != nil {
		return fmt.Errorf("acquire turn (producer %d): %w", t.role.Index, err)
	}
	return nil
}

func (t *Token) Release() error {
	err := t.set.Op(t.role.Unlock)
	if err != nil {
		return fmt.Errorf("release turn (producer %d): %w", t.role.Index, err)
	}
	return nil
}

// Cursor is the number of committed rows. It must only be accessed while
// holding the turn.
type Cursor struct {
	set sem.Set
}

func NewCursor(s sem.Set) Cursor { return Cursor{set: s} }

func (c Cursor) Get() (int, error) {
	v, err := c.set.Value(CursorSlot)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	return v, nil
}

func (c Cursor) Set(v int) error {
	err := c.set.SetValue(CursorSlot, v)
	if err != nil {
		return fmt.Errorf("store cursor %d: %w", v, err)
	}
	return nil
}
