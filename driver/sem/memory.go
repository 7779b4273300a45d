package sem

import (
	"sync"
)

// Memory is an in-process semaphore set. It lets the turn protocol run
// between goroutines with the same blocking rules as the kernel set.
type Memory struct {
	mu      sync.Mutex
	cond    *sync.Cond
	vals    []int
	scratch []int
	removed bool
	observe func(vals []int)
}

var _ Set = (*Memory)(nil)

func NewMemory(n int) *Memory {
	if n <= 0 {
		panic("sem.NewMemory: set must have at least one slot")
	}
	m := &Memory{
		vals:    make([]int, n),
		scratch: make([]int, n),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Observe installs f to be called with the slot values after every change.
// f runs with the set locked and must not retain vals.
func (m *Memory) Observe(f func(vals []int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observe = f
}

func (m *Memory) changed() {
	if m.observe != nil {
		m.observe(m.vals)
	}
	m.cond.Broadcast()
}

func (m *Memory) Op(ops ...Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		if m.removed {
			return ErrRemoved
		}
		copy(m.scratch, m.vals)
		ok, err := apply(m.scratch, ops)
		if err != nil {
			return err
		}
		if ok {
			copy(m.vals, m.scratch)
			m.changed()
			return nil
		}
		m.cond.Wait()
	}
}

func (m *Memory) Value(num int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed {
		return 0, ErrRemoved
	}
	if num < 0 || num >= len(m.vals) {
		return 0, ErrOutOfRange
	}
	return m.vals[num], nil
}

func (m *Memory) SetValue(num, val int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed {
		return ErrRemoved
	}
	if num < 0 || num >= len(m.vals) {
		return ErrOutOfRange
	}
	if val < 0 || val > MaxValue {
		return ErrOverflow
	}
	m.vals[num] = val
	m.changed()
	return nil
}

func (m *Memory) Len() int {
	return len(m.vals)
}

func (m *Memory) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.removed {
		return ErrRemoved
	}
	m.removed = true
	m.cond.Broadcast()
	return nil
}
