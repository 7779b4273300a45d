//go:build linux && (amd64 || arm64)

package sem_test

import (
	"errors"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/a-dubinin/bsuir-os-interprocess-communication/driver/sem"
)

func createOrSkip(t *testing.T, key, n int) *sem.SysV {
	t.Helper()
	s, err := sem.Create(key, n)
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSPC) {
		t.Skipf("System V semaphores unavailable: %v", err)
	}
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return s
}

func TestSysVValues(t *testing.T) {
	s := createOrSkip(t, 0, 2)
	defer func() { _ = s.Remove() }()

	if s.Len() != 2 {
		t.Fatalf("Len() = %d; want 2", s.Len())
	}
	if err := s.SetValue(0, 75); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if err := s.Op(sem.V(1)); err != nil {
		t.Fatalf("V failed: %v", err)
	}
	if err := s.Op(sem.P(1), sem.V(1)); err != nil {
		t.Fatalf("P+V failed: %v", err)
	}
	for num, want := range []int{75, 1} {
		v, err := s.Value(num)
		if err != nil || v != want {
			t.Errorf("Value(%d) = %d, %v; want %d", num, v, err, want)
		}
	}
	if err := s.Op(sem.V(2)); !errors.Is(err, sem.ErrOutOfRange) {
		t.Errorf("Op on slot 2 returned %v; want ErrOutOfRange", err)
	}
}

func TestSysVCreateIsExclusive(t *testing.T) {
	key := 0x53540000 | os.Getpid()&0xffff
	s := createOrSkip(t, key, 2)
	defer func() { _ = s.Remove() }()

	_, err := sem.Create(key, 2)
	if !errors.Is(err, unix.EEXIST) {
		t.Errorf("second Create returned %v; want EEXIST", err)
	}
}

func TestSysVRemove(t *testing.T) {
	s := createOrSkip(t, 0, 1)
	other := sem.Attach(s.ID(), 1)
	if err := s.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := other.Value(0); !errors.Is(err, sem.ErrRemoved) {
		t.Errorf("Value after Remove returned %v; want ErrRemoved", err)
	}
}

func TestSysVOpInvalidIsNotRemoved(t *testing.T) {
	s := sem.Attach(-1, 1)
	err := s.Op(sem.V(0))
	if errors.Is(err, unix.ENOSYS) {
		t.Skipf("System V semaphores unavailable: %v", err)
	}
	if errors.Is(err, sem.ErrRemoved) {
		t.Fatalf("Op with invalid id returned ErrRemoved")
	}
	if !errors.Is(err, unix.EINVAL) {
		t.Errorf("Op with invalid id returned %v; want EINVAL", err)
	}
}
