//go:build linux && (amd64 || arm64)

package sem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	semGETVAL = 12
	semSETVAL = 16
)

// sembuf mirrors struct sembuf.
type sembuf struct {
	num uint16
	op  int16
	flg int16
}

type SysV struct {
	valid bool
	id    int
	n     int
}

var _ Set = (*SysV)(nil)

// Create creates a new set of n semaphores, all zero. It fails if a set with
// the same key already exists. Key 0 is IPC_PRIVATE.
func Create(key, n int) (*SysV, error) {
	if n <= 0 || n > 0xffff {
		return nil, ErrOutOfRange
	}
	flags := unix.IPC_CREAT | unix.IPC_EXCL | 0600
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(n), uintptr(flags))
	if errno != 0 {
		return nil, errno
	}
	if int(id) < 0 {
		panic("semget returned invalid value")
	}
	return &SysV{valid: true, id: int(id), n: n}, nil
}

// Attach returns a handle to a set created by another process.
func Attach(id, n int) *SysV {
	return &SysV{valid: true, id: id, n: n}
}

func (s *SysV) check() {
	if !s.valid {
		panic("sem.SysV: use of uninitialized semaphore set")
	}
}

func (s *SysV) ID() int {
	s.check()
	return s.id
}

func (s *SysV) Len() int {
	s.check()
	return s.n
}

func (s *SysV) Op(ops ...Op) error {
	s.check()
	if len(ops) == 0 {
		return nil
	}
	buf := make([]sembuf, len(ops))
	for i, op := range ops {
		if op.Num < 0 || op.Num >= s.n {
			return ErrOutOfRange
		}
		if op.Delta < -MaxValue || op.Delta > MaxValue {
			return ErrOverflow
		}
		buf[i] = sembuf{num: uint16(op.Num), op: int16(op.Delta)}
	}
	for {
		_, _, errno := unix.Syscall(unix.SYS_SEMOP,
			uintptr(s.id), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
		if errno == unix.EINTR {
			continue
		}
		if errno == unix.EIDRM {
			return ErrRemoved
		}
		if errno != 0 {
			return errno
		}
		return nil
	}
}

func (s *SysV) ctl(num, cmd int, arg uintptr) (int, error) {
	s.check()
	if num < 0 || num >= s.n {
		return 0, ErrOutOfRange
	}
	r, _, errno := unix.Syscall6(unix.SYS_SEMCTL,
		uintptr(s.id), uintptr(num), uintptr(cmd), arg, 0, 0)
	if errno == unix.EIDRM || errno == unix.EINVAL {
		return 0, ErrRemoved
	}
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

func (s *SysV) Value(num int) (int, error) {
	return s.ctl(num, semGETVAL, 0)
}

func (s *SysV) SetValue(num, val int) error {
	if val < 0 || val > MaxValue {
		return ErrOverflow
	}
	_, err := s.ctl(num, semSETVAL, uintptr(val))
	return err
}

func (s *SysV) Remove() error {
	_, err := s.ctl(0, unix.IPC_RMID, 0)
	if err != nil {
		return err
	}
	s.valid = false
	return nil
}
