//go:build linux

package shm

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// shmDir is where glibc's shm_open places POSIX shared memory objects.
const shmDir = "/dev/shm/"

func path(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, '/') || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return shmDir + name, nil
}

func mapFd(fd, size int) ([]byte, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}

func unmap(data []byte) error {
	return unix.Munmap(data)
}

// Create creates and maps a new named segment. It fails if the name is
// already taken.
func Create(name string, rows, width int) (*Segment, error) {
	checkGeometry(rows, width)
	p, err := path(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(p, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm_open %s: %w", name, err)
	}
	defer unix.Close(fd)
	size := rows * width
	err = unix.Ftruncate(fd, int64(size))
	if err != nil {
		_ = unix.Unlink(p)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	data, err := mapFd(fd, size)
	if err != nil {
		_ = unix.Unlink(p)
		return nil, err
	}
	return &Segment{name: name, data: data, rows: rows, width: width, mapped: true}, nil
}

// Open maps a segment created by another process.
func Open(name string, rows, width int) (*Segment, error) {
	checkGeometry(rows, width)
	p, err := path(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(p, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("shm_open %s: %w", name, err)
	}
	defer unix.Close(fd)
	var st unix.Stat_t
	err = unix.Fstat(fd, &st)
	if err != nil {
		return nil, fmt.Errorf("fstat: %w", err)
	}
	size := rows * width
	if st.Size < int64(size) {
		return nil, fmt.Errorf("%w: %d < %d bytes", ErrTooSmall, st.Size, size)
	}
	data, err := mapFd(fd, size)
	if err != nil {
		return nil, err
	}
	return &Segment{name: name, data: data, rows: rows, width: width, mapped: true}, nil
}

func Unlink(name string) error {
	p, err := path(name)
	if err != nil {
		return err
	}
	err = unix.Unlink(p)
	if err != nil {
		return fmt.Errorf("shm_unlink %s: %w", name, err)
	}
	return nil
}
