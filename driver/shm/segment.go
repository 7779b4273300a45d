// Package shm provides the shared segment that producers write records into
// and the consumer reads them from. Row r (1-based) occupies bytes
// [(r-1)*width, r*width).
package shm

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupported   = errors.New("named shared memory is not supported on this platform")
	ErrRowOutOfRange = errors.New("row out of range")
	ErrInvalidName   = errors.New("invalid segment name")
	ErrTooSmall      = errors.New("segment smaller than expected")
	ErrClosed        = errors.New("segment closed")
)

type Segment struct {
	name   string
	data   []byte
	rows   int
	width  int
	mapped bool
}

func checkGeometry(rows, width int) {
	if rows <= 0 || width <= 0 {
		panic("shm: segment geometry must be positive")
	}
}

// NewMemory returns a segment backed by process memory.
func NewMemory(rows, width int) *Segment {
	checkGeometry(rows, width)
	return &Segment{
		data:  make([]byte, rows*width),
		rows:  rows,
		width: width,
	}
}

func (s *Segment) Name() string { return s.name }

func (s *Segment) Size() int { return len(s.data) }

func (s *Segment) Rows() int { return s.rows }

func (s *Segment) Width() int { return s.width }

// Row returns the block of row r. The slice aliases the segment.
func (s *Segment) Row(r int) ([]byte, error) {
	if r < 1 || r > s.rows {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrRowOutOfRange, r, s.rows)
	}
	if s.data == nil {
		return nil, ErrClosed
	}
	off := (r - 1) * s.width
	return s.data[off : off+s.width : off+s.width], nil
}

func (s *Segment) WriteRow(r int, b []byte) error {
	dst, err := s.Row(r)
	if err != nil {
		return err
	}
	n := copy(dst, b)
	clear(dst[n:])
	return nil
}

func (s *Segment) ReadRow(r int, b []byte) error {
	src, err := s.Row(r)
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	var err error
	if s.mapped {
		err = unmap(s.data)
	}
	s.data = nil
	return err
}
