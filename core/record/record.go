// Package record implements the fixed-width text block exchanged through the
// shared segment.
package record

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MinWidth is the smallest block width accepted by configuration. It fits
	// a record with 10-digit row and pid and a 16-digit timestamp.
	MinWidth = 64

	pattern = "Row %4d | Pid %5d | %d (usec)\n"
)

var (
	ErrRecordTooWide = errors.New("record does not fit block width")
	ErrMalformed     = errors.New("malformed record")
)

type Record struct {
	RowIndex        int
	ProducerID      int
	TimestampMicros int64
}

func (r Record) String() string {
	return fmt.Sprintf(pattern, r.RowIndex, r.ProducerID, r.TimestampMicros)
}

// EncodeTo writes r into b, padding the remainder of b with NUL bytes.
func EncodeTo(b []byte, r Record) error {
	s := r.String()
	if len(s) > len(b) {
		return fmt.Errorf("%w: %d > %d", ErrRecordTooWide, len(s), len(b))
	}
	n := copy(b, s)
	clear(b[n:])
	return nil
}

func Encode(r Record, width int) ([]byte, error) {
	b := make([]byte, width)
	err := EncodeTo(b, r)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Text returns the printable part of a block.
func Text(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[:i]
	}
	return b
}

func Decode(b []byte) (Record, error) {
	f := strings.Fields(string(Text(b)))
	if len(f) != 8 || f[0] != "Row" || f[2] != "|" || f[3] != "Pid" ||
		f[5] != "|" || f[7] != "(usec)" {
		return Record{}, ErrMalformed
	}
	row, err := strconv.Atoi(f[1])
	if err != nil {
		return Record{}, fmt.Errorf("%w: row: %w", ErrMalformed, err)
	}
	pid, err := strconv.Atoi(f[4])
	if err != nil {
		return Record{}, fmt.Errorf("%w: pid: %w", ErrMalformed, err)
	}
	ts, err := strconv.ParseInt(f[6], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: timestamp: %w", ErrMalformed, err)
	}
	return Record{RowIndex: row, ProducerID: pid, TimestampMicros: ts}, nil
}
