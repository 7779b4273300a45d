//go:build !linux

package shm

func unmap(data []byte) error {
	return nil
}

func Create(name string, rows, width int) (*Segment, error) {
	return nil, ErrUnsupported
}

func Open(name string, rows, width int) (*Segment, error) {
	return nil, ErrUnsupported
}

func Unlink(name string) error {
	return ErrUnsupported
}
