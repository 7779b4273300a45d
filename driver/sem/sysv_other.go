//go:build !linux || !(amd64 || arm64)

package sem

type SysV struct{}

var _ Set = (*SysV)(nil)

func Create(key, n int) (*SysV, error) {
	return nil, ErrUnsupported
}

func Attach(id, n int) *SysV {
	panic("sem.Attach: " + ErrUnsupported.Error())
}

func (s *SysV) ID() int                     { return -1 }
func (s *SysV) Len() int                    { return 0 }
func (s *SysV) Op(ops ...Op) error          { return ErrUnsupported }
func (s *SysV) Value(num int) (int, error)  { return 0, ErrUnsupported }
func (s *SysV) SetValue(num, val int) error { return ErrUnsupported }
func (s *SysV) Remove() error               { return ErrUnsupported }
