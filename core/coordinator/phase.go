package coordinator

type Phase int

const (
	Idle Phase = iota
	Writing
	Reading
	Done
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Writing:
		return "writing"
	case Reading:
		return "reading"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
