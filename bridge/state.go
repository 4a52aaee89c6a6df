package bridge

type State int

const (
	NotStarted State = iota
	Starting
	Ready
	Terminated
	Crashed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Terminated:
		return "terminated"
	case Crashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Final reports whether no further calls can succeed.
func (s State) Final() bool {
	return s == Terminated || s == Crashed
}
