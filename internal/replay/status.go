// Package replay implements the Data Replay Controller: single- and
// multi-source time-ordered tabular replay under configurable pacing
// policies, feeding rows to registered callbacks.
package replay

// Status is the lifecycle state of a Controller/MultiController. The
// shape mirrors eventengine.Status (same transitions), kept as a
// separate type because the two components are independently owned
// (§3.5) and the teacher repo itself never shares a status enum across
// unrelated components (broker.ConnectionState vs types.OrderStatus).
type Status int

const (
	Initialized Status = iota
	Running
	Paused
	Stopped
	Completed
	Error
)

func (s Status) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (s Status) Terminal() bool {
	return s == Stopped || s == Completed || s == Error
}

// Mode is the replay pacing policy (§3.2, §4.2.2).
type Mode int

const (
	Backtest Mode = iota
	Stepped
	Realtime
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case Backtest:
		return "backtest"
	case Stepped:
		return "stepped"
	case Realtime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// usesWorker reports whether start() launches a background worker for
// this mode. Stepped mode is caller-driven only (§4.2 start() table).
func (m Mode) usesWorker() bool {
	return m == Backtest || m == Realtime || m == Accelerated
}
