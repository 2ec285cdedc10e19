// Package transcode turns four mono capsule recordings into a multichannel
// WAV in one of the supported layouts, streaming in bounded chunks.
package transcode

// State is the position of a transcode run in its lifecycle. A run moves
// Idle → Loading → Encoding → Writing → Finalizing → Complete and may drop
// into Error from any state. Complete and Error are terminal.
type State int

const (
	Idle State = iota
	Loading
	Encoding
	Writing
	Finalizing
	Complete
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Encoding:
		return "encoding"
	case Writing:
		return "writing"
	case Finalizing:
		return "finalizing"
	case Complete:
		return "complete"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool { return s == Complete || s == Error }

// Progress is reported after every chunk and on every state change.
type Progress struct {
	Fraction float64
	Phase    string
	State    State
}

// ProgressFunc receives progress updates on the goroutine running the job.
type ProgressFunc func(Progress)
