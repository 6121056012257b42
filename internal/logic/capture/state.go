package capture

// State is the pipeline state.
type State int32

const (
	// Awaiting: nothing outstanding, about to restart.
	Awaiting State = iota
	// Streaming: frame and focus requests outstanding.
	Streaming
	// Matched: a decode succeeded, frame requests suspended.
	Matched
	// ShuttingDown is terminal.
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Awaiting:
		return "awaiting"
	case Streaming:
		return "streaming"
	case Matched:
		return "matched"
	case ShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Listener observes state transitions. It runs on the coordinator goroutine.
type Listener func(prev, next State)
