package bridge

// State is the lifecycle state of a bridge
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
	// StateFailed is entered when the device cannot be opened
	StateFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// validTransitions lists the states reachable from each state
var validTransitions = map[State][]State{
	StateCreated:  {StateRunning, StateFailed, StateStopped},
	StateRunning:  {StateStopping},
	StateStopping: {StateStopped},
	StateFailed:   {StateStopped},
	StateStopped:  {},
}

// canTransition reports whether from → to is allowed
func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
