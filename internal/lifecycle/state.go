package lifecycle

// State is the lifecycle state of one model version.
type State string

const (
	StatePendingLoad   State = "pending_load"
	StateLoaded        State = "loaded"
	StatePendingUnload State = "pending_unload"
	StateRemoved       State = "removed"
	StateFailed        State = "failed"
)

// allStates lists every state, for metrics.
var allStates = []State{StatePendingLoad, StateLoaded, StatePendingUnload, StateRemoved, StateFailed}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateRemoved || s == StateFailed }

// CanTransition reports whether s → to is a legal edge.
func (s State) CanTransition(to State) bool {
	switch s {
	case StatePendingLoad:
		return to == StateLoaded || to == StateFailed
	case StateLoaded:
		return to == StatePendingUnload
	case StatePendingUnload:
		return to == StateRemoved
	default:
		return false
	}
}
