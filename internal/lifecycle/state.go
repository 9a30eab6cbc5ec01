// Package lifecycle implements the authoritative state machine governing a
// single scan's lifecycle. It defines the closed set of scan states, the
// table of legal transitions between them, and a thread-safe machine that
// validates transitions, records history and notifies observers.
package lifecycle

// ScanState represents the overall lifecycle state of one scan.
type ScanState string

const (
	// StateCreated indicates a scan record exists but has not been queued.
	StateCreated ScanState = "CREATED"

	// StateQueued indicates a scan is waiting for an execution slot.
	StateQueued ScanState = "QUEUED"

	// StateStarting indicates scan setup is in progress.
	StateStarting ScanState = "STARTING"

	// StateRunning indicates modules are actively executing.
	StateRunning ScanState = "RUNNING"

	// StatePaused indicates a running scan has been temporarily halted.
	StatePaused ScanState = "PAUSED"

	// StateStopping indicates a stop was requested and modules are draining.
	StateStopping ScanState = "STOPPING"

	// StateCompleted indicates the scan finished successfully.
	StateCompleted ScanState = "COMPLETED"

	// StateFailed indicates the scan encountered an unrecoverable error.
	StateFailed ScanState = "FAILED"

	// StateCancelled indicates the scan was cancelled before completion.
	StateCancelled ScanState = "CANCELLED"
)

// String returns the string representation of the state.
func (s ScanState) String() string { return string(s) }

// IsTerminal reports whether the state has no legal outgoing transitions.
func (s ScanState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the scan is starting up or actively running.
func (s ScanState) IsActive() bool {
	return s == StateStarting || s == StateRunning
}

// ParseState converts a string to a ScanState. The second return value is
// false when the string names no known state.
func ParseState(s string) (ScanState, bool) {
	switch ScanState(s) {
	case StateCreated, StateQueued, StateStarting, StateRunning,
		StatePaused, StateStopping, StateCompleted, StateFailed, StateCancelled:
		return ScanState(s), true
	default:
		return "", false
	}
}

// transitionTable maps each state to the ordered set of states it may legally
// move to. Terminal states map to an empty set. Slice order is the order the
// allowed set is reported in diagnostics.
var transitionTable = map[ScanState][]ScanState{
	StateCreated:   {StateQueued, StateCancelled},
	StateQueued:    {StateStarting, StateCancelled},
	StateStarting:  {StateRunning, StateFailed, StateCancelled},
	StateRunning:   {StatePaused, StateStopping, StateCompleted, StateFailed},
	StatePaused:    {StateRunning, StateStopping, StateCancelled},
	StateStopping:  {StateCompleted, StateFailed, StateCancelled},
	StateCompleted: {},
	StateFailed:    {},
	StateCancelled: {},
}

// AllowedTransitions returns the states reachable from the given state in one
// legal transition. The returned slice is a copy and safe to modify.
func AllowedTransitions(from ScanState) []ScanState {
	allowed, ok := transitionTable[from]
	if !ok {
		return nil
	}
	out := make([]ScanState, len(allowed))
	copy(out, allowed)
	return out
}

// isLegalTransition reports whether from may move to to in one step.
func isLegalTransition(from, to ScanState) bool {
	for _, s := range transitionTable[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AllStates returns every state in the closed set, in lifecycle order.
func AllStates() []ScanState {
	return []ScanState{
		StateCreated, StateQueued, StateStarting, StateRunning,
		StatePaused, StateStopping, StateCompleted, StateFailed, StateCancelled,
	}
}
