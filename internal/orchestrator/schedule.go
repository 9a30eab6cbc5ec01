package orchestrator

import "time"

// ModuleStatus represents the scheduling status of one registered module.
type ModuleStatus string

const (
	// StatusPending indicates the module has not been dispatched yet.
	StatusPending ModuleStatus = "pending"

	// StatusRunning indicates the module is executing.
	StatusRunning ModuleStatus = "running"

	// StatusCompleted indicates the module finished successfully.
	StatusCompleted ModuleStatus = "completed"

	// StatusFailed indicates the module reported an error.
	StatusFailed ModuleStatus = "failed"

	// StatusUnknown is the sentinel returned for unregistered module names,
	// so polling code can probe without an existence check.
	StatusUnknown ModuleStatus = "unknown"
)

// String returns the string representation of the status.
func (s ModuleStatus) String() string { return string(s) }

// IsTerminal reports whether the module will not be scheduled again.
func (s ModuleStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ModuleSchedule is the per-module scheduling record. Each orchestrator owns
// its schedules exclusively; callers only ever see copies.
type ModuleSchedule struct {
	Name           string              `json:"name"`
	Phase          Phase               `json:"phase"`
	Priority       int                 `json:"priority"`
	DependsOn      map[string]struct{} `json:"-"`
	Status         ModuleStatus        `json:"status"`
	EventsProduced int                 `json:"events_produced"`
	LastError      string              `json:"last_error,omitempty"`

	// order preserves registration order for stable equal-priority sorting.
	order int
}

// Dependencies returns the module's dependency names. The returned slice is
// a fresh copy.
func (s *ModuleSchedule) Dependencies() []string {
	deps := make([]string, 0, len(s.DependsOn))
	for name := range s.DependsOn {
		deps = append(deps, name)
	}
	return deps
}

// clone returns a deep copy of the schedule for external consumption.
func (s *ModuleSchedule) clone() *ModuleSchedule {
	deps := make(map[string]struct{}, len(s.DependsOn))
	for name := range s.DependsOn {
		deps[name] = struct{}{}
	}
	out := *s
	out.DependsOn = deps
	return &out
}

// PhaseResult is an immutable snapshot recorded each time the orchestrator
// leaves a phase.
type PhaseResult struct {
	Phase            Phase     `json:"phase"`
	ModulesCompleted int       `json:"modules_completed"`
	ModulesFailed    int       `json:"modules_failed"`
	EndedAt          time.Time `json:"ended_at"`
}
