package orchestrator

import (
	"sort"
	"time"
)

// Summary is the compact status view served by list endpoints and the CLI.
type Summary struct {
	ScanID           string  `json:"scan_id"`
	Target           string  `json:"target"`
	Phase            Phase   `json:"phase"`
	Complete         bool    `json:"complete"`
	ModulesTotal     int     `json:"modules_total"`
	ModulesPending   int     `json:"modules_pending"`
	ModulesRunning   int     `json:"modules_running"`
	ModulesCompleted int     `json:"modules_completed"`
	ModulesFailed    int     `json:"modules_failed"`
	TotalEvents      int64   `json:"total_events"`
	TotalErrors      int64   `json:"total_errors"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
}

// ModuleSnapshot is the serializable view of one module schedule.
type ModuleSnapshot struct {
	Name           string       `json:"name"`
	Phase          Phase        `json:"phase"`
	Priority       int          `json:"priority"`
	DependsOn      []string     `json:"depends_on"`
	Status         ModuleStatus `json:"status"`
	EventsProduced int          `json:"events_produced"`
	LastError      string       `json:"last_error,omitempty"`
}

// Snapshot is the full serializable state of an orchestrator, intended to be
// rendered as JSON by the API layer without further transformation.
type Snapshot struct {
	ScanID       string           `json:"scan_id"`
	Target       string           `json:"target"`
	Phase        Phase            `json:"phase"`
	Complete     bool             `json:"complete"`
	FailReason   string           `json:"fail_reason,omitempty"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	Sequence     []Phase          `json:"phase_sequence"`
	PhaseResults []PhaseResult    `json:"phase_results"`
	Modules      []ModuleSnapshot `json:"modules"`
	TotalEvents  int64            `json:"total_events"`
	TotalErrors  int64            `json:"total_errors"`
}

// GetSummary returns the compact status view of the scan.
func (o *Orchestrator) GetSummary() Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Summary{
		ScanID:      o.scanID,
		Target:      o.target,
		Phase:       o.currentPhase,
		Complete:    o.currentPhase.IsTerminal(),
		TotalEvents: o.totalEvents,
		TotalErrors: o.totalErrors,
	}
	for _, m := range o.modules {
		s.ModulesTotal++
		switch m.Status {
		case StatusPending:
			s.ModulesPending++
		case StatusRunning:
			s.ModulesRunning++
		case StatusCompleted:
			s.ModulesCompleted++
		case StatusFailed:
			s.ModulesFailed++
		}
	}
	if o.started {
		s.ElapsedSeconds = o.timeSource().Sub(o.startedAt).Seconds()
	}
	return s
}

// GetSnapshot returns the full serializable state of the orchestrator.
func (o *Orchestrator) GetSnapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		ScanID:      o.scanID,
		Target:      o.target,
		Phase:       o.currentPhase,
		Complete:    o.currentPhase.IsTerminal(),
		FailReason:  o.failReason,
		TotalEvents: o.totalEvents,
		TotalErrors: o.totalErrors,
	}

	if o.started {
		started := o.startedAt
		snap.StartedAt = &started
	}

	snap.Sequence = make([]Phase, len(o.sequence))
	copy(snap.Sequence, o.sequence)

	snap.PhaseResults = make([]PhaseResult, len(o.phaseResults))
	copy(snap.PhaseResults, o.phaseResults)

	snap.Modules = make([]ModuleSnapshot, 0, len(o.modules))
	for _, m := range o.modules {
		deps := m.Dependencies()
		sort.Strings(deps)
		snap.Modules = append(snap.Modules, ModuleSnapshot{
			Name:           m.Name,
			Phase:          m.Phase,
			Priority:       m.Priority,
			DependsOn:      deps,
			Status:         m.Status,
			EventsProduced: m.EventsProduced,
			LastError:      m.LastError,
		})
	}
	sort.Slice(snap.Modules, func(i, j int) bool {
		return snap.Modules[i].Name < snap.Modules[j].Name
	})

	return snap
}
