package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/recondor/internal/lifecycle"
	"github.com/anstrom/recondor/internal/logging"
	"github.com/anstrom/recondor/internal/orchestrator"
)

const recorderTimeout = 5 * time.Second

// Recorder mirrors live scan callbacks into the store. It subscribes to a
// scan's state machine and orchestrator and persists transitions, phase
// changes, module outcomes and final counters as they happen. Persistence
// failures are logged, never propagated back into the scan.
type Recorder struct {
	store  *Store
	logger *logging.Logger
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{
		store:  store,
		logger: logging.Default().WithComponent("recorder"),
	}
}

// CreateScan inserts the initial row for a scan. Call before Attach.
func (r *Recorder) CreateScan(ctx context.Context, scanID uuid.UUID, target string) error {
	return r.store.Scans.Create(ctx, &Scan{
		ID:     scanID,
		Target: target,
		State:  string(lifecycle.StateCreated),
		Phase:  string(orchestrator.PhaseInit),
	})
}

// Attach subscribes the recorder to a scan's state machine and orchestrator.
// The returned function removes all subscriptions.
func (r *Recorder) Attach(scanID uuid.UUID, machine *lifecycle.StateMachine, orch *orchestrator.Orchestrator) func() {
	removeTransition := machine.OnTransition(func(_ string, from, to lifecycle.ScanState) {
		ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
		defer cancel()
		if err := r.store.Scans.UpdateState(ctx, scanID, string(from), string(to), ""); err != nil {
			r.logger.ErrorDatabase("Failed to persist state transition", err,
				"scan_id", scanID.String(), "from", string(from), "to", string(to))
		}
	})

	removePhase := orch.OnPhaseChange(func(_, current orchestrator.Phase) {
		ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
		defer cancel()
		if err := r.store.Scans.UpdatePhase(ctx, scanID, string(current)); err != nil {
			r.logger.ErrorDatabase("Failed to persist phase change", err,
				"scan_id", scanID.String(), "phase", string(current))
		}
	})

	removeCompletion := orch.OnCompletion(func(o *orchestrator.Orchestrator) {
		ctx, cancel := context.WithTimeout(context.Background(), recorderTimeout)
		defer cancel()
		r.recordFinal(ctx, scanID, o)
	})

	return func() {
		removeTransition()
		removePhase()
		removeCompletion()
	}
}

// RecordEvents persists a batch of module findings for a scan.
func (r *Recorder) RecordEvents(ctx context.Context, events []*Event) error {
	return r.store.Events.CreateBatch(ctx, events)
}

// recordFinal writes the terminal snapshot: per-module outcomes and the
// scan's final counters.
func (r *Recorder) recordFinal(ctx context.Context, scanID uuid.UUID, o *orchestrator.Orchestrator) {
	snap := o.GetSnapshot()

	for i := range snap.Modules {
		m := &snap.Modules[i]
		result := &ModuleResult{
			ScanID:         scanID,
			Module:         m.Name,
			Phase:          string(m.Phase),
			Status:         string(m.Status),
			EventsProduced: m.EventsProduced,
		}
		if m.LastError != "" {
			result.LastError = sql.NullString{String: m.LastError, Valid: true}
		}
		if m.Status.IsTerminal() {
			result.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		}
		if err := r.store.Scans.SaveModuleResult(ctx, result); err != nil {
			r.logger.ErrorDatabase("Failed to persist module result", err,
				"scan_id", scanID.String(), "module", m.Name)
		}
	}

	if err := r.store.Scans.Finish(ctx, scanID, snap.FailReason, snap.TotalEvents, snap.TotalErrors); err != nil {
		r.logger.ErrorDatabase("Failed to persist scan completion", err,
			"scan_id", scanID.String())
	}
}
