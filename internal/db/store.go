package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/recondor/internal/errors"
)

// ScanRepository handles scan row operations.
type ScanRepository struct {
	db *DB
}

// NewScanRepository creates a new scan repository.
func NewScanRepository(db *DB) *ScanRepository {
	return &ScanRepository{db: db}
}

// Create creates a new scan row.
func (r *ScanRepository) Create(ctx context.Context, scan *Scan) error {
	start := time.Now()
	query := `
		INSERT INTO scans (id, target, state, phase, total_events, total_errors)
		VALUES (:id, :target, :state, :phase, :total_events, :total_errors)
		RETURNING created_at`

	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}

	rows, err := r.db.NamedQueryContext(ctx, query, scan)
	instrument("create_scan", start, err)
	if err != nil {
		return sanitizeDBError("create scan", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&scan.CreatedAt); err != nil {
			return sanitizeDBError("scan created scan", err)
		}
	}
	return nil
}

// GetByID retrieves a scan by ID.
func (r *ScanRepository) GetByID(ctx context.Context, id uuid.UUID) (*Scan, error) {
	start := time.Now()
	var scan Scan
	query := `SELECT * FROM scans WHERE id = $1`

	err := r.db.GetContext(ctx, &scan, query, id)
	instrument("get_scan", start, err)
	if err != nil {
		return nil, sanitizeDBError("get scan", err)
	}
	return &scan, nil
}

// List retrieves the most recent scans, newest first.
func (r *ScanRepository) List(ctx context.Context, limit int) ([]*Scan, error) {
	start := time.Now()
	var scans []*Scan
	query := `SELECT * FROM scans ORDER BY created_at DESC LIMIT $1`

	err := r.db.SelectContext(ctx, &scans, query, limit)
	instrument("list_scans", start, err)
	if err != nil {
		return nil, sanitizeDBError("list scans", err)
	}
	return scans, nil
}

// ListActive retrieves scans not yet in a terminal state.
func (r *ScanRepository) ListActive(ctx context.Context) ([]*Scan, error) {
	start := time.Now()
	var scans []*Scan
	query := `
		SELECT * FROM scans
		WHERE state NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
		ORDER BY created_at DESC`

	err := r.db.SelectContext(ctx, &scans, query)
	instrument("list_active_scans", start, err)
	if err != nil {
		return nil, sanitizeDBError("list active scans", err)
	}
	return scans, nil
}

// UpdateState updates a scan's state and records the transition.
func (r *ScanRepository) UpdateState(ctx context.Context, id uuid.UUID, from, to, reason string) error {
	start := time.Now()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		instrument("update_scan_state", start, err)
		return sanitizeDBError("begin state update", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	update := `
		UPDATE scans
		SET state = $1,
		    started_at = CASE WHEN $1 = 'RUNNING' AND started_at IS NULL THEN now() ELSE started_at END,
		    finished_at = CASE WHEN $1 IN ('COMPLETED', 'FAILED', 'CANCELLED') THEN now() ELSE finished_at END
		WHERE id = $2`
	result, err := tx.ExecContext(ctx, update, to, id)
	if err != nil {
		instrument("update_scan_state", start, err)
		return sanitizeDBError("update scan state", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		instrument("update_scan_state", start, err)
		return sanitizeDBError("get rows affected", err)
	}
	if affected == 0 {
		instrument("update_scan_state", start, sql.ErrNoRows)
		return errors.NewDatabaseError(errors.CodeNotFound, "Scan not found")
	}

	insert := `
		INSERT INTO scan_state_changes (scan_id, from_state, to_state, reason, occurred_at)
		VALUES ($1, $2, $3, $4, now())`
	if _, err := tx.ExecContext(ctx, insert, id, from, to, reason); err != nil {
		instrument("update_scan_state", start, err)
		return sanitizeDBError("record state change", err)
	}

	err = tx.Commit()
	instrument("update_scan_state", start, err)
	if err != nil {
		return sanitizeDBError("commit state update", err)
	}
	return nil
}

// UpdatePhase updates a scan's current phase.
func (r *ScanRepository) UpdatePhase(ctx context.Context, id uuid.UUID, phase string) error {
	start := time.Now()
	query := `UPDATE scans SET phase = $1 WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, phase, id)
	instrument("update_scan_phase", start, err)
	if err != nil {
		return sanitizeDBError("update scan phase", err)
	}
	return nil
}

// Finish records a scan's terminal counters and failure reason.
func (r *ScanRepository) Finish(ctx context.Context, id uuid.UUID, failReason string, totalEvents, totalErrors int64) error {
	start := time.Now()
	query := `
		UPDATE scans
		SET fail_reason = NULLIF($1, ''), total_events = $2, total_errors = $3,
		    finished_at = COALESCE(finished_at, now())
		WHERE id = $4`

	_, err := r.db.ExecContext(ctx, query, failReason, totalEvents, totalErrors, id)
	instrument("finish_scan", start, err)
	if err != nil {
		return sanitizeDBError("finish scan", err)
	}
	return nil
}

// StateChanges retrieves the recorded transitions for a scan, oldest first.
func (r *ScanRepository) StateChanges(ctx context.Context, id uuid.UUID) ([]*StateChange, error) {
	start := time.Now()
	var changes []*StateChange
	query := `SELECT * FROM scan_state_changes WHERE scan_id = $1 ORDER BY occurred_at, id`

	err := r.db.SelectContext(ctx, &changes, query, id)
	instrument("get_state_changes", start, err)
	if err != nil {
		return nil, sanitizeDBError("get state changes", err)
	}
	return changes, nil
}

// SaveModuleResult upserts the outcome of one module within a scan.
func (r *ScanRepository) SaveModuleResult(ctx context.Context, result *ModuleResult) error {
	start := time.Now()
	query := `
		INSERT INTO module_results (scan_id, module, phase, status, events_produced, last_error, finished_at)
		VALUES (:scan_id, :module, :phase, :status, :events_produced, :last_error, :finished_at)
		ON CONFLICT (scan_id, module) DO UPDATE
		SET status = EXCLUDED.status, events_produced = EXCLUDED.events_produced,
		    last_error = EXCLUDED.last_error, finished_at = EXCLUDED.finished_at`

	_, err := r.db.NamedExecContext(ctx, query, result)
	instrument("save_module_result", start, err)
	if err != nil {
		return sanitizeDBError("save module result", err)
	}
	return nil
}

// ModuleResults retrieves module outcomes for a scan ordered by module name.
func (r *ScanRepository) ModuleResults(ctx context.Context, id uuid.UUID) ([]*ModuleResult, error) {
	start := time.Now()
	var results []*ModuleResult
	query := `SELECT * FROM module_results WHERE scan_id = $1 ORDER BY module`

	err := r.db.SelectContext(ctx, &results, query, id)
	instrument("get_module_results", start, err)
	if err != nil {
		return nil, sanitizeDBError("get module results", err)
	}
	return results, nil
}

// EventRepository handles event storage.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create stores one event.
func (r *EventRepository) Create(ctx context.Context, event *Event) error {
	start := time.Now()
	query := `
		INSERT INTO scan_events (id, scan_id, module, event_type, data, source, metadata, occurred_at)
		VALUES (:id, :scan_id, :module, :event_type, :data, :source, :metadata, :occurred_at)`

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.NamedExecContext(ctx, query, event)
	instrument("create_event", start, err)
	if err != nil {
		return sanitizeDBError("create event", err)
	}
	return nil
}

// CreateBatch stores a batch of events in one transaction.
func (r *EventRepository) CreateBatch(ctx context.Context, events []*Event) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		instrument("create_events", start, err)
		return sanitizeDBError("begin event batch", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO scan_events (id, scan_id, module, event_type, data, source, metadata, occurred_at)
		VALUES (:id, :scan_id, :module, :event_type, :data, :source, :metadata, :occurred_at)`
	for _, event := range events {
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
		if event.OccurredAt.IsZero() {
			event.OccurredAt = time.Now().UTC()
		}
		if _, err := tx.NamedExecContext(ctx, query, event); err != nil {
			instrument("create_events", start, err)
			return sanitizeDBError("create event batch", err)
		}
	}

	err = tx.Commit()
	instrument("create_events", start, err)
	if err != nil {
		return sanitizeDBError("commit event batch", err)
	}
	return nil
}

// ListByScan retrieves events for a scan, oldest first.
func (r *EventRepository) ListByScan(ctx context.Context, scanID uuid.UUID, limit int) ([]*Event, error) {
	start := time.Now()
	var events []*Event
	query := `SELECT * FROM scan_events WHERE scan_id = $1 ORDER BY occurred_at, id LIMIT $2`

	err := r.db.SelectContext(ctx, &events, query, scanID, limit)
	instrument("list_events", start, err)
	if err != nil {
		return nil, sanitizeDBError("list events", err)
	}
	return events, nil
}

// CountByModule returns per-module event counts for a scan.
func (r *EventRepository) CountByModule(ctx context.Context, scanID uuid.UUID) (map[string]int64, error) {
	start := time.Now()
	rows, err := r.db.QueryxContext(ctx,
		`SELECT module, COUNT(*) FROM scan_events WHERE scan_id = $1 GROUP BY module`, scanID)
	instrument("count_events", start, err)
	if err != nil {
		return nil, sanitizeDBError("count events", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int64)
	for rows.Next() {
		var module string
		var count int64
		if err := rows.Scan(&module, &count); err != nil {
			return nil, sanitizeDBError("scan event counts", err)
		}
		counts[module] = count
	}
	if err := rows.Err(); err != nil {
		return nil, sanitizeDBError("iterate event counts", err)
	}
	return counts, nil
}

// Store bundles the repositories used by the engine and API layers.
type Store struct {
	Scans  *ScanRepository
	Events *EventRepository
}

// NewStore creates a store over an established connection.
func NewStore(db *DB) *Store {
	return &Store{
		Scans:  NewScanRepository(db),
		Events: NewEventRepository(db),
	}
}

func closeRows(rows interface{ Close() error }) {
	_ = rows.Close()
}
