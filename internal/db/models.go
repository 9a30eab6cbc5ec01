package db

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB handles PostgreSQL JSONB columns.
type JSONB map[string]interface{}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// Scan represents one reconnaissance scan.
type Scan struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	Target      string         `db:"target" json:"target"`
	State       string         `db:"state" json:"state"`
	Phase       string         `db:"phase" json:"phase"`
	FailReason  sql.NullString `db:"fail_reason" json:"fail_reason,omitempty"`
	TotalEvents int64          `db:"total_events" json:"total_events"`
	TotalErrors int64          `db:"total_errors" json:"total_errors"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	StartedAt   sql.NullTime   `db:"started_at" json:"started_at,omitempty"`
	FinishedAt  sql.NullTime   `db:"finished_at" json:"finished_at,omitempty"`
}

// StateChange represents one recorded scan state transition.
type StateChange struct {
	ID         int64     `db:"id" json:"id"`
	ScanID     uuid.UUID `db:"scan_id" json:"scan_id"`
	FromState  string    `db:"from_state" json:"from_state"`
	ToState    string    `db:"to_state" json:"to_state"`
	Reason     string    `db:"reason" json:"reason"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// Event represents one finding produced by a reconnaissance module.
type Event struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ScanID     uuid.UUID `db:"scan_id" json:"scan_id"`
	Module     string    `db:"module" json:"module"`
	Type       string    `db:"event_type" json:"type"`
	Data       string    `db:"data" json:"data"`
	Source     string    `db:"source" json:"source"`
	Metadata   JSONB     `db:"metadata" json:"metadata,omitempty"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}

// ModuleResult represents the final outcome of one module within a scan.
type ModuleResult struct {
	ScanID         uuid.UUID      `db:"scan_id" json:"scan_id"`
	Module         string         `db:"module" json:"module"`
	Phase          string         `db:"phase" json:"phase"`
	Status         string         `db:"status" json:"status"`
	EventsProduced int            `db:"events_produced" json:"events_produced"`
	LastError      sql.NullString `db:"last_error" json:"last_error,omitempty"`
	FinishedAt     sql.NullTime   `db:"finished_at" json:"finished_at,omitempty"`
}
