package db

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/recondor/internal/lifecycle"
	"github.com/anstrom/recondor/internal/orchestrator"
)

func TestRecorderAttachPersistsTransitions(t *testing.T) {
	database, mock := newMockDB(t)
	recorder := NewRecorder(NewStore(database))

	scanID := uuid.New()
	machine := lifecycle.NewStateMachine(scanID.String())
	orch := orchestrator.New(scanID.String(), "example.com")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE scans")).
		WithArgs("QUEUED", scanID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO scan_state_changes")).
		WithArgs(scanID, "CREATED", "QUEUED", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	detach := recorder.Attach(scanID, machine, orch)
	defer detach()

	_, err := machine.Transition(lifecycle.StateQueued, "")
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorderAttachPersistsPhaseChanges(t *testing.T) {
	database, mock := newMockDB(t)
	recorder := NewRecorder(NewStore(database))

	scanID := uuid.New()
	machine := lifecycle.NewStateMachine(scanID.String())
	orch := orchestrator.New(scanID.String(), "example.com")
	orch.Start()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE scans SET phase")).
		WithArgs("DISCOVERY", scanID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	detach := recorder.Attach(scanID, machine, orch)
	defer detach()

	orch.AdvancePhase()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorderDetachStopsPersistence(t *testing.T) {
	database, mock := newMockDB(t)
	recorder := NewRecorder(NewStore(database))

	scanID := uuid.New()
	machine := lifecycle.NewStateMachine(scanID.String())
	orch := orchestrator.New(scanID.String(), "example.com")

	detach := recorder.Attach(scanID, machine, orch)
	detach()

	// No expectations registered: any query after detach fails the test.
	_, err := machine.Transition(lifecycle.StateQueued, "")
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
