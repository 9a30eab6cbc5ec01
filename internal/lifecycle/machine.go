package lifecycle

import (
	"sync"
	"time"

	"github.com/anstrom/recondor/internal/errors"
	"github.com/anstrom/recondor/internal/logging"
)

// StateTransition records one successful transition. Records are immutable
// and appended to a machine's history in chronological order.
type StateTransition struct {
	From      ScanState `json:"from"`
	To        ScanState `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// TransitionObserver is invoked after every successful transition.
type TransitionObserver func(scanID string, from, to ScanState)

// StateMachine tracks the lifecycle state of a single scan. All mutations go
// through Transition and are serialized by one mutex, so concurrent callers
// from worker goroutines never observe a torn state. A failed Transition is
// guaranteed to leave state and history untouched.
type StateMachine struct {
	mu        sync.Mutex
	scanID    string
	state     ScanState
	history   []StateTransition
	createdAt time.Time

	observers  map[int]TransitionObserver
	nextObsID  int
	logger     *logging.Logger
	timeSource func() time.Time
}

// NewStateMachine creates a state machine for the given scan, starting in
// StateCreated.
func NewStateMachine(scanID string) *StateMachine {
	return NewStateMachineAt(scanID, StateCreated)
}

// NewStateMachineAt creates a state machine starting in the given state.
func NewStateMachineAt(scanID string, initial ScanState) *StateMachine {
	return &StateMachine{
		scanID:     scanID,
		state:      initial,
		history:    make([]StateTransition, 0, 8),
		createdAt:  time.Now(),
		observers:  make(map[int]TransitionObserver),
		logger:     logging.Default().WithComponent("lifecycle").WithScanID(scanID),
		timeSource: time.Now,
	}
}

// ScanID returns the scan this machine belongs to.
func (m *StateMachine) ScanID() string { return m.scanID }

// State returns the current state.
func (m *StateMachine) State() ScanState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition attempts to move the machine to the given state. On success the
// new state is recorded in history and observers are notified outside the
// lock. On failure a *errors.TransitionError is returned and the machine is
// unmodified.
func (m *StateMachine) Transition(to ScanState, reason string) (ScanState, error) {
	m.mu.Lock()

	from := m.state
	if !isLegalTransition(from, to) {
		allowed := transitionTable[from]
		names := make([]string, len(allowed))
		for i, s := range allowed {
			names[i] = s.String()
		}
		m.mu.Unlock()
		return from, errors.NewTransitionError(m.scanID, from.String(), to.String(), names)
	}

	m.state = to
	m.history = append(m.history, StateTransition{
		From:      from,
		To:        to,
		Timestamp: m.timeSource(),
		Reason:    reason,
	})

	observers := make([]TransitionObserver, 0, len(m.observers))
	for _, obs := range m.observers {
		observers = append(observers, obs)
	}
	m.mu.Unlock()

	m.logger.Debug("scan state changed",
		"from", from.String(), "to", to.String(), "reason", reason)

	for _, obs := range observers {
		m.notify(obs, from, to)
	}

	return to, nil
}

// notify invokes one observer, recovering and logging any panic so a faulty
// observer cannot abort the transition or starve later observers.
func (m *StateMachine) notify(obs TransitionObserver, from, to ScanState) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("transition observer panicked",
				"from", from.String(), "to", to.String(), "panic", r)
		}
	}()
	obs(m.scanID, from, to)
}

// CanTransition reports whether moving to the given state is currently legal.
// It never mutates the machine.
func (m *StateMachine) CanTransition(to ScanState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return isLegalTransition(m.state, to)
}

// OnTransition registers an observer and returns a function that removes it.
func (m *StateMachine) OnTransition(obs TransitionObserver) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = obs

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// History returns a copy of the transition history in chronological order.
func (m *StateMachine) History() []StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]StateTransition, len(m.history))
	copy(out, m.history)
	return out
}

// CreatedAt returns when the machine was constructed.
func (m *StateMachine) CreatedAt() time.Time {
	return m.createdAt
}

// TimeIn returns the cumulative time the machine has spent in the given
// state. The interval for the currently occupied state is counted up to now.
// History is walked on every call; scans have small, bounded histories so no
// index is kept.
func (m *StateMachine) TimeIn(state ScanState) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timeSource()
	var total time.Duration

	var occupant ScanState
	entered := m.createdAt
	if len(m.history) > 0 {
		occupant = m.history[0].From
	} else {
		occupant = m.state
	}

	for _, tr := range m.history {
		if occupant == state {
			total += tr.Timestamp.Sub(entered)
		}
		occupant = tr.To
		entered = tr.Timestamp
	}

	if occupant == state {
		total += now.Sub(entered)
	}

	return total
}
