package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/anstrom/recondor/internal/errors"
	"github.com/anstrom/recondor/internal/logging"
)

// PhaseObserver is invoked after every phase change.
type PhaseObserver func(old, current Phase)

// CompletionObserver is invoked exactly once when the orchestrator reaches a
// terminal phase.
type CompletionObserver func(o *Orchestrator)

// Orchestrator owns the phase cursor and module registry for one scan. It is
// a passive, synchronous structure: an external executor calls its scheduling
// queries to decide what to dispatch and its mutation calls to report
// outcomes. One mutex serializes every operation, so completion callbacks
// arriving from concurrent worker goroutines never interleave into torn
// updates. The orchestrator never spawns goroutines of its own.
type Orchestrator struct {
	mu sync.Mutex

	scanID string
	target string

	sequence     []Phase
	phaseIdx     int
	currentPhase Phase
	failReason   string

	started   bool
	startedAt time.Time

	modules   map[string]*ModuleSchedule
	nextOrder int

	phaseResults []PhaseResult
	// Modules completed/failed since the current phase was entered. Folded
	// into a PhaseResult when the phase is left.
	phaseCompleted int
	phaseFailed    int

	totalEvents int64
	totalErrors int64

	phaseObs        map[int]PhaseObserver
	completionObs   map[int]CompletionObserver
	nextObsID       int
	completionFired bool

	logger     *logging.Logger
	timeSource func() time.Time
}

// New creates an orchestrator for the given scan using the default phase
// sequence.
func New(scanID, target string) *Orchestrator {
	return NewWithSequence(scanID, target, DefaultPhaseSequence())
}

// NewWithSequence creates an orchestrator with a caller-supplied ordered
// phase sequence. The sequence must be non-empty; a trailing PhaseComplete is
// appended when missing so every sequence ends in a terminal phase.
func NewWithSequence(scanID, target string, sequence []Phase) *Orchestrator {
	seq := make([]Phase, len(sequence))
	copy(seq, sequence)
	if len(seq) == 0 {
		seq = DefaultPhaseSequence()
	}
	if seq[len(seq)-1] != PhaseComplete {
		seq = append(seq, PhaseComplete)
	}

	return &Orchestrator{
		scanID:        scanID,
		target:        target,
		sequence:      seq,
		currentPhase:  seq[0],
		modules:       make(map[string]*ModuleSchedule),
		phaseResults:  make([]PhaseResult, 0, len(seq)),
		phaseObs:      make(map[int]PhaseObserver),
		completionObs: make(map[int]CompletionObserver),
		logger:        logging.Default().WithComponent("orchestrator").WithScanID(scanID),
		timeSource:    time.Now,
	}
}

// ScanID returns the scan this orchestrator belongs to.
func (o *Orchestrator) ScanID() string { return o.scanID }

// Target returns the scan target.
func (o *Orchestrator) Target() string { return o.target }

// Start marks the orchestrator active. It is idempotent and does not change
// the current phase. It returns true the first time and false after that.
func (o *Orchestrator) Start() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return false
	}
	o.started = true
	o.startedAt = o.timeSource()
	return true
}

// CurrentPhase returns the phase the orchestrator is in.
func (o *Orchestrator) CurrentPhase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentPhase
}

// IsComplete reports whether the orchestrator reached a terminal phase.
func (o *Orchestrator) IsComplete() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentPhase.IsTerminal()
}

// FailReason returns the reason passed to Fail, or empty.
func (o *Orchestrator) FailReason() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failReason
}

// AdvancePhase moves to the next phase in the sequence and returns it. The
// phase just left is summarized into a PhaseResult. Calling AdvancePhase
// after completion is a no-op that returns the current phase.
func (o *Orchestrator) AdvancePhase() Phase {
	o.mu.Lock()
	if o.currentPhase.IsTerminal() {
		current := o.currentPhase
		o.mu.Unlock()
		return current
	}

	old := o.currentPhase
	o.closePhaseLocked(old)
	o.phaseIdx++
	o.currentPhase = o.sequence[o.phaseIdx]
	current := o.currentPhase

	phaseObs, completionObs := o.observersForNotifyLocked(current)
	o.mu.Unlock()

	o.logger.Debug("scan phase advanced", "from", old.String(), "to", current.String())
	o.notifyPhase(phaseObs, old, current)
	o.notifyCompletion(completionObs)

	return current
}

// Complete moves the orchestrator directly to the terminal COMPLETE phase.
// It is idempotent; completion observers fire exactly once.
func (o *Orchestrator) Complete() {
	o.terminate(PhaseComplete, "")
}

// Fail moves the orchestrator to the terminal FAILED phase, recording the
// reason. It is idempotent; completion observers fire exactly once.
func (o *Orchestrator) Fail(reason string) {
	o.terminate(PhaseFailed, reason)
}

func (o *Orchestrator) terminate(terminal Phase, reason string) {
	o.mu.Lock()
	if o.currentPhase.IsTerminal() {
		o.mu.Unlock()
		return
	}

	old := o.currentPhase
	o.closePhaseLocked(old)
	o.currentPhase = terminal
	o.failReason = reason

	phaseObs, completionObs := o.observersForNotifyLocked(terminal)
	o.mu.Unlock()

	if terminal == PhaseFailed {
		o.logger.Warn("scan orchestration failed", "phase", old.String(), "reason", reason)
	} else {
		o.logger.Debug("scan orchestration complete", "last_phase", old.String())
	}

	o.notifyPhase(phaseObs, old, terminal)
	o.notifyCompletion(completionObs)
}

// closePhaseLocked folds the counters for the phase being left into a
// PhaseResult. Caller must hold the lock.
func (o *Orchestrator) closePhaseLocked(phase Phase) {
	o.phaseResults = append(o.phaseResults, PhaseResult{
		Phase:            phase,
		ModulesCompleted: o.phaseCompleted,
		ModulesFailed:    o.phaseFailed,
		EndedAt:          o.timeSource(),
	})
	o.phaseCompleted = 0
	o.phaseFailed = 0
}

// observersForNotifyLocked snapshots the phase observers and, when the new
// phase is terminal and completion has not fired yet, the completion
// observers. Caller must hold the lock.
func (o *Orchestrator) observersForNotifyLocked(current Phase) ([]PhaseObserver, []CompletionObserver) {
	phaseObs := make([]PhaseObserver, 0, len(o.phaseObs))
	for _, obs := range o.phaseObs {
		phaseObs = append(phaseObs, obs)
	}

	var completionObs []CompletionObserver
	if current.IsTerminal() && !o.completionFired {
		o.completionFired = true
		completionObs = make([]CompletionObserver, 0, len(o.completionObs))
		for _, obs := range o.completionObs {
			completionObs = append(completionObs, obs)
		}
	}
	return phaseObs, completionObs
}

func (o *Orchestrator) notifyPhase(observers []PhaseObserver, old, current Phase) {
	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("phase observer panicked",
						"from", old.String(), "to", current.String(), "panic", r)
				}
			}()
			obs(old, current)
		}()
	}
}

func (o *Orchestrator) notifyCompletion(observers []CompletionObserver) {
	for _, obs := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("completion observer panicked", "panic", r)
				}
			}()
			obs(o)
		}()
	}
}

// OnPhaseChange registers a phase observer and returns a removal function.
// Observers run synchronously but outside the orchestrator's lock; a panic in
// one observer is recovered and logged without affecting the others.
func (o *Orchestrator) OnPhaseChange(obs PhaseObserver) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextObsID
	o.nextObsID++
	o.phaseObs[id] = obs

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.phaseObs, id)
	}
}

// OnCompletion registers a completion observer and returns a removal
// function. The observer fires exactly once, on the first transition into a
// terminal phase.
func (o *Orchestrator) OnCompletion(obs CompletionObserver) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextObsID
	o.nextObsID++
	o.completionObs[id] = obs

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.completionObs, id)
	}
}

// RegisterModule inserts a module schedule in pending status and returns the
// orchestrator for chaining. Registering an existing name overwrites its
// schedule and resets it to pending; the original registration order is kept
// so equal-priority sorting stays stable. A module may not depend on itself;
// self-references are dropped with a warning. Registration after completion
// is a no-op.
func (o *Orchestrator) RegisterModule(name string, phase Phase, priority int, dependsOn ...string) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.currentPhase.IsTerminal() {
		return o
	}

	deps := make(map[string]struct{}, len(dependsOn))
	for _, dep := range dependsOn {
		if dep == name {
			o.logger.Warn("dropping self-dependency", "module", name)
			continue
		}
		deps[dep] = struct{}{}
	}

	order := o.nextOrder
	if existing, ok := o.modules[name]; ok {
		order = existing.order
	} else {
		o.nextOrder++
	}

	o.modules[name] = &ModuleSchedule{
		Name:      name,
		Phase:     phase,
		Priority:  priority,
		DependsOn: deps,
		Status:    StatusPending,
		order:     order,
	}
	return o
}

// UnregisterModule removes a module, reporting whether it was present.
func (o *Orchestrator) UnregisterModule(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.currentPhase.IsTerminal() {
		return false
	}
	if _, ok := o.modules[name]; !ok {
		return false
	}
	delete(o.modules, name)
	return true
}

// GetPhaseModules returns the names of modules assigned to the given phase,
// sorted by priority descending. Equal priorities keep registration order.
// The result is never nil.
func (o *Orchestrator) GetPhaseModules(phase Phase) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	scheds := make([]*ModuleSchedule, 0)
	for _, s := range o.modules {
		if s.Phase == phase {
			scheds = append(scheds, s)
		}
	}
	sort.Slice(scheds, func(i, j int) bool {
		if scheds[i].Priority != scheds[j].Priority {
			return scheds[i].Priority > scheds[j].Priority
		}
		return scheds[i].order < scheds[j].order
	})

	names := make([]string, len(scheds))
	for i, s := range scheds {
		names[i] = s.Name
	}
	return names
}

// CanRunModule reports whether every dependency of the named module has
// completed. Unregistered names report false. A module with no dependencies
// is always runnable.
func (o *Orchestrator) CanRunModule(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	sched, ok := o.modules[name]
	if !ok {
		return false
	}
	for dep := range sched.DependsOn {
		depSched, ok := o.modules[dep]
		if !ok || depSched.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// GetPendingModules returns modules that have not reached a terminal status,
// in registration order. The external executor uses this to know what
// remains outstanding.
func (o *Orchestrator) GetPendingModules() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	scheds := make([]*ModuleSchedule, 0)
	for _, s := range o.modules {
		if !s.Status.IsTerminal() {
			scheds = append(scheds, s)
		}
	}
	sort.Slice(scheds, func(i, j int) bool { return scheds[i].order < scheds[j].order })

	names := make([]string, len(scheds))
	for i, s := range scheds {
		names[i] = s.Name
	}
	return names
}

// ModuleStarted marks a module as running. Unknown names return an error so
// a misrouted report cannot be lost silently. After completion this is a
// no-op.
func (o *Orchestrator) ModuleStarted(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.currentPhase.IsTerminal() {
		return nil
	}
	sched, ok := o.modules[name]
	if !ok {
		return errors.ErrUnknownModule(name)
	}
	sched.Status = StatusRunning
	return nil
}

// ModuleCompleted marks a module as completed and adds its produced event
// count to the scan total. Reports for modules already in a terminal status
// are ignored so counters stay exact.
func (o *Orchestrator) ModuleCompleted(name string, eventsProduced int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.currentPhase.IsTerminal() {
		return nil
	}
	sched, ok := o.modules[name]
	if !ok {
		return errors.ErrUnknownModule(name)
	}
	if sched.Status.IsTerminal() {
		return nil
	}

	sched.Status = StatusCompleted
	sched.EventsProduced = eventsProduced
	o.totalEvents += int64(eventsProduced)
	o.phaseCompleted++
	return nil
}

// ModuleFailed marks a module as failed, recording the error string and
// incrementing the scan error total.
func (o *Orchestrator) ModuleFailed(name, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.currentPhase.IsTerminal() {
		return nil
	}
	sched, ok := o.modules[name]
	if !ok {
		return errors.ErrUnknownModule(name)
	}
	if sched.Status.IsTerminal() {
		return nil
	}

	sched.Status = StatusFailed
	sched.LastError = errMsg
	o.totalErrors++
	o.phaseFailed++
	return nil
}

// GetModuleStatus returns the status of the named module, or StatusUnknown
// for unregistered names.
func (o *Orchestrator) GetModuleStatus(name string) ModuleStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	sched, ok := o.modules[name]
	if !ok {
		return StatusUnknown
	}
	return sched.Status
}

// GetModule returns a copy of the named module's schedule.
func (o *Orchestrator) GetModule(name string) (*ModuleSchedule, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sched, ok := o.modules[name]
	if !ok {
		return nil, false
	}
	return sched.clone(), true
}

// TotalEvents returns the number of events reported by completed modules.
func (o *Orchestrator) TotalEvents() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totalEvents
}

// TotalErrors returns the number of module failures reported.
func (o *Orchestrator) TotalErrors() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totalErrors
}

// PhaseResults returns a copy of the results for every phase left so far.
func (o *Orchestrator) PhaseResults() []PhaseResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]PhaseResult, len(o.phaseResults))
	copy(out, o.phaseResults)
	return out
}
