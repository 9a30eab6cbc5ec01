// Package engine drives scans end to end. For every scan it owns one state
// machine and one orchestrator, dispatches runnable modules onto the shared
// worker pool, reports their outcomes back, advances phases, and walks the
// scan to a terminal state.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/recondor/internal/config"
	"github.com/anstrom/recondor/internal/db"
	"github.com/anstrom/recondor/internal/errors"
	"github.com/anstrom/recondor/internal/lifecycle"
	"github.com/anstrom/recondor/internal/logging"
	"github.com/anstrom/recondor/internal/metrics"
	"github.com/anstrom/recondor/internal/orchestrator"
	"github.com/anstrom/recondor/internal/osint"
	"github.com/anstrom/recondor/internal/workers"
)

const pauseCheckInterval = 200 * time.Millisecond

// finishedScanRetention bounds how many terminal scans the engine keeps in
// memory for the API; full history lives in the database.
const finishedScanRetention = 100

// Scan is one live scan owned by the engine.
type Scan struct {
	ID           uuid.UUID
	Target       string
	Machine      *lifecycle.StateMachine
	Orchestrator *orchestrator.Orchestrator

	cancel context.CancelFunc
	done   chan struct{}
	detach func()
}

// Done returns a channel closed when the scan reaches a terminal state.
func (s *Scan) Done() <-chan struct{} { return s.done }

// Engine runs scans. One engine serves the daemon; scans share its worker
// pool and module registry.
type Engine struct {
	cfg      *config.Config
	registry *osint.Registry
	pool     *workers.Pool
	recorder *db.Recorder
	logger   *logging.Logger

	mu     sync.Mutex
	scans  map[uuid.UUID]*Scan
	retain int
}

// New creates an engine. The recorder may be nil when persistence is not
// configured.
func New(cfg *config.Config, registry *osint.Registry, recorder *db.Recorder) *Engine {
	pool := workers.New(workers.Config{
		Size:            cfg.Scanning.WorkerPoolSize,
		QueueSize:       cfg.Scanning.WorkerPoolSize * 4,
		MaxRetries:      0, // module retries are handled per-run below
		JobTimeout:      cfg.Scanning.ModuleTimeout,
		ShutdownTimeout: cfg.Daemon.ShutdownTimeout,
		RateLimit:       rateLimitFrom(cfg),
	})

	return &Engine{
		cfg:      cfg,
		registry: registry,
		pool:     pool,
		recorder: recorder,
		logger:   logging.Default().WithComponent("engine"),
		scans:    make(map[uuid.UUID]*Scan),
		retain:   finishedScanRetention,
	}
}

func rateLimitFrom(cfg *config.Config) int {
	if !cfg.Scanning.RateLimit.Enabled {
		return 0
	}
	return cfg.Scanning.RateLimit.RequestsPerSecond
}

// Start brings up the worker pool.
func (e *Engine) Start() {
	e.pool.Start()
}

// Shutdown cancels every live scan and stops the worker pool.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	for _, scan := range e.scans {
		scan.cancel()
	}
	e.mu.Unlock()
	return e.pool.Shutdown()
}

// StartScan creates and launches a scan against the target. moduleNames
// selects registry modules; empty runs every enabled module from config, or
// all registered modules when that is empty too.
func (e *Engine) StartScan(ctx context.Context, target string, moduleNames []string) (*Scan, error) {
	if target == "" {
		return nil, errors.NewScanError(errors.CodeTargetInvalid, "scan target is required")
	}

	modules, err := e.selectModules(moduleNames)
	if err != nil {
		return nil, err
	}

	sequence, err := e.cfg.PhaseSequence()
	if err != nil {
		return nil, err
	}

	scanID := uuid.New()
	machine := lifecycle.NewStateMachine(scanID.String())
	orch := orchestrator.NewWithSequence(scanID.String(), target, sequence)

	machine.OnTransition(func(_ string, from, to lifecycle.ScanState) {
		metrics.RecordStateTransition(string(from), string(to))
	})
	orch.OnPhaseChange(func(_, current orchestrator.Phase) {
		metrics.RecordPhaseChange(string(current))
	})

	for _, m := range modules {
		orch.RegisterModule(m.Name(), m.Phase(), m.Priority(), m.DependsOn()...)
	}

	var detach func()
	if e.recorder != nil {
		if err := e.recorder.CreateScan(ctx, scanID, target); err != nil {
			return nil, err
		}
		detach = e.recorder.Attach(scanID, machine, orch)
	}

	scanCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Scanning.MaxScanTimeout)
	scan := &Scan{
		ID:           scanID,
		Target:       target,
		Machine:      machine,
		Orchestrator: orch,
		cancel:       cancel,
		done:         make(chan struct{}),
		detach:       detach,
	}

	e.mu.Lock()
	e.scans[scanID] = scan
	e.mu.Unlock()

	if _, err := machine.Transition(lifecycle.StateQueued, "scan accepted"); err != nil {
		cancel()
		return nil, err
	}

	e.logger.InfoScan("Scan started", scanID.String(),
		"target", target, "modules", len(modules))
	metrics.Counter(metrics.MetricScansTotal, metrics.Labels{metrics.LabelState: "started"})

	go e.run(scanCtx, scan)
	return scan, nil
}

// selectModules resolves the module set for a scan.
func (e *Engine) selectModules(names []string) ([]osint.Module, error) {
	if len(names) == 0 {
		names = e.cfg.Scanning.EnabledModules
	}
	if len(names) == 0 {
		return e.registry.All(), nil
	}

	sort.Strings(names)
	modules := make([]osint.Module, 0, len(names))
	for _, name := range names {
		m := e.registry.Get(name)
		if m == nil {
			return nil, errors.ErrUnknownModule(name)
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// GetScan returns a live scan by ID.
func (e *Engine) GetScan(id uuid.UUID) (*Scan, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	scan, ok := e.scans[id]
	return scan, ok
}

// ListScans returns all scans the engine currently tracks, newest last.
func (e *Engine) ListScans() []*Scan {
	e.mu.Lock()
	defer e.mu.Unlock()
	scans := make([]*Scan, 0, len(e.scans))
	for _, scan := range e.scans {
		scans = append(scans, scan)
	}
	sort.Slice(scans, func(i, j int) bool {
		a, b := scans[i].Machine.CreatedAt(), scans[j].Machine.CreatedAt()
		if a.Equal(b) {
			return scans[i].ID.String() < scans[j].ID.String()
		}
		return a.Before(b)
	})
	return scans
}

// pruneFinished evicts the oldest terminal scans beyond the retention bound.
// Live scans are never evicted.
func (e *Engine) pruneFinished() {
	e.mu.Lock()
	defer e.mu.Unlock()

	var finished []*Scan
	for _, scan := range e.scans {
		if scan.Machine.State().IsTerminal() {
			finished = append(finished, scan)
		}
	}
	if len(finished) <= e.retain {
		return
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].Machine.CreatedAt().Before(finished[j].Machine.CreatedAt())
	})
	for _, scan := range finished[:len(finished)-e.retain] {
		delete(e.scans, scan.ID)
	}
}

// StopScan requests cancellation of a live scan.
func (e *Engine) StopScan(id uuid.UUID) error {
	scan, ok := e.GetScan(id)
	if !ok {
		return errors.NewScanError(errors.CodeScanNotFound, "scan not found")
	}
	if _, err := scan.Machine.Transition(lifecycle.StateStopping, "stop requested"); err != nil {
		return err
	}
	scan.cancel()
	return nil
}

// PauseScan pauses module dispatch for a running scan. In-flight module runs
// finish; no new modules start until ResumeScan.
func (e *Engine) PauseScan(id uuid.UUID) error {
	scan, ok := e.GetScan(id)
	if !ok {
		return errors.NewScanError(errors.CodeScanNotFound, "scan not found")
	}
	_, err := scan.Machine.Transition(lifecycle.StatePaused, "pause requested")
	return err
}

// ResumeScan resumes a paused scan.
func (e *Engine) ResumeScan(id uuid.UUID) error {
	scan, ok := e.GetScan(id)
	if !ok {
		return errors.NewScanError(errors.CodeScanNotFound, "scan not found")
	}
	_, err := scan.Machine.Transition(lifecycle.StateRunning, "resume requested")
	return err
}

// ActiveCount returns the number of scans not yet terminal.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, scan := range e.scans {
		if scan.Machine.State().IsActive() {
			count++
		}
	}
	return count
}
