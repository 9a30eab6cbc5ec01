// Package scheduler runs recurring scans on cron schedules. Schedules are
// held in memory and drive the scan engine; scan results themselves are
// persisted by the engine's recorder as usual.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/recondor/internal/engine"
	"github.com/anstrom/recondor/internal/errors"
	"github.com/anstrom/recondor/internal/logging"
	"github.com/anstrom/recondor/internal/metrics"
)

// Schedule is one recurring scan definition.
type Schedule struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	CronExpr string    `json:"cron_expression"`
	Target   string    `json:"target"`
	Modules  []string  `json:"modules,omitempty"`
	Enabled  bool      `json:"enabled"`

	LastRun    time.Time `json:"last_run,omitempty"`
	NextRun    time.Time `json:"next_run,omitempty"`
	LastScanID uuid.UUID `json:"last_scan_id,omitempty"`
	RunCount   int64     `json:"run_count"`

	cronID  cron.EntryID
	running bool
}

// Scheduler owns the cron runner and the schedule registry.
type Scheduler struct {
	engine *engine.Engine
	cron   *cron.Cron
	logger *logging.Logger

	mu        sync.RWMutex
	schedules map[uuid.UUID]*Schedule
	running   bool
}

// New creates a scheduler bound to the given engine.
func New(eng *engine.Engine) *Scheduler {
	return &Scheduler{
		engine:    eng,
		cron:      cron.New(),
		logger:    logging.Default().WithComponent("scheduler"),
		schedules: make(map[uuid.UUID]*Schedule),
	}
}

// Start begins executing enabled schedules.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.NewScanError(errors.CodeScanAlreadyActive, "scheduler already running")
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", "schedules", len(s.schedules))
	return nil
}

// Stop halts the cron runner. Scans already dispatched keep running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info("Scheduler stopped")
}

// Add registers a recurring scan. The cron expression uses the standard
// five-field format.
func (s *Scheduler) Add(name, cronExpr, target string, modules []string) (*Schedule, error) {
	parsed, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, errors.NewScanError(errors.CodeConfiguration,
			"invalid cron expression: "+err.Error())
	}
	if target == "" {
		return nil, errors.NewScanError(errors.CodeTargetInvalid, "schedule target is required")
	}

	sched := &Schedule{
		ID:       uuid.New(),
		Name:     name,
		CronExpr: cronExpr,
		Target:   target,
		Modules:  modules,
		Enabled:  true,
		NextRun:  parsed.Next(time.Now()),
	}

	cronID, err := s.cron.AddFunc(cronExpr, func() { s.execute(sched.ID) })
	if err != nil {
		return nil, errors.NewScanError(errors.CodeConfiguration, err.Error())
	}
	sched.cronID = cronID

	s.mu.Lock()
	s.schedules[sched.ID] = sched
	s.mu.Unlock()

	s.logger.Info("Schedule added", "schedule_id", sched.ID.String(),
		"name", name, "cron", cronExpr, "target", target)
	return sched, nil
}

// Remove deletes a schedule and its cron entry.
func (s *Scheduler) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return errors.NewScanError(errors.CodeScanNotFound, "schedule not found")
	}
	s.cron.Remove(sched.cronID)
	delete(s.schedules, id)
	s.logger.Info("Schedule removed", "schedule_id", id.String(), "name", sched.Name)
	return nil
}

// Enable re-arms a disabled schedule.
func (s *Scheduler) Enable(id uuid.UUID) error { return s.setEnabled(id, true) }

// Disable keeps the schedule registered but skips its runs.
func (s *Scheduler) Disable(id uuid.UUID) error { return s.setEnabled(id, false) }

func (s *Scheduler) setEnabled(id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return errors.NewScanError(errors.CodeScanNotFound, "schedule not found")
	}
	sched.Enabled = enabled
	return nil
}

// Get returns a copy of one schedule.
func (s *Scheduler) Get(id uuid.UUID) (Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return Schedule{}, false
	}
	return *sched, true
}

// List returns copies of all schedules.
func (s *Scheduler) List() []Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	return out
}

// RunNow triggers a schedule immediately, outside its cron cadence.
func (s *Scheduler) RunNow(id uuid.UUID) error {
	s.mu.RLock()
	_, ok := s.schedules[id]
	s.mu.RUnlock()
	if !ok {
		return errors.NewScanError(errors.CodeScanNotFound, "schedule not found")
	}
	go s.execute(id)
	return nil
}

// execute is the cron callback for one schedule.
func (s *Scheduler) execute(id uuid.UUID) {
	sched, ok := s.beginRun(id)
	if !ok {
		return
	}
	defer s.endRun(id)

	scan, err := s.engine.StartScan(context.Background(), sched.Target, sched.Modules)
	if err != nil {
		s.logger.Error("Scheduled scan failed to start", "error", err,
			"schedule_id", id.String(), "name", sched.Name, "target", sched.Target)
		metrics.Counter(metrics.MetricScheduledRunsTotal,
			metrics.Labels{metrics.LabelStatus: "error"})
		return
	}

	s.mu.Lock()
	if live, stillThere := s.schedules[id]; stillThere {
		live.LastScanID = scan.ID
	}
	s.mu.Unlock()

	metrics.Counter(metrics.MetricScheduledRunsTotal,
		metrics.Labels{metrics.LabelStatus: "started"})
	s.logger.Info("Scheduled scan started", "schedule_id", id.String(),
		"name", sched.Name, "scan_id", scan.ID.String())

	<-scan.Done()
}

// beginRun marks a schedule as executing. Disabled schedules and schedules
// whose previous run is still in flight are skipped.
func (s *Scheduler) beginRun(id uuid.UUID) (Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok || !sched.Enabled {
		return Schedule{}, false
	}
	if sched.running {
		s.logger.Warn("Skipping schedule, previous run still active",
			"schedule_id", id.String(), "name", sched.Name)
		metrics.Counter(metrics.MetricScheduledRunsTotal,
			metrics.Labels{metrics.LabelStatus: "skipped"})
		return Schedule{}, false
	}

	sched.running = true
	sched.LastRun = time.Now()
	sched.RunCount++
	if parsed, err := cron.ParseStandard(sched.CronExpr); err == nil {
		sched.NextRun = parsed.Next(time.Now())
	}
	return *sched, true
}

func (s *Scheduler) endRun(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched, ok := s.schedules[id]; ok {
		sched.running = false
	}
}
