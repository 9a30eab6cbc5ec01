package engine

import (
	"context"
	"sync"
	"time"

	"github.com/anstrom/recondor/internal/db"
	"github.com/anstrom/recondor/internal/errors"
	"github.com/anstrom/recondor/internal/lifecycle"
	"github.com/anstrom/recondor/internal/metrics"
	"github.com/anstrom/recondor/internal/orchestrator"
	"github.com/anstrom/recondor/internal/osint"
	"github.com/anstrom/recondor/internal/workers"
)

// run is the per-scan goroutine. It walks the scan through QUEUED, STARTING
// and RUNNING, executes each phase's modules, and finishes with exactly one
// terminal transition.
func (e *Engine) run(ctx context.Context, scan *Scan) {
	defer e.pruneFinished()
	defer close(scan.done)
	defer scan.cancel()
	if scan.detach != nil {
		defer scan.detach()
	}

	machine := scan.Machine
	orch := scan.Orchestrator

	if _, err := machine.Transition(lifecycle.StateStarting, "dispatching"); err != nil {
		e.finish(scan, lifecycle.StateFailed, err.Error())
		return
	}
	if _, err := machine.Transition(lifecycle.StateRunning, "modules dispatched"); err != nil {
		e.finish(scan, lifecycle.StateFailed, err.Error())
		return
	}

	orch.Start()

	for !orch.CurrentPhase().IsTerminal() {
		if err := e.waitWhilePaused(ctx, scan); err != nil {
			e.abort(scan, err)
			return
		}

		if err := e.runPhase(ctx, scan, orch.CurrentPhase()); err != nil {
			e.abort(scan, err)
			return
		}

		orch.AdvancePhase()
	}

	if orch.CurrentPhase() == orchestrator.PhaseFailed {
		e.finish(scan, lifecycle.StateFailed, orch.FailReason())
		return
	}
	e.finish(scan, lifecycle.StateCompleted, "all phases complete")
}

// runPhase dispatches the phase's modules in dependency waves until none are
// left pending.
func (e *Engine) runPhase(ctx context.Context, scan *Scan, phase orchestrator.Phase) error {
	orch := scan.Orchestrator

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.waitWhilePaused(ctx, scan); err != nil {
			return err
		}

		pending := pendingIn(orch, phase)
		if len(pending) == 0 {
			return nil
		}

		var runnable []string
		for _, name := range pending {
			if orch.CanRunModule(name) {
				runnable = append(runnable, name)
			}
		}

		if len(runnable) == 0 {
			// Nothing can run: remaining modules wait on failed or
			// missing dependencies and will never become runnable.
			for _, name := range pending {
				_ = orch.ModuleFailed(name, "dependency not satisfied")
			}
			return nil
		}

		// Block on queue space rather than dropping modules; the pool is
		// shared across scans and a full queue is transient.
		var wg sync.WaitGroup
		var submitErr error
		for _, name := range runnable {
			wg.Add(1)
			job := workers.NewModuleJob(scan.ID.String(), name, scan.Target,
				e.moduleExecutor(scan, &wg))
			if err := e.pool.SubmitWait(ctx, job); err != nil {
				wg.Done()
				submitErr = err
				break
			}
		}
		wg.Wait()
		if submitErr != nil {
			return submitErr
		}
	}
}

// moduleExecutor builds the worker-pool closure for one dispatch wave.
func (e *Engine) moduleExecutor(scan *Scan, wg *sync.WaitGroup) func(ctx context.Context, module, target string) error {
	return func(ctx context.Context, module, target string) error {
		defer wg.Done()
		e.executeModule(ctx, scan, module, target)
		// Outcomes are reported to the orchestrator; the pool never retries.
		return nil
	}
}

// executeModule runs one module with retry, reports the outcome, and
// persists produced events.
func (e *Engine) executeModule(ctx context.Context, scan *Scan, moduleName, target string) {
	orch := scan.Orchestrator
	module := e.registry.Get(moduleName)
	if module == nil {
		_ = orch.ModuleFailed(moduleName, "module not registered")
		return
	}

	if err := orch.ModuleStarted(moduleName); err != nil {
		e.logger.ErrorScan("Module start rejected", scan.ID.String(), err, "module", moduleName)
		return
	}

	start := time.Now()
	events, err := e.runWithRetry(ctx, module, osint.Target{
		Value: target,
		Ports: e.cfg.Scanning.DefaultPorts,
	})
	duration := time.Since(start)

	if err != nil {
		_ = orch.ModuleFailed(moduleName, err.Error())
		metrics.RecordModuleRun(moduleName, "error", duration)
		e.logger.ErrorScan("Module failed", scan.ID.String(), err,
			"module", moduleName, "duration", duration)
		return
	}

	_ = orch.ModuleCompleted(moduleName, len(events))
	metrics.RecordModuleRun(moduleName, "success", duration)
	metrics.RecordEventsProduced(moduleName, len(events))
	e.logger.InfoScan("Module completed", scan.ID.String(),
		"module", moduleName, "events", len(events), "duration", duration)

	e.persistEvents(ctx, scan, events)
}

// runWithRetry retries retryable module errors per the scan config.
func (e *Engine) runWithRetry(ctx context.Context, module osint.Module, target osint.Target) ([]osint.Event, error) {
	retry := e.cfg.Scanning.Retry
	delay := retry.RetryDelay

	var lastErr error
	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		events, err := module.Run(ctx, target)
		if err == nil {
			return events, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) || attempt == retry.MaxRetries {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if retry.BackoffMultiplier > 1 {
			delay = time.Duration(float64(delay) * retry.BackoffMultiplier)
		}
	}
	return nil, lastErr
}

// persistEvents mirrors module findings into the store.
func (e *Engine) persistEvents(ctx context.Context, scan *Scan, events []osint.Event) {
	if e.recorder == nil || len(events) == 0 {
		return
	}

	rows := make([]*db.Event, 0, len(events))
	for _, event := range events {
		rows = append(rows, &db.Event{
			ScanID:     scan.ID,
			Module:     event.Module,
			Type:       event.Type,
			Data:       event.Data,
			Source:     event.Source,
			Metadata:   db.JSONB(event.Metadata),
			OccurredAt: event.OccurredAt,
		})
	}
	if err := e.recorder.RecordEvents(ctx, rows); err != nil {
		e.logger.ErrorScan("Failed to persist events", scan.ID.String(), err,
			"count", len(rows))
	}
}

// waitWhilePaused blocks while the scan sits in PAUSED.
func (e *Engine) waitWhilePaused(ctx context.Context, scan *Scan) error {
	for scan.Machine.State() == lifecycle.StatePaused {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pauseCheckInterval):
		}
	}
	return nil
}

// abort drives a scan to CANCELLED or FAILED after an interrupted phase.
func (e *Engine) abort(scan *Scan, cause error) {
	state := scan.Machine.State()
	if state == lifecycle.StateStopping {
		e.finish(scan, lifecycle.StateCancelled, "stopped by request")
		return
	}
	if cause == context.DeadlineExceeded {
		e.finish(scan, lifecycle.StateFailed, "scan timeout exceeded")
		return
	}
	e.finish(scan, lifecycle.StateCancelled, cause.Error())
}

// finish performs the terminal transition and closes out the orchestrator.
func (e *Engine) finish(scan *Scan, terminal lifecycle.ScanState, reason string) {
	machine := scan.Machine
	orch := scan.Orchestrator

	switch terminal {
	case lifecycle.StateCompleted:
		orch.Complete()
	default:
		orch.Fail(reason)
	}

	// Some states (PAUSED, and RUNNING for CANCELLED) reach the terminal
	// only through STOPPING.
	if !machine.CanTransition(terminal) && machine.CanTransition(lifecycle.StateStopping) {
		if _, err := machine.Transition(lifecycle.StateStopping, reason); err != nil {
			e.logger.ErrorScan("Terminal transition failed", scan.ID.String(), err)
		}
	}

	if _, err := machine.Transition(terminal, reason); err != nil {
		e.logger.ErrorScan("Terminal transition failed", scan.ID.String(), err,
			"terminal", string(terminal))
	}

	metrics.Counter(metrics.MetricScansTotal, metrics.Labels{metrics.LabelState: string(terminal)})
	e.logger.InfoScan("Scan finished", scan.ID.String(),
		"state", string(terminal), "reason", reason,
		"events", orch.TotalEvents(), "errors", orch.TotalErrors())
}

// pendingIn lists the phase's modules still pending, in scheduling order.
func pendingIn(orch *orchestrator.Orchestrator, phase orchestrator.Phase) []string {
	var pending []string
	for _, name := range orch.GetPhaseModules(phase) {
		if orch.GetModuleStatus(name) == orchestrator.StatusPending {
			pending = append(pending, name)
		}
	}
	return pending
}
