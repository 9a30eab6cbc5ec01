// Package daemon runs recondor as a background service. It wires together
// the module registry, scan engine, scheduler, optional database persistence,
// and the API server, and owns signal handling and the PID file.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/anstrom/recondor/internal/api"
	"github.com/anstrom/recondor/internal/config"
	"github.com/anstrom/recondor/internal/db"
	"github.com/anstrom/recondor/internal/engine"
	"github.com/anstrom/recondor/internal/logging"
	"github.com/anstrom/recondor/internal/metrics"
	"github.com/anstrom/recondor/internal/osint"
	"github.com/anstrom/recondor/internal/scheduler"
)

const (
	healthCheckInterval = 10 * time.Second

	dirPermissions  = 0o750
	filePermissions = 0o600
)

// Daemon is the long-running recondor process.
type Daemon struct {
	config    *config.Config
	database  *db.DB
	store     *db.Store
	registry  *osint.Registry
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	logger    *logging.Logger
	pidFile   string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex
}

// New creates a daemon from the given configuration.
func New(cfg *config.Config) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		config:  cfg,
		pidFile: cfg.Daemon.PIDFile,
		logger:  logging.Default().WithComponent("daemon"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start brings up all components and blocks until shutdown.
func (d *Daemon) Start() error {
	d.logger.Info("Starting recondor daemon")

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if d.config.Daemon.WorkDir != "" {
		if err := os.MkdirAll(d.config.Daemon.WorkDir, dirPermissions); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
		if err := os.Chdir(d.config.Daemon.WorkDir); err != nil {
			return fmt.Errorf("failed to change to working directory: %w", err)
		}
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	if err := d.initDatabase(); err != nil {
		// The daemon stays useful without persistence; scans simply are
		// not recorded.
		d.logger.Warn("Running without database persistence", "error", err)
	}

	d.initEngine()

	if err := d.initAPIServer(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	d.logger.Info("Daemon started", "pid", os.Getpid())
	return d.run()
}

// Stop requests a graceful shutdown and waits for it to complete.
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")
	d.cancel()

	select {
	case <-d.done:
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Warn("Shutdown timeout reached, forcing exit")
	}

	d.cleanup()
	return nil
}

func (d *Daemon) initDatabase() error {
	dbConfig := d.config.GetDatabaseConfig()
	database, err := db.Connect(d.ctx, &dbConfig)
	if err != nil {
		return err
	}
	d.database = database
	d.store = db.NewStore(database)
	return nil
}

func (d *Daemon) initEngine() {
	d.registry = osint.Builtin()

	var recorder *db.Recorder
	if d.store != nil {
		recorder = db.NewRecorder(d.store)
	}

	d.engine = engine.New(d.config, d.registry, recorder)
	d.engine.Start()

	d.scheduler = scheduler.New(d.engine)
	if err := d.scheduler.Start(); err != nil {
		d.logger.Error("Failed to start scheduler", "error", err)
	}

	d.logger.Info("Engine started",
		"modules", d.registry.Names(),
		"workers", d.config.Scanning.WorkerPoolSize)
}

func (d *Daemon) initAPIServer() error {
	if !d.config.IsAPIEnabled() {
		d.logger.Info("API server disabled, skipping initialization")
		return nil
	}

	apiServer, err := api.New(d.config, api.Options{
		Engine:    d.engine,
		Registry:  d.registry,
		Scheduler: d.scheduler,
		Database:  d.database,
		Store:     d.store,
	})
	if err != nil {
		return err
	}

	d.apiServer = apiServer
	d.logger.Info("API server initialized", "address", d.config.GetAPIAddress())
	return nil
}

func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(d.pidFile), dirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), filePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID refuses to start when another live daemon holds the PID
// file, and clears stale files left by a crash.
func (d *Daemon) checkExistingPID() error {
	data, err := os.ReadFile(d.pidFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		_ = os.Remove(d.pidFile)
		return nil
	}

	if isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGUSR1,
	)

	go func() {
		for sig := range sigChan {
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				d.logger.Info("Initiating graceful shutdown", "signal", sig.String())
				d.cancel()
				return
			case syscall.SIGHUP:
				if err := d.reloadConfiguration(); err != nil {
					d.logger.Error("Configuration reload failed", "error", err)
				}
			case syscall.SIGUSR1:
				d.dumpStatus()
			}
		}
	}()
}

func (d *Daemon) run() error {
	if d.apiServer != nil {
		go func() {
			if err := d.apiServer.Start(d.ctx); err != nil {
				d.logger.Error("API server error", "error", err)
			}
		}()
	}

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Shutdown signal received")
			close(d.done)
			return nil
		case <-time.After(healthCheckInterval):
			d.performHealthCheck()
		}
	}
}

func (d *Daemon) performHealthCheck() {
	if d.engine != nil {
		metrics.Gauge(metrics.MetricActiveScans, float64(d.engine.ActiveCount()), nil)
	}

	if d.database != nil {
		if err := d.database.PingContext(d.ctx); err != nil {
			d.logger.Error("Database health check failed", "error", err)
			if err := d.reconnectDatabase(); err != nil {
				d.logger.Error("Database reconnection failed", "error", err)
			}
		}
	}
}

// reconnectDatabase retries the connection with exponential backoff.
func (d *Daemon) reconnectDatabase() error {
	const maxRetries = 5
	const baseDelay = 2 * time.Second
	const maxDelay = 30 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			delay := baseDelay << (attempt - 1)
			if delay > maxDelay {
				delay = maxDelay
			}
			select {
			case <-d.ctx.Done():
				return fmt.Errorf("reconnection canceled due to shutdown")
			case <-time.After(delay):
			}
		}

		if d.database != nil {
			_ = d.database.Close()
		}

		dbConfig := d.config.GetDatabaseConfig()
		database, err := db.Connect(d.ctx, &dbConfig)
		if err != nil {
			d.logger.Warn("Reconnection attempt failed",
				"attempt", attempt, "max", maxRetries, "error", err)
			continue
		}

		d.mu.Lock()
		d.database = database
		d.store = db.NewStore(database)
		d.mu.Unlock()
		d.logger.Info("Database reconnection successful")
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts", maxRetries)
}

// reloadConfiguration applies a SIGHUP config reload. Engine and scheduler
// keep their original settings; logging and API changes take effect.
func (d *Daemon) reloadConfiguration() error {
	newConfig, err := config.Load(d.config.Source())
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("new configuration is invalid: %w", err)
	}

	oldConfig := d.config
	d.config = newConfig

	if oldConfig.GetAPIAddress() != newConfig.GetAPIAddress() ||
		oldConfig.IsAPIEnabled() != newConfig.IsAPIEnabled() {
		d.restartAPIServer()
	}

	d.logger.Info("Configuration reloaded")
	return nil
}

func (d *Daemon) restartAPIServer() {
	if d.apiServer != nil {
		if err := d.apiServer.Stop(); err != nil {
			d.logger.Error("Failed to stop API server", "error", err)
		}
		d.apiServer = nil
	}

	if err := d.initAPIServer(); err != nil {
		d.logger.Error("Failed to restart API server", "error", err)
		return
	}
	if d.apiServer != nil {
		go func() {
			if err := d.apiServer.Start(d.ctx); err != nil {
				d.logger.Error("API server error", "error", err)
			}
		}()
	}
}

func (d *Daemon) dumpStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	fields := []any{
		"pid", os.Getpid(),
		"goroutines", runtime.NumGoroutine(),
		"alloc_kb", m.Alloc / 1024,
		"num_gc", m.NumGC,
	}
	if d.engine != nil {
		fields = append(fields, "active_scans", d.engine.ActiveCount())
	}
	if d.scheduler != nil {
		fields = append(fields, "schedules", len(d.scheduler.List()))
	}
	if d.database != nil {
		fields = append(fields, "database", d.database.PingContext(d.ctx) == nil)
	}
	d.logger.Info("Daemon status", fields...)
}

func (d *Daemon) cleanup() {
	if d.scheduler != nil {
		d.scheduler.Stop()
	}

	if d.apiServer != nil {
		if err := d.apiServer.Stop(); err != nil {
			d.logger.Error("Error stopping API server", "error", err)
		}
	}

	if d.engine != nil {
		if err := d.engine.Shutdown(); err != nil {
			d.logger.Error("Error shutting down engine", "error", err)
		}
	}

	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.logger.Error("Error closing database", "error", err)
		}
	}

	if d.pidFile != "" {
		if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
			d.logger.Error("Error removing PID file", "error", err)
		}
	}

	d.logger.Info("Cleanup completed")
}

// IsRunning reports whether the daemon has not begun shutting down.
func (d *Daemon) IsRunning() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
		return true
	}
}

// Engine exposes the scan engine, mainly for tests.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// Scheduler exposes the scheduler, mainly for tests.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.scheduler }
