package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/recondor/internal/config"
	"github.com/anstrom/recondor/internal/engine"
	"github.com/anstrom/recondor/internal/orchestrator"
	"github.com/anstrom/recondor/internal/osint"
)

type stubModule struct {
	delay time.Duration
}

func (m *stubModule) Name() string              { return "stub" }
func (m *stubModule) Phase() orchestrator.Phase { return orchestrator.PhaseDiscovery }
func (m *stubModule) Priority() int             { return 0 }
func (m *stubModule) DependsOn() []string       { return nil }

func (m *stubModule) Run(ctx context.Context, target osint.Target) ([]osint.Event, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []osint.Event{osint.NewEvent(osint.EventIPAddress, "192.0.2.1", target.Value, "stub")}, nil
}

func newTestScheduler(t *testing.T, moduleDelay time.Duration) *Scheduler {
	t.Helper()
	registry := osint.NewRegistry()
	registry.Register(&stubModule{delay: moduleDelay})

	cfg := config.Default()
	cfg.Scanning.WorkerPoolSize = 2
	cfg.Scanning.MaxScanTimeout = 5 * time.Second
	cfg.Scanning.RateLimit.Enabled = false
	cfg.Daemon.ShutdownTimeout = time.Second

	eng := engine.New(cfg, registry, nil)
	eng.Start()
	t.Cleanup(func() { _ = eng.Shutdown() })

	s := New(eng)
	t.Cleanup(s.Stop)
	return s
}

func TestAddSchedule(t *testing.T) {
	s := newTestScheduler(t, 0)

	sched, err := s.Add("nightly", "0 2 * * *", "example.com", []string{"stub"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, sched.ID)
	assert.True(t, sched.Enabled)
	assert.False(t, sched.NextRun.IsZero())

	got, ok := s.Get(sched.ID)
	require.True(t, ok)
	assert.Equal(t, "nightly", got.Name)
	assert.Equal(t, "example.com", got.Target)
	assert.Len(t, s.List(), 1)
}

func TestAddScheduleValidation(t *testing.T) {
	s := newTestScheduler(t, 0)

	t.Run("bad cron expression", func(t *testing.T) {
		_, err := s.Add("bad", "not a cron expr", "example.com", nil)
		assert.Error(t, err)
	})

	t.Run("missing target", func(t *testing.T) {
		_, err := s.Add("bad", "* * * * *", "", nil)
		assert.Error(t, err)
	})
}

func TestRemoveSchedule(t *testing.T) {
	s := newTestScheduler(t, 0)

	sched, err := s.Add("weekly", "0 3 * * 0", "example.com", nil)
	require.NoError(t, err)

	require.NoError(t, s.Remove(sched.ID))
	_, ok := s.Get(sched.ID)
	assert.False(t, ok)
	assert.Error(t, s.Remove(sched.ID), "double remove fails")
}

func TestEnableDisable(t *testing.T) {
	s := newTestScheduler(t, 0)

	sched, err := s.Add("toggled", "* * * * *", "example.com", nil)
	require.NoError(t, err)

	require.NoError(t, s.Disable(sched.ID))
	got, _ := s.Get(sched.ID)
	assert.False(t, got.Enabled)

	// Disabled schedules skip execution entirely.
	_, ran := s.beginRun(sched.ID)
	assert.False(t, ran)

	require.NoError(t, s.Enable(sched.ID))
	got, _ = s.Get(sched.ID)
	assert.True(t, got.Enabled)

	assert.Error(t, s.Enable(uuid.New()))
	assert.Error(t, s.Disable(uuid.New()))
}

func TestRunNow(t *testing.T) {
	s := newTestScheduler(t, 0)

	sched, err := s.Add("adhoc", "0 0 1 1 *", "example.com", []string{"stub"})
	require.NoError(t, err)

	require.NoError(t, s.RunNow(sched.ID))

	require.Eventually(t, func() bool {
		got, _ := s.Get(sched.ID)
		return got.RunCount == 1 && got.LastScanID != uuid.Nil
	}, 5*time.Second, 20*time.Millisecond)

	got, _ := s.Get(sched.ID)
	scan, ok := s.engine.GetScan(got.LastScanID)
	require.True(t, ok)
	select {
	case <-scan.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled scan did not finish")
	}
	assert.False(t, got.LastRun.IsZero())
}

func TestRunNowUnknownSchedule(t *testing.T) {
	s := newTestScheduler(t, 0)
	assert.Error(t, s.RunNow(uuid.New()))
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	s := newTestScheduler(t, 0)

	sched, err := s.Add("overlap", "* * * * *", "example.com", nil)
	require.NoError(t, err)

	_, ok := s.beginRun(sched.ID)
	require.True(t, ok)

	// A second trigger while the first is in flight is dropped.
	_, ok = s.beginRun(sched.ID)
	assert.False(t, ok)

	s.endRun(sched.ID)
	_, ok = s.beginRun(sched.ID)
	assert.True(t, ok)
	s.endRun(sched.ID)

	got, _ := s.Get(sched.ID)
	assert.Equal(t, int64(2), got.RunCount)
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t, 0)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "double start fails")

	s.Stop()
	s.Stop() // idempotent

	require.NoError(t, s.Start())
}
