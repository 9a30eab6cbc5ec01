package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounter(t *testing.T) {
	r := NewRegistry()

	r.Counter("scans_total", Labels{"state": "COMPLETED"})
	r.Counter("scans_total", Labels{"state": "COMPLETED"})
	r.Counter("scans_total", Labels{"state": "FAILED"})

	metrics := r.GetMetrics()
	require.Len(t, metrics, 2)

	var completed, failed float64
	for _, m := range metrics {
		assert.Equal(t, TypeCounter, m.Type)
		switch m.Labels["state"] {
		case "COMPLETED":
			completed = m.Value
		case "FAILED":
			failed = m.Value
		}
	}
	assert.Equal(t, 2.0, completed)
	assert.Equal(t, 1.0, failed)
}

func TestRegistryCounterAdd(t *testing.T) {
	r := NewRegistry()

	r.CounterAdd("events_produced_total", 5, Labels{"module": "dns"})
	r.CounterAdd("events_produced_total", 7, Labels{"module": "dns"})

	for _, m := range r.GetMetrics() {
		assert.Equal(t, 12.0, m.Value)
	}
}

func TestRegistryGauge(t *testing.T) {
	r := NewRegistry()

	r.Gauge("scans_active", 3, nil)
	r.Gauge("scans_active", 1, nil)

	metrics := r.GetMetrics()
	require.Len(t, metrics, 1)
	for _, m := range metrics {
		assert.Equal(t, TypeGauge, m.Type)
		assert.Equal(t, 1.0, m.Value, "gauge keeps last value")
	}
}

func TestRegistryDisabled(t *testing.T) {
	r := NewRegistry()
	r.SetEnabled(false)

	r.Counter("ignored", nil)
	r.Gauge("ignored_gauge", 1, nil)
	r.Histogram("ignored_histogram", 1, nil)

	assert.Empty(t, r.GetMetrics())
	assert.False(t, r.IsEnabled())
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	r.Counter("scans_total", Labels{"state": "FAILED"})

	snapshot := r.GetMetrics()
	for _, m := range snapshot {
		m.Value = 999
		m.Labels["state"] = "TAMPERED"
	}

	for _, m := range r.GetMetrics() {
		assert.Equal(t, 1.0, m.Value)
		assert.Equal(t, "FAILED", m.Labels["state"])
	}
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry()
	r.Counter("a", nil)
	r.Gauge("b", 2, nil)

	r.Reset()
	assert.Empty(t, r.GetMetrics())
}

func TestRegistryConcurrentUpdates(t *testing.T) {
	r := NewRegistry()

	const workers = 16
	const perWorker = 100
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				r.Counter("module_runs_total", Labels{"module": "dns"})
			}
		}()
	}
	wg.Wait()

	for _, m := range r.GetMetrics() {
		assert.Equal(t, float64(workers*perWorker), m.Value, "no lost counter updates")
	}
}

func TestTimer(t *testing.T) {
	original := Default()
	defer SetDefault(original)
	SetDefault(NewRegistry())

	timer := NewTimer("module_duration_seconds", Labels{"module": "whois"})
	time.Sleep(5 * time.Millisecond)
	timer.Stop()

	metrics := GetMetrics()
	require.Len(t, metrics, 1)
	for _, m := range metrics {
		assert.Equal(t, TypeHistogram, m.Type)
		assert.Greater(t, m.Value, 0.0)
	}
}

func TestHelperRecorders(t *testing.T) {
	original := Default()
	defer SetDefault(original)
	SetDefault(NewRegistry())

	RecordStateTransition("RUNNING", "COMPLETED")
	RecordPhaseChange("DISCOVERY")
	RecordModuleRun("dns", "success", 250*time.Millisecond)
	RecordEventsProduced("dns", 9)
	RecordDatabaseQuery("create_scan", 3*time.Millisecond, true)

	names := make(map[string]bool)
	for _, m := range GetMetrics() {
		names[m.Name] = true
	}
	for _, want := range []string{
		MetricScanTransitions, MetricScanPhaseChanges, MetricModuleRuns,
		MetricModuleDuration, MetricEventsProduced,
		MetricDatabaseQueries, MetricDatabaseDuration,
	} {
		assert.True(t, names[want], "expected metric %s to be recorded", want)
	}
}

func TestPrometheusMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.ScanFinished("COMPLETED", 42*time.Second)
	pm.StateTransition("RUNNING", "COMPLETED")
	pm.PhaseChange("DISCOVERY")
	pm.SetActiveScans(2)
	pm.ModuleRun("dns", "success", time.Second)
	pm.ModuleRun("whois", "error", time.Second)
	pm.EventsProduced("dns", 15)
	pm.DatabaseQuery("create_scan", time.Millisecond, true)
	pm.HTTPRequest("GET", "/api/v1/scans", "200", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(pm.scansTotal.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.stateTransitions.WithLabelValues("RUNNING", "COMPLETED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(pm.activeScans))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.moduleErrors.WithLabelValues("whois")))
	assert.Equal(t, 15.0, testutil.ToFloat64(pm.eventsProduced.WithLabelValues("dns")))

	require.NotNil(t, pm.Handler())
	assert.Greater(t, pm.Uptime(), time.Duration(0))
}
