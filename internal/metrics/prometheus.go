package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all recondor metrics.
	namespace = "recondor"

	// Subsystems.
	subsystemScan     = "scan"
	subsystemModule   = "module"
	subsystemDatabase = "database"
	subsystemAPI      = "api"
)

// PrometheusMetrics holds the Prometheus collectors exposed on /metrics.
type PrometheusMetrics struct {
	// Scan lifecycle metrics.
	scansTotal       *prometheus.CounterVec
	scanDuration     *prometheus.HistogramVec
	stateTransitions *prometheus.CounterVec
	phaseChanges     *prometheus.CounterVec
	activeScans      prometheus.Gauge

	// Module metrics.
	moduleRuns     *prometheus.CounterVec
	moduleDuration *prometheus.HistogramVec
	moduleErrors   *prometheus.CounterVec
	eventsProduced *prometheus.CounterVec

	// Database metrics.
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	// API metrics.
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	startTime time.Time
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a Prometheus metrics instance with all
// collectors registered, including the standard Go and process collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of scans by terminal state",
		},
		[]string{"state"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of scans in seconds",
			Buckets:   []float64{1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0, 1800.0, 3600.0},
		},
		[]string{"state"},
	)

	pm.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "state_transitions_total",
			Help:      "Total number of scan state transitions",
		},
		[]string{"from", "to"},
	)

	pm.phaseChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "phase_changes_total",
			Help:      "Total number of scan phase changes",
		},
		[]string{"phase"},
	)

	pm.activeScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "active",
			Help:      "Number of currently active scans",
		},
	)

	pm.moduleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemModule,
			Name:      "runs_total",
			Help:      "Total number of module executions by module and status",
		},
		[]string{"module", "status"},
	)

	pm.moduleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemModule,
			Name:      "duration_seconds",
			Help:      "Duration of module executions in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"module"},
	)

	pm.moduleErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemModule,
			Name:      "errors_total",
			Help:      "Total number of module errors by module",
		},
		[]string{"module"},
	)

	pm.eventsProduced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemModule,
			Name:      "events_produced_total",
			Help:      "Total number of events produced by modules",
		},
		[]string{"module"},
	)

	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path and code",
		},
		[]string{"method", "path", "code"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	registry.MustRegister(
		pm.scansTotal, pm.scanDuration, pm.stateTransitions, pm.phaseChanges,
		pm.activeScans, pm.moduleRuns, pm.moduleDuration, pm.moduleErrors,
		pm.eventsProduced, pm.dbQueries, pm.dbQueryDuration,
		pm.httpRequests, pm.httpDuration,
	)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// Handler returns the HTTP handler for the /metrics endpoint.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying Prometheus registry, mainly for tests.
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// ScanFinished records a scan reaching a terminal state.
func (pm *PrometheusMetrics) ScanFinished(state string, duration time.Duration) {
	pm.scansTotal.WithLabelValues(state).Inc()
	pm.scanDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// StateTransition records one scan state transition.
func (pm *PrometheusMetrics) StateTransition(from, to string) {
	pm.stateTransitions.WithLabelValues(from, to).Inc()
}

// PhaseChange records entry into a scan phase.
func (pm *PrometheusMetrics) PhaseChange(phase string) {
	pm.phaseChanges.WithLabelValues(phase).Inc()
}

// SetActiveScans sets the number of currently active scans.
func (pm *PrometheusMetrics) SetActiveScans(n int) {
	pm.activeScans.Set(float64(n))
}

// ModuleRun records the outcome and duration of one module execution.
func (pm *PrometheusMetrics) ModuleRun(module, status string, duration time.Duration) {
	pm.moduleRuns.WithLabelValues(module, status).Inc()
	pm.moduleDuration.WithLabelValues(module).Observe(duration.Seconds())
	if status == "error" {
		pm.moduleErrors.WithLabelValues(module).Inc()
	}
}

// EventsProduced adds the number of events a module produced.
func (pm *PrometheusMetrics) EventsProduced(module string, count int) {
	pm.eventsProduced.WithLabelValues(module).Add(float64(count))
}

// DatabaseQuery records one database query.
func (pm *PrometheusMetrics) DatabaseQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	pm.dbQueries.WithLabelValues(operation, status).Inc()
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// HTTPRequest records one HTTP request.
func (pm *PrometheusMetrics) HTTPRequest(method, path, code string, duration time.Duration) {
	pm.httpRequests.WithLabelValues(method, path, code).Inc()
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Uptime returns how long this metrics instance has existed.
func (pm *PrometheusMetrics) Uptime() time.Duration {
	return time.Since(pm.startTime)
}
