// Package metrics provides monitoring and metrics collection for recondor.
// It keeps a lightweight in-process registry used throughout the codebase,
// plus a Prometheus bridge for exposition to scrapers.
package metrics

import (
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Labels    Labels
	Timestamp time.Time
}

// Registry holds all metrics and provides collection functionality.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	enabled bool
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		enabled: true,
	}
}

// SetEnabled enables or disables metrics collection.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	r.CounterAdd(name, 1, labels)
}

// CounterAdd adds a delta to a counter metric.
func (r *Registry) CounterAdd(name string, delta float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value += delta
		metric.Timestamp = time.Now()
		return
	}
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeCounter,
		Value:     delta,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.metrics[makeKey(name, labels)] = &Metric{
		Name:      name,
		Type:      TypeGauge,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Histogram records a value in a histogram metric. The in-process registry
// tracks only the last observation; bucketing happens in the Prometheus
// bridge.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value = value
		metric.Timestamp = time.Now()
		return
	}
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeHistogram,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for key, metric := range r.metrics {
		result[key] = &Metric{
			Name:      metric.Name,
			Type:      metric.Type,
			Value:     metric.Value,
			Labels:    copyLabels(metric.Labels),
			Timestamp: metric.Timestamp,
		}
	}
	return result
}

// Reset clears all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// makeKey creates a unique key for a metric based on name and labels.
func makeKey(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	key := name
	for k, v := range labels {
		key += ":" + k + "=" + v
	}
	return key
}

// copyLabels creates a copy of a labels map.
func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	result := make(Labels, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// Global registry instance.
var defaultRegistry = NewRegistry()

// SetDefault sets the default metrics registry.
func SetDefault(registry *Registry) {
	defaultRegistry = registry
}

// Default returns the default metrics registry.
func Default() *Registry {
	return defaultRegistry
}

// Counter increments a counter metric on the default registry.
func Counter(name string, labels Labels) {
	defaultRegistry.Counter(name, labels)
}

// CounterAdd adds a delta to a counter on the default registry.
func CounterAdd(name string, delta float64, labels Labels) {
	defaultRegistry.CounterAdd(name, delta, labels)
}

// Gauge sets a gauge metric on the default registry.
func Gauge(name string, value float64, labels Labels) {
	defaultRegistry.Gauge(name, value, labels)
}

// Histogram records a histogram value on the default registry.
func Histogram(name string, value float64, labels Labels) {
	defaultRegistry.Histogram(name, value, labels)
}

// GetMetrics returns all metrics from the default registry.
func GetMetrics() map[string]*Metric {
	return defaultRegistry.GetMetrics()
}

// Reset clears all metrics from the default registry.
func Reset() {
	defaultRegistry.Reset()
}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start  time.Time
	name   string
	labels Labels
}

// NewTimer creates a new timer for measuring execution time.
func NewTimer(name string, labels Labels) *Timer {
	return &Timer{
		start:  time.Now(),
		name:   name,
		labels: labels,
	}
}

// Stop stops the timer and records the duration as a histogram.
func (t *Timer) Stop() {
	Histogram(t.name, time.Since(t.start).Seconds(), t.labels)
}

// Predefined metric names for common operations.
const (
	// Scan lifecycle metrics.
	MetricScansTotal       = "scans_total"
	MetricScanDuration     = "scan_duration_seconds"
	MetricScanTransitions  = "scan_state_transitions_total"
	MetricScanPhaseChanges = "scan_phase_changes_total"
	MetricActiveScans      = "scans_active"

	// Module metrics.
	MetricModuleRuns     = "module_runs_total"
	MetricModuleDuration = "module_duration_seconds"
	MetricModuleErrors   = "module_errors_total"
	MetricEventsProduced = "events_produced_total"

	// Database metrics.
	MetricDatabaseQueries  = "database_queries_total"
	MetricDatabaseErrors   = "database_errors_total"
	MetricDatabaseDuration = "database_query_duration_seconds"

	// Scheduler metrics.
	MetricScheduledRunsTotal = "scheduled_runs_total"
)

// Common label keys.
const (
	LabelModule    = "module"
	LabelPhase     = "phase"
	LabelStatus    = "status"
	LabelState     = "state"
	LabelOperation = "operation"
	LabelComponent = "component"
)

// RecordStateTransition records one scan state transition.
func RecordStateTransition(from, to string) {
	Counter(MetricScanTransitions, Labels{"from": from, "to": to})
}

// RecordPhaseChange records one scan phase change.
func RecordPhaseChange(phase string) {
	Counter(MetricScanPhaseChanges, Labels{LabelPhase: phase})
}

// RecordModuleRun records the outcome and duration of one module execution.
func RecordModuleRun(module, status string, duration time.Duration) {
	Counter(MetricModuleRuns, Labels{LabelModule: module, LabelStatus: status})
	Histogram(MetricModuleDuration, duration.Seconds(), Labels{LabelModule: module})
}

// RecordEventsProduced adds the number of events a module produced.
func RecordEventsProduced(module string, count int) {
	CounterAdd(MetricEventsProduced, float64(count), Labels{LabelModule: module})
}

// RecordDatabaseQuery records database query metrics.
func RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	Counter(MetricDatabaseQueries, Labels{LabelOperation: operation, LabelStatus: status})
	Histogram(MetricDatabaseDuration, duration.Seconds(), Labels{LabelOperation: operation})
}
