package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Metrics provides Prometheus metrics for pakmux.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operationsStarted   *prometheus.CounterVec
	operationsCompleted *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec

	// Backend metrics
	backendInvocations *prometheus.CounterVec
	backendDuration    *prometheus.HistogramVec

	// Transaction metrics
	rollbackEffects  *prometheus.CounterVec
	recoveryAttempts *prometheus.CounterVec

	// Lock metrics
	lockWaitSeconds prometheus.Histogram

	// Resolver metrics
	resolutionsBySource *prometheus.CounterVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	activeOperations prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		operationsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_started_total",
				Help:      "Total number of operations started",
			},
			[]string{"operation"},
		),
		operationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_completed_total",
				Help:      "Total number of operations completed",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "status"},
		),

		backendInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_invocations_total",
				Help:      "Total number of backend invocations",
			},
			[]string{"backend", "outcome"},
		),
		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_invocation_duration_seconds",
				Help:      "Duration of backend invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"backend"},
		),

		rollbackEffects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollback_effects_total",
				Help:      "Total number of effect inversions during rollback",
			},
			[]string{"effect", "result"},
		),
		recoveryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recovery_attempts_total",
				Help:      "Total number of error recovery attempts",
			},
			[]string{"backend", "result"},
		),

		lockWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for the process lock in seconds",
				Buckets:   buckets,
			},
		),

		resolutionsBySource: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "version_resolutions_total",
				Help:      "Total number of version resolutions by source",
			},
			[]string{"language", "source"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by kind",
			},
			[]string{"kind"},
		),

		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Current number of active operations",
			},
		),
	}

	registry.MustRegister(
		m.operationsStarted,
		m.operationsCompleted,
		m.operationDuration,
		m.backendInvocations,
		m.backendDuration,
		m.rollbackEffects,
		m.recoveryAttempts,
		m.lockWaitSeconds,
		m.resolutionsBySource,
		m.errorsByKind,
		m.activeOperations,
	)

	return m, nil
}

// RecordOperationStarted increments the counter for started operations.
func (m *Metrics) RecordOperationStarted(operation string) {
	if m.operationsStarted == nil {
		return
	}
	m.operationsStarted.WithLabelValues(operation).Inc()
	m.activeOperations.Inc()
}

// RecordOperationCompleted records a completed operation with its status and duration.
func (m *Metrics) RecordOperationCompleted(operation, status string, duration time.Duration) {
	if m.operationsCompleted == nil {
		return
	}
	m.operationsCompleted.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	m.activeOperations.Dec()
}

// RecordBackendInvocation records one backend invocation with its outcome.
func (m *Metrics) RecordBackendInvocation(backend, outcome string, duration time.Duration) {
	if m.backendInvocations == nil {
		return
	}
	m.backendInvocations.WithLabelValues(backend, outcome).Inc()
	m.backendDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordRollbackEffect records one effect inversion attempt during rollback.
func (m *Metrics) RecordRollbackEffect(effect, result string) {
	if m.rollbackEffects == nil {
		return
	}
	m.rollbackEffects.WithLabelValues(effect, result).Inc()
}

// RecordRecoveryAttempt records an error recovery attempt.
func (m *Metrics) RecordRecoveryAttempt(backend, result string) {
	if m.recoveryAttempts == nil {
		return
	}
	m.recoveryAttempts.WithLabelValues(backend, result).Inc()
}

// RecordLockWait records time spent waiting for the process lock.
func (m *Metrics) RecordLockWait(duration time.Duration) {
	if m.lockWaitSeconds == nil {
		return
	}
	m.lockWaitSeconds.Observe(duration.Seconds())
}

// RecordResolution records a version resolution by its source level.
func (m *Metrics) RecordResolution(language, source string) {
	if m.resolutionsBySource == nil {
		return
	}
	m.resolutionsBySource.WithLabelValues(language, source).Inc()
}

// RecordError records an error by kind.
func (m *Metrics) RecordError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Gather collects the current metric families from the registry.
// Used by diagnostics surfaces to dump counters without an HTTP listener.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	if m.registry == nil {
		return nil, nil
	}
	return m.registry.Gather()
}
