// Package observability provides Prometheus metrics instrumentation for
// the repair engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// RUN METRICS
// =============================================================================

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repairgov_runs_total",
			Help: "Total number of governor runs",
		},
		[]string{"action"}, // action: promote, success, rollback, stop
	)

	runDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repairgov_run_duration_seconds",
			Help:    "Governor run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"action"},
	)
)

// =============================================================================
// ATTEMPT METRICS
// =============================================================================

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repairgov_attempts_total",
			Help: "Total number of judged attempts",
		},
		[]string{"trend"}, // trend: improving, stagnant, regressing, unknown
	)

	attemptConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "repairgov_attempt_confidence",
			Help:    "Smoothed confidence observed per attempt",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 0.9, 0.95, 1},
		},
	)
)

// =============================================================================
// GUARD METRICS
// =============================================================================

var (
	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repairgov_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"to_state"}, // to_state: open, half_open, closed
	)

	cascadeExceededTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "repairgov_cascade_exceeded_total",
			Help: "Runs terminated by the cascade depth guard",
		},
	)
)

// =============================================================================
// STORE METRICS
// =============================================================================

var (
	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repairgov_store_operations_total",
			Help: "Envelope store operations",
		},
		[]string{"operation", "status"}, // operation: put, get, list; status: success, error
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordRun records a completed governor run.
func RecordRun(action string, durationMS int) {
	runsTotal.WithLabelValues(action).Inc()
	runDurationSeconds.WithLabelValues(action).Observe(float64(durationMS) / 1000.0)
}

// RecordAttempt records one judged attempt.
func RecordAttempt(trend string, confidence float64) {
	attemptsTotal.WithLabelValues(trend).Inc()
	attemptConfidence.Observe(confidence)
}

// RecordBreakerTransition records a breaker state change.
func RecordBreakerTransition(toState string) {
	breakerTransitionsTotal.WithLabelValues(toState).Inc()
}

// RecordCascadeExceeded records a run terminated by cascade depth.
func RecordCascadeExceeded() {
	cascadeExceededTotal.Inc()
}

// RecordStoreOperation records an envelope store operation.
func RecordStoreOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	storeOperationsTotal.WithLabelValues(operation, status).Inc()
}
