package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/ManuelReschke/MarktBoost/internal/pkg/entitlements"
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics manages Prometheus instrumentation for entitlement operations
// and the reconciliation sweep.
type EngineMetrics struct {
	operations        *prometheus.CounterVec
	reconcileRuns     *prometheus.CounterVec
	reconcileChanges  *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
}

var (
	engineMetricsInstance *EngineMetrics
	engineMetricsOnce     sync.Once
)

// GetEngineMetrics returns the singleton engine metrics instance.
func GetEngineMetrics() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineMetricsInstance = newEngineMetrics(prometheus.DefaultRegisterer)
	})
	return engineMetricsInstance
}

// NewEngineMetrics registers a fresh set of collectors on reg.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	return newEngineMetrics(reg)
}

func newEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marktboost",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total entitlement operations by result",
			},
			[]string{"operation", "result"},
		),
		reconcileRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marktboost",
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Total reconciliation sweeps by result",
			},
			[]string{"result"},
		),
		reconcileChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marktboost",
				Subsystem: "reconcile",
				Name:      "transitions_total",
				Help:      "Total state transitions applied by the sweep",
			},
			[]string{"kind"},
		),
		reconcileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "marktboost",
				Subsystem: "reconcile",
				Name:      "duration_seconds",
				Help:      "Duration of reconciliation sweeps",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
	}

	reg.MustRegister(
		m.operations,
		m.reconcileRuns,
		m.reconcileChanges,
		m.reconcileDuration,
	)

	return m
}

// Result labels an operation outcome by the error it produced.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, entitlements.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, entitlements.ErrInsufficientCredits):
		return "insufficient_credits"
	case entitlements.IsEntitlementError(err):
		return "not_entitled"
	case errors.Is(err, entitlements.ErrAlreadyAssigned), errors.Is(err, entitlements.ErrNotAssigned):
		return "assignment"
	case errors.Is(err, entitlements.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, entitlements.ErrNotFound):
		return "not_found"
	case errors.Is(err, entitlements.ErrInvalidInput), errors.Is(err, entitlements.ErrInvalidTransition):
		return "invalid"
	default:
		return "error"
	}
}

// RecordOperation records one engine operation. A nil receiver is a no-op.
func (m *EngineMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, Result(err)).Inc()
}

// RecordReconcileRun records a finished sweep.
func (m *EngineMetrics) RecordReconcileRun(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(result).Inc()
	m.reconcileDuration.Observe(took.Seconds())
}

// RecordTransitions adds n sweep transitions of kind.
func (m *EngineMetrics) RecordTransitions(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconcileChanges.WithLabelValues(kind).Add(float64(n))
}
