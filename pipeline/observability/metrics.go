// Package observability provides Prometheus metrics instrumentation for the pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_stage_executions_total",
			Help: "Total number of pipeline stage executions",
		},
		[]string{"stage", "status"}, // status: success, error, escalated, noop
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apex_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)
)

// =============================================================================
// COMPLETION METRICS
// =============================================================================

var (
	completionCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_completion_calls_total",
			Help: "Total number of completion service calls",
		},
		[]string{"agent", "model", "status"}, // status: success, error
	)

	completionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apex_completion_duration_seconds",
			Help:    "Completion call duration in seconds, retries included",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent", "model"},
	)

	completionCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_completion_cost_usd_total",
			Help: "Accumulated completion cost in USD",
		},
		[]string{"agent"},
	)
)

// =============================================================================
// AUDIT & ESCALATION METRICS
// =============================================================================

var (
	auditRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apex_audit_runs_total",
			Help: "Total number of audit run executions",
		},
		[]string{"status"}, // status: completed, stage_failed
	)

	auditRunDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "apex_audit_run_duration_seconds",
			Help:    "Audit run duration in seconds",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		},
	)

	escalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apex_escalations_total",
			Help: "Total number of deliverables escalated for human review",
		},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordStageExecution records stage execution metrics.
// This should be called after a stage handler completes.
func RecordStageExecution(stage string, status string, durationMS int) {
	stageExecutionsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
}

// RecordCompletionCall records completion call metrics.
// Cost is only counted for successful calls.
func RecordCompletionCall(agent string, model string, status string, durationMS int, cost float64) {
	completionCallsTotal.WithLabelValues(agent, model, status).Inc()
	completionDurationSeconds.WithLabelValues(agent, model).Observe(float64(durationMS) / 1000.0)
	if cost > 0 {
		completionCostUSD.WithLabelValues(agent).Add(cost)
	}
}

// RecordAuditRun records audit run metrics.
func RecordAuditRun(status string, durationMS int) {
	auditRunsTotal.WithLabelValues(status).Inc()
	auditRunDurationSeconds.Observe(float64(durationMS) / 1000.0)
}

// RecordEscalation records a deliverable escalation.
func RecordEscalation() {
	escalationsTotal.Inc()
}
