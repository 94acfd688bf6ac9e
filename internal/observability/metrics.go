package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors exported by the pipeline.
type Metrics struct {
	PolicyDecisions   *prometheus.CounterVec
	AuditWrites       *prometheus.CounterVec
	RedactionFindings *prometheus.CounterVec
	SubagentTasks     *prometheus.CounterVec
	SubagentDuration  *prometheus.HistogramVec
	RetentionDeleted  *prometheus.CounterVec
	BusEventsDropped  *prometheus.CounterVec
	PendingApprovals  prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg gets a private
// registry so tests and CLIs can build one without touching global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		PolicyDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_policy_decisions_total",
			Help: "Policy evaluations by outcome and deciding rule.",
		}, []string{"phase", "outcome", "rule"}),

		AuditWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_audit_writes_total",
			Help: "Audit entry writes by result.",
		}, []string{"status"}),

		RedactionFindings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_redaction_findings_total",
			Help: "Sensitive values replaced, by pattern name.",
		}, []string{"type"}),

		SubagentTasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_subagent_tasks_total",
			Help: "Subagent tasks finished, by agent type and status.",
		}, []string{"agent", "status"}),

		SubagentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "governance_subagent_duration_seconds",
			Help:    "Wall time of subagent tasks.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"agent"}),

		RetentionDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_retention_deleted_total",
			Help: "Rows removed by retention sweeps.",
		}, []string{"table"}),

		BusEventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "governance_bus_events_dropped_total",
			Help: "Events dropped because a subscriber or queue was full.",
		}, []string{"consumer"}),

		PendingApprovals: f.NewGauge(prometheus.GaugeOpts{
			Name: "governance_pending_approvals",
			Help: "Permission requests waiting for a reply.",
		}),
	}
}
