package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the enforcement loop
type Metrics struct {
	// CyclesTotal counts completed enforcement cycles by result
	// (ok, partial, error)
	CyclesTotal *prometheus.CounterVec

	// CycleDuration observes wall-clock time per cycle
	CycleDuration prometheus.Histogram

	// PoliciesEvaluated counts policies the evaluator inspected
	PoliciesEvaluated prometheus.Counter

	// BreachesCreated counts new breach records
	BreachesCreated prometheus.Counter

	// InterventionsTotal counts executor outcomes by action and result
	InterventionsTotal *prometheus.CounterVec

	// MetricSourceErrors counts per-policy metric source failures
	MetricSourceErrors prometheus.Counter

	// NotificationsTotal counts dispatch outcomes by dispatcher and result
	NotificationsTotal *prometheus.CounterVec
}

// NewMetrics creates the enforcement metric collectors. A nil registerer
// gets a private throwaway registry so callers that do not scrape (tests,
// one-off tools) need no wiring.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		CyclesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "enforcer_cycles_total",
			Help: "Total number of enforcement cycles by result.",
		}, []string{"result"}),

		CycleDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "enforcer_cycle_duration_seconds",
			Help:    "Histogram of enforcement cycle durations.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 45, 60},
		}),

		PoliciesEvaluated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "enforcer_policies_evaluated_total",
			Help: "Total number of enabled policies evaluated.",
		}),

		BreachesCreated: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "enforcer_breaches_created_total",
			Help: "Total number of breach records created.",
		}),

		InterventionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "enforcer_interventions_total",
			Help: "Total number of intervention attempts by action and result.",
		}, []string{"action", "result"}),

		MetricSourceErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "enforcer_metric_source_errors_total",
			Help: "Total number of metric source read failures.",
		}),

		NotificationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "enforcer_notifications_total",
			Help: "Total number of notification dispatch attempts by dispatcher and result.",
		}, []string{"dispatcher", "result"}),
	}
}
