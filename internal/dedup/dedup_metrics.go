package dedup

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for duplicate detection.
type Metrics struct {
	EvaluationsTotal *prometheus.CounterVec
	PrunedTotal      prometheus.Counter
	PruneErrorsTotal prometheus.Counter
}

// NewMetrics registers and returns dedup metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupwatch_dedup_evaluations_total",
			Help: "Message evaluations by verdict.",
		}, []string{"verdict"}),
		PrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dupwatch_dedup_pruned_records_total",
			Help: "Message records removed by pruning.",
		}),
		PruneErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dupwatch_dedup_prune_errors_total",
			Help: "Failed prune statements.",
		}),
	}
	reg.MustRegister(m.EvaluationsTotal, m.PrunedTotal, m.PruneErrorsTotal)
	return m
}

// Hooks returns engine hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnVerdict: func(kind string) {
			m.EvaluationsTotal.WithLabelValues(kind).Inc()
		},
		OnPrune: func(deleted int64, err error) {
			if err != nil {
				m.PruneErrorsTotal.Inc()
				return
			}
			m.PrunedTotal.Add(float64(deleted))
		},
	}
}
