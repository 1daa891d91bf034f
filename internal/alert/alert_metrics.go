package alert

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the alert lifecycle.
type Metrics struct {
	CreatedTotal     *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns alert metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupwatch_alerts_created_total",
			Help: "Alert create calls by result (created or existing).",
		}, []string{"result"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupwatch_alert_transitions_total",
			Help: "Alert transition attempts by target status and outcome.",
		}, []string{"to", "outcome"}),
	}
	reg.MustRegister(m.CreatedTotal, m.TransitionsTotal)
	return m
}

// Hooks returns Queue hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnCreate: func(created bool) {
			result := "existing"
			if created {
				result = "created"
			}
			m.CreatedTotal.WithLabelValues(result).Inc()
		},
		OnTransition: func(to Status, outcome string) {
			m.TransitionsTotal.WithLabelValues(string(to), outcome).Inc()
		},
	}
}
