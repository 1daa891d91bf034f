package delivery

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts delivery attempts by outcome.
type Metrics struct {
	AttemptsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns delivery metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupwatch_delivery_attempts_total",
			Help: "Reply delivery attempts by outcome (delivered, held, or the send failure reason).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.AttemptsTotal)
	return m
}

func (m *Metrics) outcome(o string) {
	if m == nil {
		return
	}
	if o == "" {
		o = "error"
	}
	m.AttemptsTotal.WithLabelValues(o).Inc()
}
