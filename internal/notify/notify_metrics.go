package notify

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts summary sends by target and outcome.
type Metrics struct {
	SendsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns notify metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupwatch_notify_sends_total",
			Help: "Alert summary sends by target (recipient or sink name) and outcome.",
		}, []string{"target", "outcome"}),
	}
	reg.MustRegister(m.SendsTotal)
	return m
}

func (m *Metrics) send(target string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SendsTotal.WithLabelValues(target, outcome).Inc()
}
