package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts feed events by outcome.
type Metrics struct {
	EventsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns ingest metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupwatch_ingest_events_total",
			Help: "Feed events by outcome (ok, duplicate, unwatched, command, error).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.EventsTotal)
	return m
}

func (m *Metrics) event(outcome string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(outcome).Inc()
}
