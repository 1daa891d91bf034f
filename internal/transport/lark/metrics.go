package lark

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/dupwatch/internal/transport"
)

// Metrics counts outbound calls by operation and outcome.
type Metrics struct {
	sends    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the sender metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupwatch_lark_sends_total",
			Help: "Outbound Lark API calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dupwatch_lark_send_duration_seconds",
			Help:    "Latency of outbound Lark API calls, including pacing.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"op"}),
	}
	reg.MustRegister(m.sends, m.duration)
	return m
}

func (m *Metrics) observe(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(transport.ReasonOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	m.sends.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}
