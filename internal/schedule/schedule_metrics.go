package schedule

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds per-loop cycle metrics.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns loop metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupwatch_loop_cycles_total",
			Help: "Loop cycles by loop and outcome.",
		}, []string{"loop", "outcome"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dupwatch_loop_cycle_duration_seconds",
			Help:    "Duration of loop cycles.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"loop"}),
	}
	reg.MustRegister(m.CyclesTotal, m.CycleDuration)
	return m
}

func (m *Metrics) observe(loop string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CyclesTotal.WithLabelValues(loop, outcome).Inc()
	m.CycleDuration.WithLabelValues(loop).Observe(d.Seconds())
}
