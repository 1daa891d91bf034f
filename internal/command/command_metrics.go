package command

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts chat commands by name and outcome.
type Metrics struct {
	CommandsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns command metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dupwatch_commands_total",
			Help: "Operator chat commands by command and outcome (ok, forbidden, error).",
		}, []string{"command", "outcome"}),
	}
	reg.MustRegister(m.CommandsTotal)
	return m
}

func (m *Metrics) command(name, outcome string) {
	if m == nil {
		return
	}
	switch name {
	case "/reply", "/pending", "/stats", "/help", "/start":
	default:
		name = "unknown"
	}
	m.CommandsTotal.WithLabelValues(name, outcome).Inc()
}
