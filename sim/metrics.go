package sim

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the run counters, exposed on the optional metrics
// endpoint of the CLI.
type Metrics struct {
	Steps            prometheus.Counter
	SolverIterations prometheus.Counter
	Constraints      prometheus.Gauge
}

// NewMetrics builds the counters and registers them when reg is not
// nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sylsim_steps_total",
			Help: "Completed timesteps.",
		}),
		SolverIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sylsim_solver_iterations_total",
			Help: "Constraint solver iterations across all steps.",
		}),
		Constraints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sylsim_constraints",
			Help: "Constraint blocks collected in the latest step.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Steps, m.SolverIterations, m.Constraints)
	}
	return m
}

// Register attaches the counters to a registry, for ranks that serve
// the metrics endpoint.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.Steps, m.SolverIterations, m.Constraints)
}
