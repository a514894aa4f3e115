package onboarding

import "github.com/prometheus/client_golang/prometheus"

// StepMetrics counts step outcomes for the onboarding workflow.
type StepMetrics struct {
	steps *prometheus.CounterVec
}

func NewStepMetrics(registerer prometheus.Registerer) (*StepMetrics, error) {
	m := &StepMetrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_onboarding_steps_total",
			Help: "Onboarding step outcomes by step name.",
		}, []string{"step", "outcome"}),
	}
	if err := registerer.Register(m.steps); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StepMetrics) observe(result *Result) {
	if m == nil || result == nil {
		return
	}
	for _, step := range result.Steps {
		m.steps.WithLabelValues(step.Step, string(step.Outcome)).Inc()
	}
}
