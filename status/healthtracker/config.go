package healthtracker

import (
	"time"
)

const (
	// MinEvaluationInterval is the minimum interval allowed between healthz evaluation
	MinEvaluationInterval = time.Second
)

// HealthConfig sets the thresholds at which consecutive failures of an
// activity turn into a healthz warning or error. A zero sequence threshold
// disables that check.
type HealthConfig struct {
	EvaluationInterval time.Duration `yaml:"interval"`
	ErrorDuration      time.Duration `yaml:"error_duration"`
	WarnDuration       time.Duration `yaml:"warn_duration"`
	ErrorSequence      uint32        `yaml:"error_sequence"`
	WarnSequence       uint32        `yaml:"warn_sequence"`
}

func (hc HealthConfig) Validated() HealthConfig {
	if hc.EvaluationInterval < MinEvaluationInterval {
		hc.EvaluationInterval = MinEvaluationInterval
	}
	if hc.ErrorDuration < 0 {
		hc.ErrorDuration = 0
	}
	if hc.WarnDuration < 0 {
		hc.WarnDuration = 0
	}
	return hc
}
