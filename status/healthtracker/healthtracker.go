// Package healthtracker reports repeated failures of an activity, like
// snapshot sends, to healthz.
package healthtracker

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wojas/go-healthz"
	"go.uber.org/atomic"
)

type HealthTracker struct {
	Config   HealthConfig
	sequence atomic.Uint32
	since    atomic.Time
	prefix   string
	activity string
	logger   logrus.FieldLogger
}

// New creates a HealthTracker without registering it
func New(hc HealthConfig, prefix string, activity string, logger logrus.FieldLogger) *HealthTracker {
	return &HealthTracker{
		Config:   hc.Validated(),
		prefix:   prefix,
		activity: activity,
		logger:   logger.WithField("healthtracker", prefix),
	}
}

// Register registers the sequence and duration checks with healthz
func (ht *HealthTracker) Register() {
	healthz.Register(fmt.Sprintf("%s_failed_attempts", ht.prefix),
		ht.Config.EvaluationInterval, ht.CheckSequence)
	healthz.Register(fmt.Sprintf("%s_failed_duration", ht.prefix),
		ht.Config.EvaluationInterval, func() error {
			return ht.CheckDuration(time.Now())
		})
	ht.logger.Info("Registered health trackers")
}

// Deregister removes the checks added by Register
func (ht *HealthTracker) Deregister() {
	healthz.Deregister(fmt.Sprintf("%s_failed_attempts", ht.prefix))
	healthz.Deregister(fmt.Sprintf("%s_failed_duration", ht.prefix))
}

// CheckSequence evaluates the number of consecutive failures
func (ht *HealthTracker) CheckSequence() error {
	fails := ht.sequence.Load()
	if fails == 0 {
		return nil
	}
	if ht.Config.ErrorSequence > 0 && fails >= ht.Config.ErrorSequence {
		ht.logger.Warnf("%d consecutive failures is violating the error threshold (%d)",
			fails, ht.Config.ErrorSequence)
		return fmt.Errorf("failed to %s %d consecutive times", ht.activity, fails)
	}
	if ht.Config.WarnSequence > 0 && fails >= ht.Config.WarnSequence {
		return healthz.Warnf("failed to %s %d consecutive times", ht.activity, fails)
	}
	return nil
}

// CheckDuration evaluates how long the activity has been failing at time now
func (ht *HealthTracker) CheckDuration(now time.Time) error {
	if ht.sequence.Load() == 0 {
		return nil
	}
	failingFor := now.Sub(ht.since.Load()).Round(time.Second)
	if ht.Config.ErrorDuration > 0 && failingFor >= ht.Config.ErrorDuration {
		ht.logger.Warnf("failure for %s is violating the error threshold (%s)",
			failingFor, ht.Config.ErrorDuration)
		return fmt.Errorf("failed to %s for %s", ht.activity, failingFor)
	}
	if ht.Config.WarnDuration > 0 && failingFor >= ht.Config.WarnDuration {
		return healthz.Warnf("failed to %s for %s", ht.activity, failingFor)
	}
	return nil
}

func (ht *HealthTracker) AddFailure() {
	if ht.sequence.Inc() == 1 {
		ht.since.Store(time.Now())
	}
	ht.logger.Debugf("incremented consecutive failures to %d", ht.sequence.Load())
}

func (ht *HealthTracker) AddSuccess() {
	ht.sequence.Store(0)
	ht.logger.Debug("tracked successful attempt")
}

// Failures returns the number of consecutive failures
func (ht *HealthTracker) Failures() uint32 {
	return ht.sequence.Load()
}
