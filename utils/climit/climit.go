// Package climit limits the number of concurrent operations, like snapshot
// sends, with tokens that must be released when done.
package climit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// New creates a ConcurrencyLimit that hands out at most limit tokens at a
// time. The group and name label the Prometheus metrics.
func New(group, name string, limit int, logger logrus.FieldLogger) *ConcurrencyLimit {
	if logger == nil {
		lr := logrus.New()
		lr.SetLevel(logrus.PanicLevel)
		logger = lr
	}
	logger = logger.WithField("limit_name", name)
	if limit < 1 {
		logger.Warnf("Concurrency limit %d raised to 1", limit)
		limit = 1
	}
	cl := &ConcurrencyLimit{
		labels: prometheus.Labels{"group": group, "limit_name": name},
		slots:  make(chan struct{}, limit),
		log:    logger,
	}
	for range limit {
		cl.slots <- struct{}{}
	}
	metricLimit.With(cl.labels).Set(float64(limit))
	return cl
}

// ConcurrencyLimit is a counting semaphore. Every Token obtained from it
// MUST be released.
type ConcurrencyLimit struct {
	labels prometheus.Labels
	slots  chan struct{}
	log    logrus.FieldLogger
}

// AcquireContext waits for a free Token, or until ctx is done.
func (cl *ConcurrencyLimit) AcquireContext(ctx context.Context) (*Token, error) {
	select {
	case <-cl.slots:
		return cl.newToken(0), nil
	default:
	}

	cl.log.Debug("Waiting for token")
	waiting := metricWaiting.With(cl.labels)
	waiting.Inc()
	defer waiting.Dec()
	t0 := time.Now()
	select {
	case <-cl.slots:
		return cl.newToken(time.Since(t0)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire returns a Token if one is free right now, or nil.
func (cl *ConcurrencyLimit) TryAcquire() *Token {
	select {
	case <-cl.slots:
		return cl.newToken(0)
	default:
		return nil
	}
}

// Available returns the number of tokens that can be acquired without waiting
func (cl *ConcurrencyLimit) Available() int {
	return len(cl.slots)
}

func (cl *ConcurrencyLimit) newToken(waited time.Duration) *Token {
	metricActive.With(cl.labels).Inc()
	metricAcquiredTotal.With(cl.labels).Inc()
	metricWaitingSeconds.With(cl.labels).Observe(waited.Seconds())
	if waited > 0 {
		cl.log.WithField("waited", waited).Debug("Acquired token")
	}
	return &Token{cl: cl, acquired: time.Now()}
}

// Token allows its holder to proceed with a limited operation
type Token struct {
	cl       *ConcurrencyLimit
	acquired time.Time
	released atomic.Bool
}

// Release returns the Token to its ConcurrencyLimit and reports how long it
// was held. Only the first call has an effect, later calls return 0.
func (t *Token) Release() time.Duration {
	if !t.released.CompareAndSwap(false, true) {
		return 0
	}
	held := time.Since(t.acquired)
	metricActive.With(t.cl.labels).Dec()
	metricActiveSeconds.With(t.cl.labels).Observe(held.Seconds())
	t.cl.slots <- struct{}{}
	return held
}
