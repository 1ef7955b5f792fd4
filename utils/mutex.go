package utils

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const MonitoredMutexDefaultLimit = time.Second

// MonitoredMutex is a mutex that logs a warning on Unlock when it was held
// longer than Limit.
type MonitoredMutex struct {
	mu       sync.Mutex
	lockTime time.Time

	Logger logrus.FieldLogger
	Name   string
	Limit  time.Duration // defaults to MonitoredMutexDefaultLimit
}

func (m *MonitoredMutex) Lock() {
	m.mu.Lock()
	m.lockTime = time.Now()
}

// Unlock releases the lock and returns how long it was held
func (m *MonitoredMutex) Unlock() time.Duration {
	held := time.Since(m.lockTime)
	m.lockTime = time.Time{}
	m.mu.Unlock()

	limit := m.Limit
	if limit <= 0 {
		limit = MonitoredMutexDefaultLimit
	}
	// Only a warning, since paused processes and clock jumps cause spikes
	if held > limit {
		m.logger().WithFields(logrus.Fields{
			"lock_held": held.Round(time.Millisecond),
			"limit":     limit,
			"lock_name": m.Name,
			"caller":    caller(2),
		}).Warn("Lock time limit exceeded")
	}
	return held
}

func (m *MonitoredMutex) logger() logrus.FieldLogger {
	if m.Logger != nil {
		return m.Logger
	}
	return logrus.StandardLogger()
}

// caller describes the function skip frames up the stack
func caller(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	if f := runtime.FuncForPC(pc); f != nil {
		return fmt.Sprintf("%s:%d (%s)", file, line, f.Name())
	}
	return fmt.Sprintf("%s:%d", file, line)
}
