// Package bufpool implements a bounded pool of reusable byte buffers that
// are handed out with a single-use release Handle.
//
// Buffers obtained from the pool may be released from a different goroutine
// than the one that acquired them. Losing a buffer (never releasing it) is
// safe, it only costs an allocation later on.
package bufpool

import (
	"cmp"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	// DefaultMaxIdle is the default number of idle buffers kept by a Pool
	DefaultMaxIdle = 16
	// PrivateName labels the counters of unnamed pools
	PrivateName = "private"
)

// New creates a new Pool that keeps at most maxIdle released buffers around.
// The name is used for Prometheus metrics. Pools with an empty name are
// short-lived private pools: their counters are aggregated under PrivateName
// and they do not report the idle gauge.
func New(name string, maxIdle int) *Pool {
	if maxIdle < 0 {
		maxIdle = 0
	}
	return &Pool{
		maxIdle:    maxIdle,
		labels:     prometheus.Labels{"pool": cmp.Or(name, PrivateName)},
		reportIdle: name != "",
	}
}

// Pool is a free-list of byte buffers. It is safe for concurrent use.
type Pool struct {
	maxIdle    int
	labels     prometheus.Labels
	reportIdle bool

	mu   sync.Mutex
	idle [][]byte
}

// TryAcquire pops an idle buffer from the pool without blocking.
// It returns nil if no idle buffer is available.
func (p *Pool) TryAcquire() *Handle {
	p.mu.Lock()
	n := len(p.idle)
	if n == 0 {
		p.mu.Unlock()
		return nil
	}
	buf := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	p.mu.Unlock()

	p.addIdle(-1)
	metricReused.With(p.labels).Inc()
	return &Handle{pool: p, buf: buf}
}

// NewHandle wraps a freshly allocated buffer. When the Handle is released,
// the buffer becomes available to TryAcquire.
func (p *Pool) NewHandle(buf []byte) *Handle {
	metricAllocated.With(p.labels).Inc()
	return &Handle{pool: p, buf: buf}
}

// Idle returns the number of idle buffers currently held by the pool.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *Pool) put(buf []byte) {
	p.mu.Lock()
	if len(p.idle) >= p.maxIdle {
		p.mu.Unlock()
		metricDropped.With(p.labels).Inc()
		return
	}
	p.idle = append(p.idle, buf)
	p.mu.Unlock()
	p.addIdle(1)
}

func (p *Pool) addIdle(n float64) {
	if p.reportIdle {
		metricIdle.With(p.labels).Add(n)
	}
}

// Handle represents ownership of a pooled buffer.
// Exactly one of Release or Discard takes effect, any later call is a no-op.
// The buffer MUST NOT be used after the Handle has been released.
type Handle struct {
	pool *Pool
	buf  []byte
	done atomic.Bool
}

// Bytes returns the full underlying buffer.
func (h *Handle) Bytes() []byte {
	return h.buf
}

// Release returns the buffer to the pool. It can safely be called more than
// once, even from different goroutines. It reports whether this call was the
// one that released the buffer.
func (h *Handle) Release() bool {
	if !h.done.CompareAndSwap(false, true) {
		return false
	}
	h.pool.put(h.buf)
	return true
}

// Discard gives up the buffer without returning it to the pool, for example
// because it is too small to be useful.
func (h *Handle) Discard() bool {
	if !h.done.CompareAndSwap(false, true) {
		return false
	}
	metricDiscarded.With(h.pool.labels).Inc()
	return true
}

// Released reports whether Release or Discard has been called.
func (h *Handle) Released() bool {
	return h.done.Load()
}
