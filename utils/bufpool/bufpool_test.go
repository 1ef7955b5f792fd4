package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestPool(t *testing.T) {
	p := New("test", 2)
	assert.Nil(t, p.TryAcquire())

	h1 := p.NewHandle(make([]byte, 10))
	h2 := p.NewHandle(make([]byte, 20))
	h3 := p.NewHandle(make([]byte, 30))

	assert.True(t, h1.Release())
	assert.False(t, h1.Release(), "second release must be a no-op")
	assert.Equal(t, 1, p.Idle())

	assert.True(t, h2.Release())
	assert.True(t, h3.Release()) // dropped, pool is full
	assert.Equal(t, 2, p.Idle())

	// LIFO
	h := p.TryAcquire()
	require.NotNil(t, h)
	assert.Len(t, h.Bytes(), 20)
	assert.True(t, h.Discard())
	assert.False(t, h.Release())
	assert.Equal(t, 1, p.Idle())

	h = p.TryAcquire()
	require.NotNil(t, h)
	assert.Len(t, h.Bytes(), 10)
	assert.Nil(t, p.TryAcquire())
}

func TestPool_zeroIdle(t *testing.T) {
	p := New("test-zero", -1)
	h := p.NewHandle(make([]byte, 1))
	assert.True(t, h.Release())
	assert.Equal(t, 0, p.Idle())
	assert.Nil(t, p.TryAcquire())
}

func TestHandle_concurrentRelease(t *testing.T) {
	p := New("test-concurrent", 100)
	var released atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		h := p.NewHandle(make([]byte, 8))
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if h.Release() {
					released.Inc()
				}
			}()
		}
	}
	wg.Wait()
	assert.Equal(t, int32(50), released.Load())
	assert.Equal(t, 50, p.Idle())

	// Acquire concurrently until empty
	var acquired atomic.Int32
	for j := 0; j < 10; j++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p.TryAcquire() != nil {
				acquired.Inc()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(50), acquired.Load())
}

func TestPool_privateIdleGauge(t *testing.T) {
	p := New("", 2)
	assert.Equal(t, PrivateName, p.labels["pool"])
	h := p.NewHandle(make([]byte, 8))
	assert.True(t, h.Release())
	assert.Equal(t, 1, p.Idle())
	require.NotNil(t, p.TryAcquire())
	// Private pools never create an idle series
	assert.False(t, metricIdle.DeleteLabelValues(PrivateName))

	named := New("test-gauge", 2)
	assert.True(t, named.NewHandle(make([]byte, 8)).Release())
	assert.True(t, metricIdle.DeleteLabelValues("test-gauge"))
}
