package utils

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSleepContext(t *testing.T) {
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, IsCanceled(ctx))
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, SleepContextPerturb(ctx, time.Hour), context.Canceled)
	assert.False(t, IsCanceled(context.Background()))
}

func TestTimeDiff(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1500*time.Millisecond, TimeDiff(t0.Add(1500400*time.Microsecond), t0))
}

func TestTransferRate(t *testing.T) {
	assert.Equal(t, "n/a", TransferRate(100, 0))
	assert.Equal(t, "2.0 KB/s", TransferRate(4096, 2*time.Second))
}

func TestMonitoredMutex(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m := MonitoredMutex{Logger: logger, Name: "test", Limit: time.Millisecond}

	m.Lock()
	time.Sleep(5 * time.Millisecond)
	held := m.Unlock()
	assert.GreaterOrEqual(t, held, 5*time.Millisecond)
	require.Len(t, hook.AllEntries(), 1)
	e := hook.LastEntry()
	assert.Equal(t, "test", e.Data["lock_name"])
	assert.Contains(t, e.Data["caller"], "TestMonitoredMutex")
}
