package utils

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c2h5oh/datasize"
)

// jitter is the maximum relative deviation applied by SleepContextPerturb
const jitter = 0.2

// SleepContext waits for d, or until ctx is done. It returns the context
// error in the latter case.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SleepContextPerturb is SleepContext with d randomly shifted by up to 20%
// either way, so that instances started together drift apart.
func SleepContextPerturb(ctx context.Context, d time.Duration) error {
	f := 1 + jitter*(2*rand.Float64()-1)
	return SleepContext(ctx, time.Duration(float64(d)*f))
}

// IsCanceled reports whether ctx is done
func IsCanceled(ctx context.Context) bool {
	return ctx.Err() != nil
}

// TimeDiff returns t1 - t0 in whole milliseconds, for logging
func TimeDiff(t1, t0 time.Time) time.Duration {
	return t1.Sub(t0).Round(time.Millisecond)
}

// TransferRate formats the rate of a transfer of n bytes for logging
func TransferRate(n uint64, d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	perSecond := float64(n) / d.Seconds()
	return fmt.Sprintf("%s/s", datasize.ByteSize(perSecond).HumanReadable())
}
