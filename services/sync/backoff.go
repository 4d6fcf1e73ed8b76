package sync

import (
	"context"
	"time"
)

// backoffDelay doubles the initial delay per attempt, capped at max. A
// provider Retry-After hint wins when it is longer, still within max.
func backoffDelay(attempt int, initial, max, retryAfter time.Duration) time.Duration {
	delay := initial
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	if max > 0 && delay > max {
		delay = max
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
