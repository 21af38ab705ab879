package utils

import (
	"context"
	"time"
)

// WaitFor blocks for d or until ctx is done. Retry loops of the model clients
// use it so that cancelling a run never waits out a backoff.
func WaitFor(ctx context.Context, d time.Duration) error {
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

// Backoff returns base doubled attempt times, capped at limit. A non-positive
// limit disables the cap.
func Backoff(base time.Duration, attempt int, limit time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	d := base
	for i := 0; i < attempt; i++ {
		if limit > 0 && d >= limit {
			return limit
		}
		// overflow guard
		if d > time.Duration(1<<62) {
			return d
		}
		d *= 2
	}

	if limit > 0 && d > limit {
		return limit
	}
	return d
}
