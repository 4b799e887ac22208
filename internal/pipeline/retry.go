package pipeline

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxRetries = 3
	maxBackoff        = 30 * time.Second
)

// BackoffFunc returns the wait before retry n (1-based).
type BackoffFunc func(retry int) time.Duration

// ExponentialBackoff doubles base for each retry, caps at 30s and adds up
// to 50% jitter. A non-positive base disables waiting.
func ExponentialBackoff(base time.Duration) BackoffFunc {
	return func(retry int) time.Duration {
		if base <= 0 {
			return 0
		}
		d := base << uint(max(retry-1, 0))
		if d > maxBackoff || d <= 0 {
			d = maxBackoff
		}
		return d + time.Duration(rand.Int64N(int64(d)/2+1))
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
