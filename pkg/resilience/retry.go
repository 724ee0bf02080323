package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffStrategy returns the wait before retry number n (0 is the first retry)
type BackoffStrategy interface {
	NextDelay(n int) time.Duration
}

// ExponentialBackoff grows the wait by Factor per retry, capped at Max, and
// spreads it by ±Jitter (a fraction of the wait)
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultExponentialBackoff suits synchronous calls to internal services:
// 100ms, 200ms, 400ms... capped at 5s
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{Initial: 100 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: 0.1}
}

// WebhookBackoff suits background webhook delivery: 1s, 2s, 4s... capped at 30s
func WebhookBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{Initial: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: 0.1}
}

// NextDelay implements BackoffStrategy
func (b *ExponentialBackoff) NextDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	wait := math.Min(float64(b.Initial)*math.Pow(b.Factor, float64(n)), float64(b.Max))
	if b.Jitter > 0 {
		wait += wait * b.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(wait)
}

// FixedBackoff waits Delay before every retry
type FixedBackoff struct {
	Delay time.Duration
}

// NextDelay implements BackoffStrategy
func (b *FixedBackoff) NextDelay(int) time.Duration {
	return b.Delay
}

// AttemptFunc makes one attempt. attempt counts from 1. A failure with
// retry false stops immediately.
type AttemptFunc func(ctx context.Context, attempt int) (retry bool, err error)

// Retry runs fn up to maxAttempts times, sleeping per backoff between
// retryable failures. A non-retryable error is returned unchanged; once
// attempts run out the last error is wrapped.
func Retry(ctx context.Context, backoff BackoffStrategy, maxAttempts int, fn AttemptFunc) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(backoff.NextDelay(attempt - 2))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("abandoned after %d attempts: %w", attempt-1, ctx.Err())
			case <-timer.C:
			}
		}

		retry, err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, lastErr)
}
