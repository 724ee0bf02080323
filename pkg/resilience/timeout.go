package resilience

import (
	"context"
	"time"
)

// TimeoutConfig holds the deadlines for inbound work. Outbound calls are
// bounded by their own http.Client timeouts, which must stay below Handler.
type TimeoutConfig struct {
	// Handler bounds one API request
	Handler time.Duration
	// Sweep bounds one scheduled or cron-triggered sweep run
	Sweep time.Duration
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Handler: 30 * time.Second,
		Sweep:   5 * time.Minute,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Handler: 5 * time.Second,
		Sweep:   10 * time.Second,
	}
}

// HandlerContext bounds one API request. A parent deadline that is already
// shorter wins.
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, tc.Handler)
}

// SweepContext bounds one sweep run
func (tc *TimeoutConfig) SweepContext(parent context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(parent, tc.Sweep)
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) <= d {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
