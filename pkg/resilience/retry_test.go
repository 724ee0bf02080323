package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff_NextDelay(t *testing.T) {
	b := &ExponentialBackoff{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	tests := []struct {
		name string
		n    int
		want time.Duration
	}{
		{name: "first_retry", n: 0, want: 100 * time.Millisecond},
		{name: "second_retry", n: 1, want: 200 * time.Millisecond},
		{name: "third_retry", n: 2, want: 400 * time.Millisecond},
		{name: "capped", n: 10, want: time.Second},
		{name: "negative_treated_as_first", n: -3, want: 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, b.NextDelay(tt.n))
		})
	}
}

func TestExponentialBackoff_JitterStaysInBounds(t *testing.T) {
	b := WebhookBackoff()
	for i := 0; i < 200; i++ {
		d := b.NextDelay(2)
		assert.GreaterOrEqual(t, d, 3600*time.Millisecond)
		assert.LessOrEqual(t, d, 4400*time.Millisecond)
	}
}

func TestDefaultBackoffsAreOrdered(t *testing.T) {
	assert.Less(t, DefaultExponentialBackoff().Initial, WebhookBackoff().Initial)
	assert.LessOrEqual(t, DefaultExponentialBackoff().Max, WebhookBackoff().Max)
}

func TestRetry(t *testing.T) {
	fast := &FixedBackoff{Delay: time.Millisecond}
	errBoom := errors.New("boom")

	tests := []struct {
		name         string
		outcomes     []bool // true means the attempt succeeds
		retryable    bool
		wantErr      bool
		wantAttempts int
	}{
		{name: "first_try", outcomes: []bool{true}, wantAttempts: 1},
		{name: "recovers", outcomes: []bool{false, false, true}, retryable: true, wantAttempts: 3},
		{name: "exhausted", outcomes: []bool{false, false, false, false}, retryable: true, wantErr: true, wantAttempts: 3},
		{name: "permanent_failure", outcomes: []bool{false, true}, retryable: false, wantErr: true, wantAttempts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			err := Retry(context.Background(), fast, 3, func(_ context.Context, attempt int) (bool, error) {
				attempts++
				assert.Equal(t, attempts, attempt)
				if tt.outcomes[attempt-1] {
					return false, nil
				}
				return tt.retryable, errBoom
			})

			assert.Equal(t, tt.wantAttempts, attempts)
			if tt.wantErr {
				assert.ErrorIs(t, err, errBoom)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetry_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, &FixedBackoff{Delay: time.Hour}, 5, func(context.Context, int) (bool, error) {
		attempts++
		cancel()
		return true, errors.New("unavailable")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
