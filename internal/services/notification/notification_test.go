package notification_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/services/notification"
	"github.com/kevin07696/escrow-service/internal/testutil/mocks"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sample() ports.Notification {
	return ports.Notification{
		ID:           "n-1",
		Event:        ports.EventDisputeCreated,
		RecipientIDs: []string{"seller-1"},
		PurchaseID:   "p-1",
		DisputeID:    "d-1",
		Reference:    "DISP-2026-000001",
		OccurredAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublisher_Publish(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("stamps_id_and_time", func(t *testing.T) {
		sink := &mocks.RecordingSink{}
		pub := notification.NewPublisher(sink, timeutil.NewFakeClock(now), mocks.NewMockLogger())

		pub.Publish(context.Background(), ports.Notification{Event: ports.EventFundsReleased, RecipientIDs: []string{"u"}})

		sent := sink.Sent()
		require.Len(t, sent, 1)
		assert.NotEmpty(t, sent[0].ID)
		assert.Equal(t, now, sent[0].OccurredAt)
	})

	t.Run("sink_error_is_logged_not_returned", func(t *testing.T) {
		sink := &mocks.RecordingSink{Err: errors.New("down")}
		logger := mocks.NewMockLogger()
		pub := notification.NewPublisher(sink, timeutil.NewFakeClock(now), logger)

		pub.Publish(context.Background(), sample())

		assert.True(t, logger.HasMessage("warn", "notification not delivered"))
	})

	t.Run("no_recipients_skips_sink", func(t *testing.T) {
		sink := &mocks.RecordingSink{}
		pub := notification.NewPublisher(sink, timeutil.NewFakeClock(now), mocks.NewMockLogger())

		pub.Publish(context.Background(), ports.Notification{Event: ports.EventDisputeEscalated})

		assert.Empty(t, sink.Sent())
	})

	t.Run("nil_publisher_is_safe", func(t *testing.T) {
		var pub *notification.Publisher
		assert.NotPanics(t, func() { pub.Publish(context.Background(), sample()) })
	})
}

func TestMultiSink_DeliversToAllAndJoinsErrors(t *testing.T) {
	failing := &mocks.RecordingSink{Err: errors.New("boom")}
	ok := &mocks.RecordingSink{}

	err := notification.MultiSink{failing, ok}.Notify(context.Background(), sample())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, ok.Sent(), 1)
	assert.Len(t, failing.Sent(), 1)
}

func TestLogSink_Notify(t *testing.T) {
	logger := mocks.NewMockLogger()
	require.NoError(t, notification.NewLogSink(logger).Notify(context.Background(), sample()))
	assert.True(t, logger.HasMessage("info", "notification"))
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []ports.Notification
}

func (b *blockingSink) Notify(ctx context.Context, n ports.Notification) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	b.got = append(b.got, n)
	b.mu.Unlock()
	return nil
}

func TestDispatcher_DeliversAsynchronously(t *testing.T) {
	sink := &mocks.RecordingSink{}
	d := notification.NewDispatcher(sink, notification.DispatcherConfig{QueueSize: 8, Workers: 2}, mocks.NewMockLogger())

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Notify(context.Background(), sample()))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.NoError(t, d.CheckBacklog(context.Background()))
	assert.Len(t, sink.Sent(), 5)
	assert.ErrorIs(t, d.Notify(context.Background(), sample()), notification.ErrDispatcherClosed)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := notification.NewDispatcher(sink, notification.DispatcherConfig{QueueSize: 1, Workers: 1}, mocks.NewMockLogger())

	// one event occupies the worker, one fills the queue
	require.NoError(t, d.Notify(context.Background(), sample()))
	require.Eventually(t, func() bool {
		return d.Notify(context.Background(), sample()) == nil
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, d.Notify(context.Background(), sample()), notification.ErrQueueFull)
	assert.Error(t, d.CheckBacklog(context.Background()))

	close(sink.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sink.got, 2)
}

func TestDispatcher_CloseHonoursContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := notification.NewDispatcher(sink, notification.DispatcherConfig{QueueSize: 4, Workers: 1}, mocks.NewMockLogger())
	require.NoError(t, d.Notify(context.Background(), sample()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestWebhookSink_Notify(t *testing.T) {
	const secret = "whsec_test"
	fastBackoff := &resilience.FixedBackoff{Delay: time.Millisecond}

	tests := []struct {
		name         string
		statuses     []int
		wantErr      bool
		wantAttempts int32
	}{
		{name: "success_first_try", statuses: []int{http.StatusOK}, wantAttempts: 1},
		{name: "retries_server_errors", statuses: []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusNoContent}, wantAttempts: 3},
		{name: "retries_rate_limit", statuses: []int{http.StatusTooManyRequests, http.StatusOK}, wantAttempts: 2},
		{name: "client_error_not_retried", statuses: []int{http.StatusBadRequest}, wantErr: true, wantAttempts: 1},
		{name: "gives_up_after_max_attempts", statuses: []int{500, 500, 500, 500}, wantErr: true, wantAttempts: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				i := atomic.AddInt32(&attempts, 1) - 1

				body, err := io.ReadAll(r.Body)
				assert.NoError(t, err)
				assert.True(t, notification.Verify(body, secret, r.Header.Get(notification.HeaderSignature)))
				assert.Equal(t, string(ports.EventDisputeCreated), r.Header.Get(notification.HeaderEventType))

				var n ports.Notification
				assert.NoError(t, json.Unmarshal(body, &n))
				assert.Equal(t, "n-1", n.ID)

				w.WriteHeader(tt.statuses[min(int(i), len(tt.statuses)-1)])
			}))
			defer server.Close()

			sink := notification.NewWebhookSink(notification.WebhookConfig{
				URL:         server.URL,
				Secret:      secret,
				MaxAttempts: 3,
				Backoff:     fastBackoff,
			}, server.Client(), zap.NewNop())

			err := sink.Notify(context.Background(), sample())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAttempts, atomic.LoadInt32(&attempts))
		})
	}
}

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"id":"n-1"}`)
	sig := notification.Sign(payload, "secret")

	assert.True(t, notification.Verify(payload, "secret", sig))
	assert.False(t, notification.Verify(payload, "other", sig))
	assert.False(t, notification.Verify([]byte(`{}`), "secret", sig))
	assert.False(t, notification.Verify(payload, "secret", "not-hex"))
}
