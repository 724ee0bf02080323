package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) ports.PaymentGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(Config{
		BaseURL: srv.URL + "/",
		APIKey:  "sk_test",
		Timeout: 2 * time.Second,
		Breaker: BreakerConfig{MaxFailures: 2, Cooldown: time.Hour, MaxProbes: 1},
	}, srv.Client(), zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestHTTPGateway_CreateIntent(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "ORD-2026-000001", r.Header.Get("Idempotency-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "100.00", body["amount"])
		assert.Equal(t, "usd", body["currency"])
		assert.Equal(t, "manual", body["capture_method"])

		writeJSON(w, http.StatusOK, map[string]string{
			"id": "pi_1", "client_secret": "pi_1_secret", "status": "requires_payment_method",
		})
	})

	in, err := g.CreateIntent(context.Background(), &ports.CreateIntentRequest{
		Amount:         decimal.NewFromInt(100),
		Currency:       "USD",
		IdempotencyKey: "ORD-2026-000001",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_1", in.ID)
	assert.Equal(t, "pi_1_secret", in.ClientSecret)
	assert.Empty(t, in.Status)
}

func TestHTTPGateway_CreateIntentAcceptsInFlightStatus(t *testing.T) {
	for _, provider := range []string{"requires_confirmation", "processing", "requires_action"} {
		t.Run(provider, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{"id": "pi_2", "client_secret": "s", "status": provider})
			})

			in, err := g.CreateIntent(context.Background(), &ports.CreateIntentRequest{
				Amount:   decimal.NewFromInt(10),
				Currency: "USD",
			})
			require.NoError(t, err)
			assert.Equal(t, "pi_2", in.ID)
		})
	}
}

func TestHTTPGateway_GetIntentStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		want     ports.IntentStatus
		wantCode domain.ErrorCode
	}{
		{name: "requires_capture", provider: "requires_capture", want: ports.IntentRequiresCapture},
		{name: "failed", provider: "failed", want: ports.IntentFailed},
		{name: "awaiting_payment_method", provider: "requires_payment_method", wantCode: domain.ErrorCodeGatewayPending},
		{name: "requires_confirmation", provider: "requires_confirmation", wantCode: domain.ErrorCodeGatewayPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/payment_intents/pi_1", r.URL.Path)
				writeJSON(w, http.StatusOK, map[string]string{"id": "pi_1", "status": tt.provider})
			})

			in, err := g.GetIntent(context.Background(), "pi_1")
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, domain.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Status)
		})
	}
}

func TestHTTPGateway_CaptureStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		want     ports.IntentStatus
		wantCode domain.ErrorCode
	}{
		{name: "succeeded", provider: "succeeded", want: ports.IntentSucceeded},
		{name: "requires_capture", provider: "requires_capture", want: ports.IntentRequiresCapture},
		{name: "canceled", provider: "canceled", want: ports.IntentFailed},
		{name: "processing", provider: "processing", wantCode: domain.ErrorCodeGatewayPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/payment_intents/pi_1/capture", r.URL.Path)
				writeJSON(w, http.StatusOK, map[string]string{"id": "pi_1", "status": tt.provider})
			})

			status, err := g.Capture(context.Background(), "pi_1")
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, domain.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestHTTPGateway_Refund(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/refunds", r.URL.Path)
		assert.Equal(t, "dispute-d1", r.Header.Get("Idempotency-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pi_1", body["payment_intent"])
		assert.Equal(t, "40.50", body["amount"])

		writeJSON(w, http.StatusOK, map[string]string{"id": "re_1", "amount": "40.50", "status": "succeeded"})
	})

	res, err := g.Refund(context.Background(), &ports.RefundRequest{
		IntentID:       "pi_1",
		Amount:         decimal.RequireFromString("40.5"),
		IdempotencyKey: "dispute-d1",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.RefundID)
	assert.True(t, res.Amount.Equal(decimal.RequireFromString("40.50")))
}

func TestHTTPGateway_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantCode domain.ErrorCode
	}{
		{name: "declined", status: http.StatusPaymentRequired, wantCode: domain.ErrorCodeGatewayDeclined},
		{name: "bad_request", status: http.StatusBadRequest, wantCode: domain.ErrorCodeGatewayError},
		{name: "server_error", status: http.StatusBadGateway, wantCode: domain.ErrorCodeGatewayError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]interface{}{
					"error": map[string]string{"code": "card_declined", "message": "Your card was declined."},
				})
			})

			_, err := g.GetIntent(context.Background(), "pi_1")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.GetErrorCode(err))
		})
	}
}

func TestHTTPGateway_BreakerOpensOnServerErrors(t *testing.T) {
	var hits int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 2; i++ {
		_, err := g.GetIntent(context.Background(), "pi_1")
		require.Error(t, err)
	}

	_, err := g.GetIntent(context.Background(), "pi_1")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, domain.IsGatewayError(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestHTTPGateway_DeclinesDoNotTripBreaker(t *testing.T) {
	var hits int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusPaymentRequired)
	})

	for i := 0; i < 5; i++ {
		_, err := g.GetIntent(context.Background(), "pi_1")
		assert.ErrorIs(t, err, domain.ErrGatewayDeclined)
	}
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
}
