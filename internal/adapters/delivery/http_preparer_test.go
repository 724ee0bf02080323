package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/pkg/resilience"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fastBackoff = &resilience.FixedBackoff{Delay: time.Millisecond}

func testPurchase() *domain.Purchase {
	return &domain.Purchase{
		ID:          "p-1",
		OrderNumber: "ORD-2026-000001",
		ProductID:   "prod-1",
		BuyerID:     "buyer-1",
		SellerID:    "seller-1",
		Amount:      decimal.NewFromInt(100),
		Currency:    "USD",
	}
}

func TestHTTPPreparer_Prepare(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantErr     bool
		wantPending bool
		wantCalls   int32
	}{
		{name: "delivered", status: http.StatusOK, wantCalls: 1},
		{name: "created", status: http.StatusCreated, wantCalls: 1},
		{name: "accepted_is_pending", status: http.StatusAccepted, wantErr: true, wantPending: true, wantCalls: 1},
		{name: "client_error_not_retried", status: http.StatusUnprocessableEntity, wantErr: true, wantCalls: 1},
		{name: "server_error_retried", status: http.StatusBadGateway, wantErr: true, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got prepareRequest
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				assert.Equal(t, "deliver-p-1", r.Header.Get("Idempotency-Key"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			preparer := NewHTTPPreparer(Config{URL: server.URL, Token: "tok", Backoff: fastBackoff}, server.Client(), zap.NewNop())
			err := preparer.Prepare(context.Background(), testPurchase())

			assert.Equal(t, tt.wantCalls, calls.Load())
			assert.Equal(t, "100.00", got.Amount)
			assert.Equal(t, "ORD-2026-000001", got.OrderNumber)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantPending, errors.Is(err, ports.ErrDeliveryPending))
		})
	}
}

func TestHTTPPreparer_RecoversAfterServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	preparer := NewHTTPPreparer(Config{URL: server.URL, Backoff: fastBackoff}, server.Client(), zap.NewNop())
	require.NoError(t, preparer.Prepare(context.Background(), testPurchase()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPPreparer_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewHTTPPreparer(Config{URL: url, Backoff: fastBackoff}, nil, zap.NewNop()).Prepare(context.Background(), testPurchase())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ports.ErrDeliveryPending))
}
