package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createIntent(t *testing.T, g *Gateway, key string) *ports.Intent {
	t.Helper()
	in, err := g.CreateIntent(context.Background(), &ports.CreateIntentRequest{
		Amount:         decimal.NewFromInt(100),
		Currency:       "USD",
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return in
}

func TestGateway_CreateIntentIdempotent(t *testing.T) {
	g := NewGateway()

	first := createIntent(t, g, "ORD-2026-000001")
	second := createIntent(t, g, "ORD-2026-000001")
	other := createIntent(t, g, "ORD-2026-000002")

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)
	assert.Equal(t, ports.IntentRequiresCapture, first.Status)
	assert.Equal(t, 3, g.Calls(OpCreateIntent))
}

func TestGateway_Capture(t *testing.T) {
	ctx := context.Background()

	t.Run("captures_once", func(t *testing.T) {
		g := NewGateway()
		in := createIntent(t, g, "k1")

		status, err := g.Capture(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, ports.IntentSucceeded, status)

		status, err = g.Capture(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, ports.IntentSucceeded, status)
	})

	t.Run("declined", func(t *testing.T) {
		g := NewGateway()
		in := createIntent(t, g, "k1")
		g.DeclineOnCapture(in.ID)

		status, err := g.Capture(ctx, in.ID)
		require.NoError(t, err)
		assert.Equal(t, ports.IntentFailed, status)
	})

	t.Run("unknown_intent", func(t *testing.T) {
		_, err := NewGateway().Capture(ctx, "pi_missing")
		assert.True(t, domain.IsGatewayError(err))
	})
}

func TestGateway_Refund(t *testing.T) {
	ctx := context.Background()
	g := NewGateway()
	in := createIntent(t, g, "k1")

	_, err := g.Refund(ctx, &ports.RefundRequest{IntentID: in.ID, Amount: decimal.NewFromInt(10)})
	assert.ErrorIs(t, err, domain.ErrGatewayDeclined, "uncaptured intent is not refundable")

	_, err = g.Capture(ctx, in.ID)
	require.NoError(t, err)

	req := &ports.RefundRequest{IntentID: in.ID, Amount: decimal.NewFromInt(40), IdempotencyKey: "refund-1"}
	first, err := g.Refund(ctx, req)
	require.NoError(t, err)
	again, err := g.Refund(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.RefundID, again.RefundID)
	assert.True(t, g.Refunded(in.ID).Equal(decimal.NewFromInt(40)))

	_, err = g.Refund(ctx, &ports.RefundRequest{IntentID: in.ID, Amount: decimal.NewFromInt(61), IdempotencyKey: "refund-2"})
	assert.ErrorIs(t, err, domain.ErrGatewayDeclined)

	_, err = g.Refund(ctx, &ports.RefundRequest{IntentID: in.ID, Amount: decimal.NewFromInt(60), IdempotencyKey: "refund-3"})
	require.NoError(t, err)
	assert.True(t, g.Refunded(in.ID).Equal(decimal.NewFromInt(100)))
}

func TestGateway_FailNext(t *testing.T) {
	g := NewGateway()
	boom := errors.New("connection reset")
	g.FailNext(OpCreateIntent, boom)

	_, err := g.CreateIntent(context.Background(), &ports.CreateIntentRequest{Amount: decimal.NewFromInt(5), Currency: "USD"})
	assert.ErrorIs(t, err, boom)

	_, err = g.CreateIntent(context.Background(), &ports.CreateIntentRequest{Amount: decimal.NewFromInt(5), Currency: "USD"})
	assert.NoError(t, err)
}
