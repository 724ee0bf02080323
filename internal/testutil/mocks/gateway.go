package mocks

import (
	"context"
	"sync"

	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/stretchr/testify/mock"
)

// MockPaymentGateway mocks ports.PaymentGateway
type MockPaymentGateway struct {
	mock.Mock
}

var _ ports.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) CreateIntent(ctx context.Context, req *ports.CreateIntentRequest) (*ports.Intent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Intent), args.Error(1)
}

func (m *MockPaymentGateway) GetIntent(ctx context.Context, intentID string) (*ports.Intent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Intent), args.Error(1)
}

func (m *MockPaymentGateway) Capture(ctx context.Context, intentID string) (ports.IntentStatus, error) {
	args := m.Called(ctx, intentID)
	return args.Get(0).(ports.IntentStatus), args.Error(1)
}

func (m *MockPaymentGateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.RefundResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.RefundResult), args.Error(1)
}

// InterceptingGateway wraps a gateway and runs BeforeRefund ahead of the
// first refund it forwards. Tests use it to act while a refund is in flight.
type InterceptingGateway struct {
	ports.PaymentGateway
	BeforeRefund func(req *ports.RefundRequest)

	mu    sync.Mutex
	fired bool
}

func (g *InterceptingGateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.RefundResult, error) {
	g.mu.Lock()
	hook := g.BeforeRefund
	if g.fired {
		hook = nil
	}
	g.fired = true
	g.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	return g.PaymentGateway.Refund(ctx, req)
}
