package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/shopspring/decimal"
)

// Operation names a gateway call for failure injection and call counting
type Operation string

const (
	OpCreateIntent Operation = "create_intent"
	OpGetIntent    Operation = "get_intent"
	OpCapture      Operation = "capture"
	OpRefund       Operation = "refund"
)

type intent struct {
	id       string
	amount   decimal.Decimal
	refunded decimal.Decimal
	currency string
	status   ports.IntentStatus
}

// Gateway is a deterministic in-process payment gateway. Intents are
// authorized in requires_capture and every call is idempotent.
type Gateway struct {
	mu        sync.Mutex
	intents   map[string]*intent
	byKey     map[string]string
	refunds   map[string]*ports.RefundResult
	failNext  map[Operation]error
	calls     map[Operation]int
	autoFails map[string]bool
}

var _ ports.PaymentGateway = (*Gateway)(nil)

// NewGateway creates an empty sandbox gateway
func NewGateway() *Gateway {
	return &Gateway{
		intents:   make(map[string]*intent),
		byKey:     make(map[string]string),
		refunds:   make(map[string]*ports.RefundResult),
		failNext:  make(map[Operation]error),
		calls:     make(map[Operation]int),
		autoFails: make(map[string]bool),
	}
}

func (g *Gateway) enter(op Operation) error {
	g.calls[op]++
	if err, ok := g.failNext[op]; ok {
		delete(g.failNext, op)
		return err
	}
	return nil
}

func (g *Gateway) CreateIntent(ctx context.Context, req *ports.CreateIntentRequest) (*ports.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.enter(OpCreateIntent); err != nil {
		return nil, err
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if id, ok := g.byKey[req.IdempotencyKey]; ok {
			return g.intents[id].handle(), nil
		}
	}

	in := &intent{
		id:       "pi_" + uuid.New().String(),
		amount:   req.Amount,
		currency: req.Currency,
		status:   ports.IntentRequiresCapture,
	}
	g.intents[in.id] = in
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = in.id
	}
	return in.handle(), nil
}

func (g *Gateway) GetIntent(ctx context.Context, intentID string) (*ports.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.enter(OpGetIntent); err != nil {
		return nil, err
	}
	in, ok := g.intents[intentID]
	if !ok {
		return nil, domain.Errorf(domain.ErrorCodeGatewayError, "unknown intent %s", intentID)
	}
	return in.handle(), nil
}

// Capture moves requires_capture to succeeded. Capturing an already
// succeeded intent returns succeeded again.
func (g *Gateway) Capture(ctx context.Context, intentID string) (ports.IntentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.enter(OpCapture); err != nil {
		return "", err
	}
	in, ok := g.intents[intentID]
	if !ok {
		return "", domain.Errorf(domain.ErrorCodeGatewayError, "unknown intent %s", intentID)
	}
	if in.status == ports.IntentRequiresCapture {
		if g.autoFails[intentID] {
			in.status = ports.IntentFailed
		} else {
			in.status = ports.IntentSucceeded
		}
	}
	return in.status, nil
}

func (g *Gateway) Refund(ctx context.Context, req *ports.RefundRequest) (*ports.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.enter(OpRefund); err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		if res, ok := g.refunds[req.IdempotencyKey]; ok {
			out := *res
			return &out, nil
		}
	}

	in, ok := g.intents[req.IntentID]
	if !ok {
		return nil, domain.Errorf(domain.ErrorCodeGatewayError, "unknown intent %s", req.IntentID)
	}
	if in.status != ports.IntentSucceeded {
		return nil, domain.Errorf(domain.ErrorCodeGatewayDeclined, "intent %s is %s, not refundable", in.id, in.status)
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	remaining := in.amount.Sub(in.refunded)
	if req.Amount.GreaterThan(remaining) {
		return nil, domain.Errorf(domain.ErrorCodeGatewayDeclined,
			"refund %s exceeds refundable %s", req.Amount.StringFixed(2), remaining.StringFixed(2))
	}

	in.refunded = in.refunded.Add(req.Amount)
	res := &ports.RefundResult{
		RefundID: "re_" + uuid.New().String(),
		Amount:   req.Amount,
	}
	if req.IdempotencyKey != "" {
		stored := *res
		g.refunds[req.IdempotencyKey] = &stored
	}
	return res, nil
}

// SetIntentStatus forces an intent into status, simulating an
// out-of-band capture or decline.
func (g *Gateway) SetIntentStatus(intentID string, status ports.IntentStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	in, ok := g.intents[intentID]
	if !ok {
		return fmt.Errorf("sandbox: unknown intent %s", intentID)
	}
	in.status = status
	return nil
}

// DeclineOnCapture makes the next capture of intentID report failed
func (g *Gateway) DeclineOnCapture(intentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.autoFails[intentID] = true
}

// FailNext makes the next call of op return err
func (g *Gateway) FailNext(op Operation, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext[op] = err
}

// Calls returns how many times op was invoked
func (g *Gateway) Calls(op Operation) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// Refunded returns the total refunded against intentID
func (g *Gateway) Refunded(intentID string) decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[intentID]; ok {
		return in.refunded
	}
	return decimal.Zero
}

func (in *intent) handle() *ports.Intent {
	return &ports.Intent{
		ID:           in.id,
		ClientSecret: in.id + "_secret",
		Status:       in.status,
	}
}
