package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// IntentStatus is the gateway-reported state of a payment intent.
// Gateway adapters must map provider states onto exactly these values or
// return an error.
type IntentStatus string

const (
	IntentSucceeded       IntentStatus = "succeeded"
	IntentRequiresCapture IntentStatus = "requires_capture"
	IntentFailed          IntentStatus = "failed"
)

// CreateIntentRequest asks the gateway to authorize funds with manual capture
type CreateIntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the gateway handle returned to the buyer's client
type Intent struct {
	ID           string
	ClientSecret string
	Status       IntentStatus
}

// RefundRequest represents a request to refund a captured intent
type RefundRequest struct {
	IntentID       string
	Amount         decimal.Decimal
	Reason         string
	IdempotencyKey string
}

// RefundResult represents the gateway refund handle
type RefundResult struct {
	RefundID string
	Amount   decimal.Decimal
}

// PaymentGateway authorizes, captures and refunds card payments.
// Calls are idempotent on intent id and idempotency key.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, req *CreateIntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	Capture(ctx context.Context, intentID string) (IntentStatus, error)
	Refund(ctx context.Context, req *RefundRequest) (*RefundResult, error)
}
