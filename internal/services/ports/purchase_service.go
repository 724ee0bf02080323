package ports

import (
	"context"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/shopspring/decimal"
)

// CreatePurchaseRequest starts checkout for one product
type CreatePurchaseRequest struct {
	ProductID string
	// IdempotencyKey makes client retries return the same purchase
	IdempotencyKey string
}

// CreatePurchaseResult carries the pending purchase and the gateway handle
// the buyer's client completes payment with
type CreatePurchaseResult struct {
	Purchase     *domain.Purchase
	ClientSecret string
}

// RefundPurchaseRequest refunds a captured purchase. A nil Amount refunds in full.
type RefundPurchaseRequest struct {
	PurchaseID string
	Amount     *decimal.Decimal
	Reason     string
}

// DeliveryReport is the Delivery Preparer callback payload
type DeliveryReport struct {
	PurchaseID string
	Delivered  bool
	Reason     string
}

// LedgerView is a purchase with its ledger, totals and reconciliation result
type LedgerView struct {
	Purchase *domain.Purchase      `json:"purchase"`
	Entries  []*domain.LedgerEntry `json:"entries"`
	Summary  domain.LedgerSummary  `json:"summary"`
	// Discrepancy is empty when the ledger reconciles
	Discrepancy string `json:"discrepancy,omitempty"`
}

// PurchaseService is the Purchase State Machine
type PurchaseService interface {
	Create(ctx context.Context, actor domain.Actor, req CreatePurchaseRequest) (*CreatePurchaseResult, error)
	Confirm(ctx context.Context, actor domain.Actor, paymentIntentID string) (*domain.Purchase, error)
	Cancel(ctx context.Context, actor domain.Actor, purchaseID string) (*domain.Purchase, error)
	Refund(ctx context.Context, actor domain.Actor, req RefundPurchaseRequest) (*domain.Purchase, error)
	ReportDelivery(ctx context.Context, actor domain.Actor, report DeliveryReport) (*domain.Purchase, error)
	Get(ctx context.Context, actor domain.Actor, purchaseID string) (*domain.Purchase, error)
	GetLedger(ctx context.Context, actor domain.Actor, purchaseID string) (*LedgerView, error)

	// CloseDisputeWindows latches can_dispute off for purchases past their deadline
	CloseDisputeWindows(ctx context.Context) (int, error)
}
