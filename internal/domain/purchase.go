package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus represents the payment lifecycle of a purchase
type PurchaseStatus string

const (
	PurchaseStatusPendingPayment PurchaseStatus = "pending_payment"
	PurchaseStatusPaid           PurchaseStatus = "paid"
	PurchaseStatusCompleted      PurchaseStatus = "completed"
	PurchaseStatusDisputed       PurchaseStatus = "disputed"
	PurchaseStatusRefunded       PurchaseStatus = "refunded"
	PurchaseStatusCancelled      PurchaseStatus = "cancelled"
	PurchaseStatusFailed         PurchaseStatus = "failed"
)

// DeliveryStatus tracks fulfilment independently of payment
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusPreparing DeliveryStatus = "preparing"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusCancelled DeliveryStatus = "cancelled"
)

var purchaseTransitions = map[PurchaseStatus][]PurchaseStatus{
	PurchaseStatusPendingPayment: {PurchaseStatusPaid, PurchaseStatusCancelled, PurchaseStatusFailed},
	PurchaseStatusPaid:           {PurchaseStatusCompleted, PurchaseStatusDisputed, PurchaseStatusRefunded},
	PurchaseStatusCompleted:      {PurchaseStatusDisputed, PurchaseStatusRefunded},
	PurchaseStatusDisputed:       {PurchaseStatusRefunded, PurchaseStatusCompleted, PurchaseStatusPaid},
}

// Product is the purchasable item as seen by the payment engine.
type Product struct {
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Price          decimal.Decimal `json:"price"`
	ID             string          `json:"id"`
	SellerID       string          `json:"seller_id"`
	Title          string          `json:"title"`
	Currency       string          `json:"currency"`
	Purchasable    bool            `json:"purchasable"`
}

// CheckPurchasable validates that the product can be bought by buyerID.
func (p *Product) CheckPurchasable(buyerID string) error {
	if !p.Purchasable {
		return ErrProductNotPurchasable.WithDetail("product_id", p.ID)
	}
	if p.SellerID == "" {
		return Errorf(ErrorCodeProductNotPurchasable, "product %s has no seller", p.ID)
	}
	if p.SellerID == buyerID {
		return Errorf(ErrorCodeProductNotPurchasable, "sellers cannot buy their own product")
	}
	if len(p.Currency) != 3 {
		return Errorf(ErrorCodeProductNotPurchasable, "product %s has invalid currency %q", p.ID, p.Currency)
	}
	if err := ValidateAmount(p.Price); err != nil {
		return err
	}
	return ValidateCommissionRate(p.CommissionRate)
}

// PurchaseWindows holds the durations that derive a purchase's deadlines.
type PurchaseWindows struct {
	Dispute time.Duration
	Review  time.Duration
}

// DefaultPurchaseWindows returns the standard 7 day dispute / 30 day review windows.
func DefaultPurchaseWindows() PurchaseWindows {
	return PurchaseWindows{Dispute: 7 * 24 * time.Hour, Review: 30 * 24 * time.Hour}
}

// Purchase is one buyer/product order.
type Purchase struct {
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DisputeDeadline  time.Time       `json:"dispute_deadline"`
	ReviewDeadline   time.Time       `json:"review_deadline"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	SellerAmount     decimal.Decimal `json:"seller_amount"`
	ID               string          `json:"id"`
	OrderNumber      string          `json:"order_number"`
	BuyerID          string          `json:"buyer_id"`
	SellerID         string          `json:"seller_id"`
	ProductID        string          `json:"product_id"`
	Currency         string          `json:"currency"`
	PaymentIntentID  string          `json:"payment_intent_id"`
	FailureReason    string          `json:"failure_reason,omitempty"`
	PendingRefundKey string          `json:"pending_refund_key,omitempty"`
	Status           PurchaseStatus  `json:"status"`
	DeliveryStatus   DeliveryStatus  `json:"delivery_status"`
	CanDispute       bool            `json:"can_dispute"`
}

// NewPurchase builds a pending purchase for product, capturing the product's
// commission rate at creation time.
func NewPurchase(id, orderNumber, buyerID string, product *Product, windows PurchaseWindows, now time.Time) (*Purchase, error) {
	if buyerID == "" {
		return nil, ErrMissingField.WithDetail("field", "buyer_id")
	}
	if err := product.CheckPurchasable(buyerID); err != nil {
		return nil, err
	}

	commission, seller, err := SplitCommission(product.Price, product.CommissionRate)
	if err != nil {
		return nil, err
	}

	return &Purchase{
		ID:               id,
		OrderNumber:      orderNumber,
		BuyerID:          buyerID,
		SellerID:         product.SellerID,
		ProductID:        product.ID,
		Amount:           product.Price,
		CommissionRate:   product.CommissionRate,
		CommissionAmount: commission,
		SellerAmount:     seller,
		Currency:         product.Currency,
		Status:           PurchaseStatusPendingPayment,
		DeliveryStatus:   DeliveryStatusPending,
		CanDispute:       true,
		DisputeDeadline:  now.Add(windows.Dispute),
		ReviewDeadline:   now.Add(windows.Review),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CanTransitionTo reports whether next is reachable from the current status
func (p *Purchase) CanTransitionTo(next PurchaseStatus) bool {
	for _, s := range purchaseTransitions[p.Status] {
		if s == next {
			return true
		}
	}
	return false
}

func (p *Purchase) transition(next PurchaseStatus, now time.Time) error {
	if !p.CanTransitionTo(next) {
		return Errorf(ErrorCodeInvalidState, "purchase %s cannot move from %s to %s", p.OrderNumber, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = now
	return nil
}

// IsTerminal returns true once no further payment transitions are possible
func (p *Purchase) IsTerminal() bool {
	return p.Status == PurchaseStatusRefunded ||
		p.Status == PurchaseStatusCancelled ||
		p.Status == PurchaseStatusFailed
}

// IsRefundable returns true if money has been captured and not yet returned
func (p *Purchase) IsRefundable() bool {
	return p.Status == PurchaseStatusPaid ||
		p.Status == PurchaseStatusCompleted ||
		p.Status == PurchaseStatusDisputed
}

// IsParty reports whether userID is the buyer or the seller
func (p *Purchase) IsParty(userID string) bool {
	return userID != "" && (userID == p.BuyerID || userID == p.SellerID)
}

// CounterParty returns the other side of the purchase from userID.
func (p *Purchase) CounterParty(userID string) (string, bool) {
	switch userID {
	case p.BuyerID:
		return p.SellerID, true
	case p.SellerID:
		return p.BuyerID, true
	}
	return "", false
}

// DisputeWindowOpen reports whether a dispute may be opened at now.
// The deadline instant itself is still inside the window.
func (p *Purchase) DisputeWindowOpen(now time.Time) bool {
	return p.CanDispute && !now.After(p.DisputeDeadline)
}

// CheckDisputable returns the conflict that prevents a dispute at now, if any.
func (p *Purchase) CheckDisputable(now time.Time) error {
	if p.Status == PurchaseStatusDisputed {
		return ErrAlreadyDisputed.WithDetail("purchase_id", p.ID)
	}
	if now.After(p.DisputeDeadline) {
		return ErrWindowExpired.WithDetail("dispute_deadline", p.DisputeDeadline)
	}
	if p.Status != PurchaseStatusPaid && p.Status != PurchaseStatusCompleted {
		return Errorf(ErrorCodeInvalidState, "purchase %s in status %s cannot be disputed", p.OrderNumber, p.Status)
	}
	if !p.CanDispute {
		return ErrAlreadyDisputed.WithDetail("purchase_id", p.ID)
	}
	if p.PendingRefundKey != "" {
		return Errorf(ErrorCodeInvalidState, "purchase %s has a refund in progress", p.OrderNumber)
	}
	return nil
}

// ClaimRefund marks an out-of-dispute refund as in flight so no dispute can
// be opened until it is recorded or released. Claiming again with the same
// key is allowed so a failed refund can be retried.
func (p *Purchase) ClaimRefund(key string, now time.Time) error {
	if !p.IsRefundable() {
		return Errorf(ErrorCodeInvalidState, "purchase %s in status %s cannot be refunded", p.OrderNumber, p.Status)
	}
	if p.Status == PurchaseStatusDisputed {
		return Errorf(ErrorCodeInvalidState, "purchase %s is under dispute; resolve the dispute instead", p.OrderNumber)
	}
	if p.PendingRefundKey != "" && p.PendingRefundKey != key {
		return Errorf(ErrorCodeInvalidState, "purchase %s has another refund in progress", p.OrderNumber)
	}
	p.PendingRefundKey = key
	p.UpdatedAt = now
	return nil
}

// ReleaseRefundClaim clears a claim whose refund was never issued.
// Returns false if key does not hold the claim.
func (p *Purchase) ReleaseRefundClaim(key string, now time.Time) bool {
	if p.PendingRefundKey == "" || p.PendingRefundKey != key {
		return false
	}
	p.PendingRefundKey = ""
	p.UpdatedAt = now
	return true
}

// MarkPaid records a captured payment
func (p *Purchase) MarkPaid(now time.Time) error {
	if err := p.transition(PurchaseStatusPaid, now); err != nil {
		return err
	}
	p.PaidAt = &now
	return nil
}

// MarkCompleted records fulfilment or a dispute outcome that keeps the sale.
func (p *Purchase) MarkCompleted(now time.Time) error {
	if err := p.transition(PurchaseStatusCompleted, now); err != nil {
		return err
	}
	if p.CompletedAt == nil {
		p.CompletedAt = &now
	}
	return nil
}

// MarkDisputed latches can_dispute off and moves the purchase into dispute.
func (p *Purchase) MarkDisputed(now time.Time) error {
	if err := p.CheckDisputable(now); err != nil {
		return err
	}
	if err := p.transition(PurchaseStatusDisputed, now); err != nil {
		return err
	}
	p.CanDispute = false
	return nil
}

// RestoreFromDispute returns a disputed purchase to the status implied by its
// delivery state: completed if delivered, paid otherwise.
func (p *Purchase) RestoreFromDispute(now time.Time) error {
	if p.Status != PurchaseStatusDisputed {
		return Errorf(ErrorCodeInvalidState, "purchase %s is not disputed", p.OrderNumber)
	}
	if p.DeliveryStatus == DeliveryStatusDelivered {
		return p.MarkCompleted(now)
	}
	return p.transition(PurchaseStatusPaid, now)
}

// MarkRefunded records a refund issued through the gateway
func (p *Purchase) MarkRefunded(now time.Time) error {
	if err := p.transition(PurchaseStatusRefunded, now); err != nil {
		return err
	}
	p.RefundedAt = &now
	p.CanDispute = false
	p.PendingRefundKey = ""
	if p.DeliveryStatus == DeliveryStatusPending || p.DeliveryStatus == DeliveryStatusPreparing {
		p.DeliveryStatus = DeliveryStatusCancelled
	}
	return nil
}

// Cancel abandons a purchase whose payment never completed
func (p *Purchase) Cancel(now time.Time) error {
	if err := p.transition(PurchaseStatusCancelled, now); err != nil {
		return err
	}
	p.CancelledAt = &now
	p.CanDispute = false
	p.DeliveryStatus = DeliveryStatusCancelled
	return nil
}

// Fail records a payment the gateway declined
func (p *Purchase) Fail(reason string, now time.Time) error {
	if err := p.transition(PurchaseStatusFailed, now); err != nil {
		return err
	}
	p.FailureReason = reason
	p.CanDispute = false
	p.DeliveryStatus = DeliveryStatusCancelled
	return nil
}

// CloseDisputeWindow latches can_dispute off once the deadline has passed.
// Returns true if the latch changed.
func (p *Purchase) CloseDisputeWindow(now time.Time) bool {
	if !p.CanDispute || !now.After(p.DisputeDeadline) {
		return false
	}
	p.CanDispute = false
	p.UpdatedAt = now
	return true
}

// StartDelivery marks the purchase as handed to the delivery preparer
func (p *Purchase) StartDelivery(now time.Time) error {
	if p.Status != PurchaseStatusPaid {
		return Errorf(ErrorCodeInvalidState, "purchase %s in status %s cannot start delivery", p.OrderNumber, p.Status)
	}
	if p.DeliveryStatus != DeliveryStatusPending && p.DeliveryStatus != DeliveryStatusFailed {
		return Errorf(ErrorCodeInvalidState, "delivery for %s already %s", p.OrderNumber, p.DeliveryStatus)
	}
	p.DeliveryStatus = DeliveryStatusPreparing
	p.UpdatedAt = now
	return nil
}

// MarkDelivered records successful delivery. A paid purchase completes;
// a disputed one keeps its status until the dispute ends.
func (p *Purchase) MarkDelivered(now time.Time) error {
	switch p.Status {
	case PurchaseStatusPaid:
		p.DeliveryStatus = DeliveryStatusDelivered
		return p.MarkCompleted(now)
	case PurchaseStatusCompleted, PurchaseStatusDisputed:
		p.DeliveryStatus = DeliveryStatusDelivered
		p.UpdatedAt = now
		return nil
	}
	return Errorf(ErrorCodeInvalidState, "purchase %s in status %s cannot be delivered", p.OrderNumber, p.Status)
}

// MarkDeliveryFailed records a failed delivery; payment state is untouched.
func (p *Purchase) MarkDeliveryFailed(now time.Time) error {
	if p.IsTerminal() || p.Status == PurchaseStatusPendingPayment {
		return Errorf(ErrorCodeInvalidState, "purchase %s in status %s has no delivery", p.OrderNumber, p.Status)
	}
	p.DeliveryStatus = DeliveryStatusFailed
	p.UpdatedAt = now
	return nil
}
