package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a money movement
type EntryType string

const (
	EntryTypePayment    EntryType = "payment"
	EntryTypeCommission EntryType = "commission"
	EntryTypePayout     EntryType = "payout"
	EntryTypeRefund     EntryType = "refund"
	EntryTypeChargeback EntryType = "chargeback"
	EntryTypeAdjustment EntryType = "adjustment"
	EntryTypeFee        EntryType = "fee"
)

// EntryDirection is relative to the platform
type EntryDirection string

const (
	DirectionIn  EntryDirection = "in"
	DirectionOut EntryDirection = "out"
)

// EntryStatus represents the ledger entry state
type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusCompleted  EntryStatus = "completed"
	EntryStatusFailed     EntryStatus = "failed"
	EntryStatusCancelled  EntryStatus = "cancelled"
	EntryStatusReversed   EntryStatus = "reversed"
	EntryStatusDisputed   EntryStatus = "disputed"
)

// Escrow release reasons recorded on payout entries
const (
	ReleaseReasonHoldElapsed    = "hold_period_elapsed"
	ReleaseReasonSellerFavor    = "dispute_resolved_seller_favor"
	ReleaseReasonPartialRefund  = "dispute_resolved_partial_refund"
	ReleaseReasonRefunded       = "purchase_refunded"
	ReleaseReasonDisputeRefund  = "dispute_resolved_refund"
	ReleaseReasonPurchaseClosed = "purchase_closed"
)

var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryStatusPending:    {EntryStatusProcessing, EntryStatusCompleted, EntryStatusFailed, EntryStatusCancelled},
	EntryStatusProcessing: {EntryStatusCompleted, EntryStatusFailed, EntryStatusCancelled},
	EntryStatusCompleted:  {EntryStatusReversed, EntryStatusCancelled, EntryStatusDisputed},
	EntryStatusDisputed:   {EntryStatusCompleted, EntryStatusReversed, EntryStatusCancelled},
}

// DirectionFor returns the fixed direction of an entry type. Adjustments
// carry an explicit direction and report false.
func DirectionFor(t EntryType) (EntryDirection, bool) {
	switch t {
	case EntryTypePayment, EntryTypeCommission, EntryTypeFee:
		return DirectionIn, true
	case EntryTypePayout, EntryTypeRefund, EntryTypeChargeback:
		return DirectionOut, true
	}
	return "", false
}

// LedgerEntry is one money movement tied to a purchase
type LedgerEntry struct {
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	EscrowReleaseDate    *time.Time      `json:"escrow_release_date"`
	ReleasedFromEscrowAt *time.Time      `json:"released_from_escrow_at,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	FeeAmount            decimal.Decimal `json:"fee_amount"`
	NetAmount            decimal.Decimal `json:"net_amount"`
	ID                   string          `json:"id"`
	TransactionNumber    string          `json:"transaction_number"`
	PurchaseID           string          `json:"purchase_id"`
	UserID               string          `json:"user_id"`
	Currency             string          `json:"currency"`
	EscrowReleaseReason  string          `json:"escrow_release_reason,omitempty"`
	GatewayReference     string          `json:"gateway_reference,omitempty"`
	Description          string          `json:"description,omitempty"`
	Type                 EntryType       `json:"type"`
	Direction            EntryDirection  `json:"direction"`
	Status               EntryStatus     `json:"status"`
	HeldInEscrow         bool            `json:"held_in_escrow"`
}

// NewEntryParams describes a ledger entry to append
type NewEntryParams struct {
	ReleaseAt         *time.Time
	Amount            decimal.Decimal
	FeeAmount         decimal.Decimal
	ID                string
	TransactionNumber string
	PurchaseID        string
	UserID            string
	Currency          string
	GatewayReference  string
	Description       string
	Type              EntryType
	Direction         EntryDirection
	Status            EntryStatus
}

// NewLedgerEntry validates params and builds an entry. Payouts are always
// created held in escrow; ReleaseAt nil creates the payout frozen.
func NewLedgerEntry(p NewEntryParams, now time.Time) (*LedgerEntry, error) {
	if p.PurchaseID == "" || p.UserID == "" || p.TransactionNumber == "" {
		return nil, ErrMissingField.WithDetail("entry_type", string(p.Type))
	}
	if err := ValidateAmount(p.Amount); err != nil {
		return nil, err
	}
	if p.FeeAmount.IsNegative() || p.FeeAmount.GreaterThan(p.Amount) {
		return nil, Errorf(ErrorCodeValidationAmountInvalid, "fee %s must be within [0, %s]", p.FeeAmount, p.Amount)
	}

	direction, fixed := DirectionFor(p.Type)
	if !fixed {
		if p.Type != EntryTypeAdjustment || (p.Direction != DirectionIn && p.Direction != DirectionOut) {
			return nil, Errorf(ErrorCodeValidationFailed, "entry type %q requires a valid direction", p.Type)
		}
		direction = p.Direction
	}

	status := p.Status
	if status == "" {
		status = EntryStatusPending
	}

	e := &LedgerEntry{
		ID:                p.ID,
		TransactionNumber: p.TransactionNumber,
		PurchaseID:        p.PurchaseID,
		UserID:            p.UserID,
		Type:              p.Type,
		Direction:         direction,
		Amount:            p.Amount,
		FeeAmount:         p.FeeAmount,
		NetAmount:         p.Amount.Sub(p.FeeAmount),
		Currency:          p.Currency,
		Status:            status,
		GatewayReference:  p.GatewayReference,
		Description:       p.Description,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if status == EntryStatusCompleted {
		e.CompletedAt = &now
	}
	if p.Type == EntryTypePayout {
		e.HeldInEscrow = true
		if p.ReleaseAt != nil {
			releaseAt := *p.ReleaseAt
			e.EscrowReleaseDate = &releaseAt
		}
	}
	return e, nil
}

// CanTransitionTo reports whether next is reachable from the current status
func (e *LedgerEntry) CanTransitionTo(next EntryStatus) bool {
	for _, s := range entryTransitions[e.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Transition moves the entry to next, refusing illegal moves.
func (e *LedgerEntry) Transition(next EntryStatus, now time.Time) error {
	if !e.CanTransitionTo(next) {
		return Errorf(ErrorCodeInvalidState, "ledger entry %s cannot move from %s to %s", e.TransactionNumber, e.Status, next)
	}
	e.Status = next
	e.UpdatedAt = now
	if next == EntryStatusCompleted && e.CompletedAt == nil {
		e.CompletedAt = &now
	}
	return nil
}

// IsActive reports whether the entry still counts toward balances
func (e *LedgerEntry) IsActive() bool {
	return e.Status == EntryStatusCompleted || e.Status == EntryStatusDisputed
}

// IsFrozen reports a held payout with no scheduled release
func (e *LedgerEntry) IsFrozen() bool {
	return e.HeldInEscrow && e.EscrowReleaseDate == nil
}

// ReleaseDue reports whether a held payout's timer has elapsed at now.
func (e *LedgerEntry) ReleaseDue(now time.Time) bool {
	return e.HeldInEscrow &&
		e.Status == EntryStatusCompleted &&
		e.EscrowReleaseDate != nil &&
		!now.Before(*e.EscrowReleaseDate)
}

// Freeze clears the release date so the payout can no longer auto-release.
// Returns true if the entry changed.
func (e *LedgerEntry) Freeze(now time.Time) bool {
	if !e.HeldInEscrow || e.EscrowReleaseDate == nil {
		return false
	}
	e.EscrowReleaseDate = nil
	e.UpdatedAt = now
	return true
}

// Unfreeze schedules a frozen payout for release at releaseAt.
func (e *LedgerEntry) Unfreeze(releaseAt, now time.Time) bool {
	if !e.IsFrozen() {
		return false
	}
	e.EscrowReleaseDate = &releaseAt
	e.UpdatedAt = now
	return true
}

// Release pays a held entry out to its owner. Releasing an entry that is no
// longer held is a no-op and reports false.
func (e *LedgerEntry) Release(reason string, now time.Time) bool {
	if !e.HeldInEscrow {
		return false
	}
	e.HeldInEscrow = false
	e.Status = EntryStatusCompleted
	e.ReleasedFromEscrowAt = &now
	e.EscrowReleaseReason = reason
	e.UpdatedAt = now
	if e.CompletedAt == nil {
		e.CompletedAt = &now
	}
	return true
}

// CancelHold voids a held entry so it can never be paid out.
func (e *LedgerEntry) CancelHold(reason string, now time.Time) bool {
	if !e.HeldInEscrow {
		return false
	}
	e.HeldInEscrow = false
	e.Status = EntryStatusCancelled
	e.EscrowReleaseDate = nil
	e.ReleasedFromEscrowAt = &now
	e.EscrowReleaseReason = reason
	e.UpdatedAt = now
	return true
}

// SignedNet returns the net amount signed by direction (in positive).
func (e *LedgerEntry) SignedNet() decimal.Decimal {
	if e.Direction == DirectionOut {
		return e.NetAmount.Neg()
	}
	return e.NetAmount
}

// LedgerSummary aggregates the active entries of one purchase
type LedgerSummary struct {
	Collected      decimal.Decimal `json:"collected"`
	Refunded       decimal.Decimal `json:"refunded"`
	Commission     decimal.Decimal `json:"commission"`
	PayoutHeld     decimal.Decimal `json:"payout_held"`
	PayoutReleased decimal.Decimal `json:"payout_released"`
	Clawback       decimal.Decimal `json:"clawback"`
	BuyerNet       decimal.Decimal `json:"buyer_net"`
	EntryCount     int             `json:"entry_count"`
	Frozen         bool            `json:"frozen"`
}

// SummarizeLedger totals the active entries of a purchase's ledger.
func SummarizeLedger(entries []*LedgerEntry) LedgerSummary {
	s := LedgerSummary{
		Collected:      decimal.Zero,
		Refunded:       decimal.Zero,
		Commission:     decimal.Zero,
		PayoutHeld:     decimal.Zero,
		PayoutReleased: decimal.Zero,
		Clawback:       decimal.Zero,
		BuyerNet:       decimal.Zero,
		EntryCount:     len(entries),
	}
	for _, e := range entries {
		if !e.IsActive() {
			continue
		}
		switch e.Type {
		case EntryTypePayment:
			s.Collected = s.Collected.Add(e.NetAmount)
			s.BuyerNet = s.BuyerNet.Add(e.SignedNet())
		case EntryTypeRefund, EntryTypeChargeback:
			s.Refunded = s.Refunded.Add(e.NetAmount)
			s.BuyerNet = s.BuyerNet.Add(e.SignedNet())
		case EntryTypeCommission:
			s.Commission = s.Commission.Add(e.NetAmount)
		case EntryTypeAdjustment:
			s.Clawback = s.Clawback.Add(e.SignedNet())
		case EntryTypePayout:
			if e.HeldInEscrow {
				s.PayoutHeld = s.PayoutHeld.Add(e.NetAmount)
				s.Frozen = s.Frozen || e.IsFrozen()
			} else {
				s.PayoutReleased = s.PayoutReleased.Add(e.NetAmount)
			}
		}
	}
	return s
}

// VerifyLedger checks that a purchase's ledger accounts for every cent:
// collected money is fully split between commission, payout and refunds,
// and a refunded purchase never also pays the seller from a held payout.
func VerifyLedger(p *Purchase, entries []*LedgerEntry) error {
	s := SummarizeLedger(entries)

	switch p.Status {
	case PurchaseStatusPendingPayment, PurchaseStatusCancelled, PurchaseStatusFailed:
		if !s.Collected.IsZero() {
			return Errorf(ErrorCodeInternalError, "purchase %s in %s has collected %s", p.OrderNumber, p.Status, s.Collected)
		}
		return nil
	}

	if !s.Collected.Equal(p.Amount) {
		return Errorf(ErrorCodeInternalError, "purchase %s collected %s, expected %s", p.OrderNumber, s.Collected, p.Amount)
	}

	allocated := s.Commission.Add(s.PayoutHeld).Add(s.PayoutReleased).Add(s.Refunded).Sub(s.Clawback)
	if !allocated.Equal(s.Collected) {
		return Errorf(ErrorCodeInternalError, "purchase %s allocated %s of %s collected", p.OrderNumber, allocated, s.Collected)
	}

	if p.Status == PurchaseStatusRefunded && !s.PayoutHeld.IsZero() {
		return Errorf(ErrorCodeInternalError, "refunded purchase %s still holds payout %s", p.OrderNumber, s.PayoutHeld)
	}
	if p.Status == PurchaseStatusDisputed && !s.PayoutHeld.IsZero() && !s.Frozen {
		return Errorf(ErrorCodeInternalError, "disputed purchase %s has an unfrozen payout", p.OrderNumber)
	}
	return nil
}
