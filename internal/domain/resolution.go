package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ResolutionKind names an admin dispute outcome
type ResolutionKind string

const (
	ResolutionRefundFull    ResolutionKind = "refund_full"
	ResolutionRefundPartial ResolutionKind = "refund_partial"
	ResolutionSellerFavor   ResolutionKind = "seller_favor"
	ResolutionBuyerFavor    ResolutionKind = "buyer_favor"
	ResolutionNoAction      ResolutionKind = "no_action"
	ResolutionUnrecognized  ResolutionKind = "unrecognized"
)

// Resolution is a closed set of outcomes. Every consumer implements
// ResolutionVisitor, so a new outcome cannot be added without a handler.
type Resolution interface {
	Kind() ResolutionKind
	// Raw is the value persisted on the dispute
	Raw() string
	Accept(v ResolutionVisitor) error
	sealed()
}

// ResolutionVisitor handles each resolution outcome
type ResolutionVisitor interface {
	VisitRefundFull(RefundFull) error
	VisitRefundPartial(RefundPartial) error
	VisitSellerFavor(SellerFavor) error
	VisitBuyerFavor(BuyerFavor) error
	VisitNoAction(NoAction) error
	VisitUnrecognized(Unrecognized) error
}

// RefundFull refunds the whole purchase amount to the buyer
type RefundFull struct{}

// RefundPartial refunds an admin-chosen amount; the rest goes to the seller
type RefundPartial struct {
	Amount decimal.Decimal
}

// SellerFavor releases the frozen payout to the seller
type SellerFavor struct{}

// BuyerFavor refunds the buyer in full
type BuyerFavor struct{}

// NoAction moves no money
type NoAction struct{}

// Unrecognized is an unknown resolution value accepted as an inert outcome
type Unrecognized struct {
	Value string
}

func (RefundFull) Kind() ResolutionKind    { return ResolutionRefundFull }
func (RefundPartial) Kind() ResolutionKind { return ResolutionRefundPartial }
func (SellerFavor) Kind() ResolutionKind   { return ResolutionSellerFavor }
func (BuyerFavor) Kind() ResolutionKind    { return ResolutionBuyerFavor }
func (NoAction) Kind() ResolutionKind      { return ResolutionNoAction }
func (Unrecognized) Kind() ResolutionKind  { return ResolutionUnrecognized }

func (r RefundFull) Raw() string    { return string(r.Kind()) }
func (r RefundPartial) Raw() string { return string(r.Kind()) }
func (r SellerFavor) Raw() string   { return string(r.Kind()) }
func (r BuyerFavor) Raw() string    { return string(r.Kind()) }
func (r NoAction) Raw() string      { return string(r.Kind()) }
func (r Unrecognized) Raw() string  { return r.Value }

func (r RefundFull) Accept(v ResolutionVisitor) error    { return v.VisitRefundFull(r) }
func (r RefundPartial) Accept(v ResolutionVisitor) error { return v.VisitRefundPartial(r) }
func (r SellerFavor) Accept(v ResolutionVisitor) error   { return v.VisitSellerFavor(r) }
func (r BuyerFavor) Accept(v ResolutionVisitor) error    { return v.VisitBuyerFavor(r) }
func (r NoAction) Accept(v ResolutionVisitor) error      { return v.VisitNoAction(r) }
func (r Unrecognized) Accept(v ResolutionVisitor) error  { return v.VisitUnrecognized(r) }

func (RefundFull) sealed()    {}
func (RefundPartial) sealed() {}
func (SellerFavor) sealed()   {}
func (BuyerFavor) sealed()    {}
func (NoAction) sealed()      {}
func (Unrecognized) sealed()  {}

// ParseResolution turns an admin-supplied value into a Resolution.
// refund_partial requires a positive amount. Unknown values become
// Unrecognized unless strict is set, in which case they are rejected.
func ParseResolution(raw string, amount *decimal.Decimal, strict bool) (Resolution, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, ErrMissingField.WithDetail("field", "resolution")
	}

	switch ResolutionKind(strings.ToLower(value)) {
	case ResolutionRefundFull:
		return RefundFull{}, nil
	case ResolutionRefundPartial:
		if amount == nil {
			return nil, ErrMissingField.WithDetail("field", "amount")
		}
		if err := ValidateAmount(*amount); err != nil {
			return nil, err
		}
		return RefundPartial{Amount: *amount}, nil
	case ResolutionSellerFavor:
		return SellerFavor{}, nil
	case ResolutionBuyerFavor:
		return BuyerFavor{}, nil
	case ResolutionNoAction:
		return NoAction{}, nil
	}

	if strict {
		return nil, Errorf(ErrorCodeValidationFailed, "unknown resolution %q", value)
	}
	return Unrecognized{Value: value}, nil
}

// ClaimKey identifies a resolution and its amount, so a retried resolution
// can be told apart from a different one
func ClaimKey(r Resolution) string {
	if partial, ok := r.(RefundPartial); ok {
		return r.Raw() + ":" + partial.Amount.StringFixed(MoneyScale)
	}
	return r.Raw()
}

// MovesMoney reports whether the resolution triggers a refund or payout release
func MovesMoney(r Resolution) bool {
	switch r.Kind() {
	case ResolutionNoAction, ResolutionUnrecognized:
		return false
	}
	return true
}
