package dispute

import (
	"context"
	"fmt"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/services/purchase"
	"github.com/shopspring/decimal"
)

// refundPlanner computes how much a resolution refunds before any state
// changes, so the gateway call can happen outside the transaction.
type refundPlanner struct {
	purchase *domain.Purchase
	amount   decimal.Decimal
}

func (v *refundPlanner) VisitRefundFull(domain.RefundFull) error {
	v.amount = v.purchase.Amount
	return nil
}

func (v *refundPlanner) VisitRefundPartial(r domain.RefundPartial) error {
	amount, err := purchase.RefundAmount(v.purchase, &r.Amount)
	if err != nil {
		return err
	}
	v.amount = amount
	return nil
}

func (v *refundPlanner) VisitBuyerFavor(domain.BuyerFavor) error {
	v.amount = v.purchase.Amount
	return nil
}

func (v *refundPlanner) VisitSellerFavor(domain.SellerFavor) error { return nil }
func (v *refundPlanner) VisitNoAction(domain.NoAction) error       { return nil }

func (v *refundPlanner) VisitUnrecognized(domain.Unrecognized) error { return nil }

// resolutionApplier moves money and purchase state for a resolution inside
// the resolving transaction. The purchase row is already locked.
type resolutionApplier struct {
	s            *Service
	ctx          context.Context
	tx           ports.DBTX
	now          time.Time
	purchase     *domain.Purchase
	refund       *ports.RefundResult
	refundAmount decimal.Decimal
	refunded     bool
}

func (v *resolutionApplier) VisitRefundFull(domain.RefundFull) error {
	return v.applyRefund(domain.ReleaseReasonDisputeRefund)
}

func (v *resolutionApplier) VisitRefundPartial(domain.RefundPartial) error {
	return v.applyRefund(domain.ReleaseReasonPartialRefund)
}

func (v *resolutionApplier) VisitBuyerFavor(domain.BuyerFavor) error {
	return v.applyRefund(domain.ReleaseReasonDisputeRefund)
}

func (v *resolutionApplier) VisitSellerFavor(domain.SellerFavor) error {
	if err := v.requireDisputed(); err != nil {
		return err
	}
	if _, _, err := v.s.escrow.Release(v.ctx, v.tx, v.purchase.ID, domain.ReleaseReasonSellerFavor, v.now); err != nil {
		return err
	}
	return v.updatePurchase(v.purchase.MarkCompleted)
}

func (v *resolutionApplier) VisitNoAction(domain.NoAction) error {
	if err := v.requireDisputed(); err != nil {
		return err
	}
	if _, err := v.s.escrow.Unfreeze(v.ctx, v.tx, v.purchase.ID, v.s.escrow.ScheduledRelease(v.purchase), v.now); err != nil {
		return err
	}
	return v.updatePurchase(v.purchase.MarkCompleted)
}

// VisitUnrecognized is inert like no_action: the payout goes back on its
// original release schedule and the sale stands.
func (v *resolutionApplier) VisitUnrecognized(r domain.Unrecognized) error {
	v.s.logger.Warn("unrecognized dispute resolution; treated as no action",
		ports.String("purchase_id", v.purchase.ID),
		ports.String("resolution", r.Value))
	return v.VisitNoAction(domain.NoAction{})
}

func (v *resolutionApplier) applyRefund(reason string) error {
	if err := v.requireDisputed(); err != nil {
		return err
	}
	if v.refund == nil {
		return domain.Errorf(domain.ErrorCodeInvalidState, "no gateway refund for purchase %s", v.purchase.OrderNumber)
	}
	p, err := v.s.payments.ApplyRefund(v.ctx, v.tx, v.purchase.ID, v.refundAmount, v.refund, reason, v.now)
	if err != nil {
		return err
	}
	v.purchase = p
	v.refunded = true
	return nil
}

func (v *resolutionApplier) requireDisputed() error {
	if v.purchase.Status != domain.PurchaseStatusDisputed {
		return domain.Errorf(domain.ErrorCodeInvalidState, "purchase %s is %s, not disputed", v.purchase.OrderNumber, v.purchase.Status)
	}
	return nil
}

func (v *resolutionApplier) updatePurchase(transition func(time.Time) error) error {
	if err := transition(v.now); err != nil {
		return err
	}
	if err := v.s.purchases.Update(v.ctx, v.tx, v.purchase); err != nil {
		return fmt.Errorf("update purchase: %w", err)
	}
	return nil
}

var (
	_ domain.ResolutionVisitor = (*refundPlanner)(nil)
	_ domain.ResolutionVisitor = (*resolutionApplier)(nil)
)
