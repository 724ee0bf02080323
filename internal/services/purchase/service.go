// Package purchase implements the Purchase State Machine: checkout, payment
// confirmation, delivery hand-off, cancellation and refunds.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/services/escrow"
	"github.com/kevin07696/escrow-service/internal/services/notification"
	svcports "github.com/kevin07696/escrow-service/internal/services/ports"
	"github.com/kevin07696/escrow-service/internal/services/sequence"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"github.com/shopspring/decimal"
)

// Config holds purchase policy
type Config struct {
	Windows        domain.PurchaseWindows
	SweepBatchSize int
}

// DefaultConfig returns 7/30 day windows and a 500-purchase sweep batch
func DefaultConfig() Config {
	return Config{Windows: domain.DefaultPurchaseWindows(), SweepBatchSize: 500}
}

// Service implements svcports.PurchaseService
type Service struct {
	db        ports.TransactionManager
	purchases ports.PurchaseRepository
	ledger    ports.LedgerRepository
	catalog   ports.ProductCatalog
	gateway   ports.PaymentGateway
	delivery  ports.DeliveryPreparer
	escrow    *escrow.Manager
	numbers   *sequence.Allocator
	publisher *notification.Publisher
	clock     timeutil.Clock
	logger    ports.Logger
	cfg       Config
}

var _ svcports.PurchaseService = (*Service)(nil)

// NewService creates the purchase service. A nil delivery preparer leaves
// paid purchases waiting for the delivery callback.
func NewService(
	db ports.TransactionManager,
	purchases ports.PurchaseRepository,
	ledger ports.LedgerRepository,
	catalog ports.ProductCatalog,
	gateway ports.PaymentGateway,
	delivery ports.DeliveryPreparer,
	escrowManager *escrow.Manager,
	numbers *sequence.Allocator,
	publisher *notification.Publisher,
	clock timeutil.Clock,
	cfg Config,
	logger ports.Logger,
) *Service {
	defaults := DefaultConfig()
	if cfg.Windows.Dispute <= 0 {
		cfg.Windows.Dispute = defaults.Windows.Dispute
	}
	if cfg.Windows.Review <= 0 {
		cfg.Windows.Review = defaults.Windows.Review
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	return &Service{
		db:        db,
		purchases: purchases,
		ledger:    ledger,
		catalog:   catalog,
		gateway:   gateway,
		delivery:  delivery,
		escrow:    escrowManager,
		numbers:   numbers,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Create validates the product, authorizes the amount with the gateway
// (manual capture) and persists the pending purchase with its pending
// payment entry. A gateway failure persists nothing.
func (s *Service) Create(ctx context.Context, actor domain.Actor, req svcports.CreatePurchaseRequest) (*svcports.CreatePurchaseResult, error) {
	if actor.UserID == "" {
		return nil, domain.ErrAuthMissing
	}
	if req.ProductID == "" {
		return nil, domain.ErrMissingField.WithDetail("field", "product_id")
	}

	product, err := s.catalog.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	p, err := domain.NewPurchase(uuid.New().String(), "", actor.UserID, product, s.cfg.Windows, now)
	if err != nil {
		return nil, err
	}

	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = p.ID
	}
	intent, err := s.gateway.CreateIntent(ctx, &ports.CreateIntentRequest{
		Amount:         p.Amount,
		Currency:       p.Currency,
		IdempotencyKey: "purchase-" + actor.UserID + "-" + idempotencyKey,
		Metadata: map[string]string{
			"purchase_id": p.ID,
			"product_id":  p.ProductID,
			"buyer_id":    p.BuyerID,
			"seller_id":   p.SellerID,
		},
	})
	if err != nil {
		s.logger.Error("create payment intent failed",
			ports.String("product_id", p.ProductID),
			ports.String("buyer_id", p.BuyerID),
			ports.Err(err))
		return nil, gatewayError("create payment intent", err)
	}

	if existing, err := s.purchases.GetByPaymentIntentID(ctx, nil, intent.ID); err == nil {
		s.logger.Info("returning existing purchase for idempotency key",
			ports.String("purchase_id", existing.ID),
			ports.String("order_number", existing.OrderNumber))
		return &svcports.CreatePurchaseResult{Purchase: existing, ClientSecret: intent.ClientSecret}, nil
	} else if !domain.IsNotFoundError(err) {
		return nil, err
	}

	p.PaymentIntentID = intent.ID
	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		orderNumber, err := s.numbers.Next(ctx, tx, domain.SequenceOrder, now)
		if err != nil {
			return err
		}
		p.OrderNumber = orderNumber

		if err := s.purchases.Create(ctx, tx, p); err != nil {
			return fmt.Errorf("create purchase: %w", err)
		}
		_, err = s.escrow.AppendEntry(ctx, tx, domain.NewEntryParams{
			PurchaseID:       p.ID,
			UserID:           p.BuyerID,
			Type:             domain.EntryTypePayment,
			Amount:           p.Amount,
			Currency:         p.Currency,
			Status:           domain.EntryStatusPending,
			GatewayReference: intent.ID,
			Description:      "payment for " + orderNumber,
		}, now)
		return err
	})
	if err != nil {
		s.logger.Error("create purchase failed",
			ports.String("purchase_id", p.ID),
			ports.String("payment_intent_id", intent.ID),
			ports.Err(err))
		return nil, err
	}

	observability.RecordPurchaseTransition(string(p.Status), p.Amount, p.Currency)
	s.logger.Info("purchase created",
		ports.String("purchase_id", p.ID),
		ports.String("order_number", p.OrderNumber),
		ports.Money("amount", p.Amount),
		ports.Money("commission", p.CommissionAmount),
		ports.String("currency", p.Currency))

	return &svcports.CreatePurchaseResult{Purchase: p, ClientSecret: intent.ClientSecret}, nil
}

// Confirm settles the purchase behind paymentIntentID. The gateway is asked
// for the intent status and captures when required; only succeeded marks the
// purchase paid and materializes commission and payout. Confirming again
// returns the purchase unchanged.
func (s *Service) Confirm(ctx context.Context, actor domain.Actor, paymentIntentID string) (*domain.Purchase, error) {
	if paymentIntentID == "" {
		return nil, domain.ErrMissingField.WithDetail("field", "payment_intent_id")
	}
	p, err := s.purchases.GetByPaymentIntentID(ctx, nil, paymentIntentID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != p.BuyerID {
		if err := actor.Require(domain.CapabilityPurchasesConfirm); err != nil {
			return nil, err
		}
	}

	switch p.Status {
	case domain.PurchaseStatusPendingPayment:
	case domain.PurchaseStatusCancelled, domain.PurchaseStatusFailed:
		return nil, domain.Errorf(domain.ErrorCodeInvalidState, "purchase %s is %s", p.OrderNumber, p.Status)
	default:
		return p, nil
	}

	status, err := s.settleIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}

	switch status {
	case ports.IntentSucceeded:
		return s.markPaid(ctx, p.ID)
	case ports.IntentFailed:
		if err := s.markFailed(ctx, p.ID); err != nil {
			return nil, err
		}
		return nil, domain.ErrGatewayDeclined.WithDetail("payment_intent_id", paymentIntentID)
	}
	return nil, domain.ErrGatewayPending.WithDetail("gateway_status", string(status))
}

func (s *Service) settleIntent(ctx context.Context, intentID string) (ports.IntentStatus, error) {
	intent, err := s.gateway.GetIntent(ctx, intentID)
	if err != nil {
		return "", gatewayError("get payment intent", err)
	}
	if intent.Status != ports.IntentRequiresCapture {
		return intent.Status, nil
	}

	status, err := s.gateway.Capture(ctx, intentID)
	if err != nil {
		s.logger.Error("capture failed",
			ports.String("payment_intent_id", intentID),
			ports.Err(err))
		return "", gatewayError("capture payment", err)
	}
	return status, nil
}

func (s *Service) markPaid(ctx context.Context, purchaseID string) (*domain.Purchase, error) {
	var (
		p            *domain.Purchase
		transitioned bool
	)
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		now := s.clock.Now()

		p, err = s.purchases.GetByIDForUpdate(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if p.Status != domain.PurchaseStatusPendingPayment {
			return nil
		}

		if err := p.MarkPaid(now); err != nil {
			return err
		}
		if err := s.settlePaymentEntry(ctx, tx, p.ID, domain.EntryStatusCompleted, now); err != nil {
			return err
		}
		if err := s.escrow.Materialize(ctx, tx, p, now); err != nil {
			return err
		}
		if err := s.purchases.Update(ctx, tx, p); err != nil {
			return fmt.Errorf("update purchase: %w", err)
		}
		transitioned = true
		return nil
	})
	if err != nil {
		s.logger.Error("confirm purchase failed",
			ports.String("purchase_id", purchaseID),
			ports.Err(err))
		return nil, err
	}
	if !transitioned {
		return p, nil
	}

	observability.RecordPurchaseTransition(string(p.Status), p.Amount, p.Currency)
	s.logger.Info("purchase paid",
		ports.String("purchase_id", p.ID),
		ports.String("order_number", p.OrderNumber),
		ports.Money("amount", p.Amount))

	return s.handOffDelivery(ctx, p), nil
}

func (s *Service) markFailed(ctx context.Context, purchaseID string) error {
	var failed *domain.Purchase
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		now := s.clock.Now()
		p, err := s.purchases.GetByIDForUpdate(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if p.Status != domain.PurchaseStatusPendingPayment {
			return nil
		}
		if err := p.Fail("payment declined by gateway", now); err != nil {
			return err
		}
		if err := s.settlePaymentEntry(ctx, tx, p.ID, domain.EntryStatusFailed, now); err != nil {
			return err
		}
		if err := s.purchases.Update(ctx, tx, p); err != nil {
			return fmt.Errorf("update purchase: %w", err)
		}
		failed = p
		return nil
	})
	if err != nil || failed == nil {
		return err
	}

	observability.RecordPurchaseTransition(string(failed.Status), failed.Amount, failed.Currency)
	s.logger.Warn("purchase payment declined",
		ports.String("purchase_id", failed.ID),
		ports.String("order_number", failed.OrderNumber))
	return nil
}

// settlePaymentEntry moves the pending payment entry to status
func (s *Service) settlePaymentEntry(ctx context.Context, tx ports.DBTX, purchaseID string, status domain.EntryStatus, now time.Time) error {
	entries, err := s.ledger.ListByPurchase(ctx, tx, purchaseID)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}
	for _, e := range entries {
		if e.Type != domain.EntryTypePayment || e.Status != domain.EntryStatusPending {
			continue
		}
		locked, err := s.ledger.GetByIDForUpdate(ctx, tx, e.ID)
		if err != nil {
			return err
		}
		if err := locked.Transition(status, now); err != nil {
			return err
		}
		if err := s.ledger.UpdateStatus(ctx, tx, locked); err != nil {
			return fmt.Errorf("update payment entry: %w", err)
		}
	}
	return nil
}

// handOffDelivery starts delivery and applies an immediate outcome. Delivery
// problems are logged; the payment stands either way.
func (s *Service) handOffDelivery(ctx context.Context, p *domain.Purchase) *domain.Purchase {
	if s.delivery == nil {
		return p
	}

	started, err := s.updatePurchase(ctx, p.ID, func(p *domain.Purchase, now time.Time) (bool, error) {
		return true, p.StartDelivery(now)
	})
	if err != nil {
		s.logger.Warn("start delivery failed",
			ports.String("purchase_id", p.ID),
			ports.Err(err))
		return p
	}

	prepErr := s.delivery.Prepare(ctx, started)
	if errors.Is(prepErr, ports.ErrDeliveryPending) {
		s.logger.Info("delivery pending",
			ports.String("purchase_id", p.ID),
			ports.String("order_number", p.OrderNumber))
		return started
	}

	updated, err := s.applyDelivery(ctx, p.ID, prepErr == nil, errString(prepErr))
	if err != nil {
		s.logger.Error("record delivery outcome failed",
			ports.String("purchase_id", p.ID),
			ports.Err(err))
		return started
	}
	return updated
}

// ReportDelivery is the Delivery Preparer callback
func (s *Service) ReportDelivery(ctx context.Context, actor domain.Actor, report svcports.DeliveryReport) (*domain.Purchase, error) {
	if err := actor.Require(domain.CapabilityDeliveryReport); err != nil {
		return nil, err
	}
	if report.PurchaseID == "" {
		return nil, domain.ErrMissingField.WithDetail("field", "purchase_id")
	}
	return s.applyDelivery(ctx, report.PurchaseID, report.Delivered, report.Reason)
}

func (s *Service) applyDelivery(ctx context.Context, purchaseID string, delivered bool, reason string) (*domain.Purchase, error) {
	var completed bool
	p, err := s.updatePurchase(ctx, purchaseID, func(p *domain.Purchase, now time.Time) (bool, error) {
		if !delivered {
			return true, p.MarkDeliveryFailed(now)
		}
		if p.DeliveryStatus == domain.DeliveryStatusDelivered {
			return false, nil
		}
		wasPaid := p.Status == domain.PurchaseStatusPaid
		if err := p.MarkDelivered(now); err != nil {
			return false, err
		}
		completed = wasPaid && p.Status == domain.PurchaseStatusCompleted
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if !delivered {
		s.logger.Warn("delivery failed",
			ports.String("purchase_id", p.ID),
			ports.String("order_number", p.OrderNumber),
			ports.String("reason", reason))
		return p, nil
	}

	if completed {
		observability.RecordPurchaseTransition(string(p.Status), p.Amount, p.Currency)
		s.logger.Info("purchase completed",
			ports.String("purchase_id", p.ID),
			ports.String("order_number", p.OrderNumber))
		s.publisher.Publish(ctx, ports.Notification{
			Event:        ports.EventPurchaseCompleted,
			RecipientIDs: []string{p.BuyerID, p.SellerID},
			PurchaseID:   p.ID,
			Reference:    p.OrderNumber,
			Data: map[string]string{
				"amount":   p.Amount.StringFixed(domain.MoneyScale),
				"currency": p.Currency,
			},
		})
	}
	return p, nil
}

// updatePurchase locks the purchase, applies fn and persists the result when
// fn reports a change
func (s *Service) updatePurchase(ctx context.Context, purchaseID string, fn func(p *domain.Purchase, now time.Time) (bool, error)) (*domain.Purchase, error) {
	var p *domain.Purchase
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		p, err = s.purchases.GetByIDForUpdate(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		changed, err := fn(p, s.clock.Now())
		if err != nil || !changed {
			return err
		}
		return s.purchases.Update(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Cancel abandons a purchase still waiting for payment
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, purchaseID string) (*domain.Purchase, error) {
	if actor.UserID == "" {
		return nil, domain.ErrAuthMissing
	}

	var p *domain.Purchase
	err := s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		now := s.clock.Now()

		p, err = s.purchases.GetByIDForUpdate(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if actor.UserID != p.BuyerID && !actor.IsAdmin() {
			return domain.ErrAuthForbidden.WithDetail("purchase_id", purchaseID)
		}
		if p.Status == domain.PurchaseStatusCancelled {
			return nil
		}
		if err := p.Cancel(now); err != nil {
			return err
		}
		if err := s.settlePaymentEntry(ctx, tx, p.ID, domain.EntryStatusCancelled, now); err != nil {
			return err
		}
		return s.purchases.Update(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}

	observability.RecordPurchaseTransition(string(p.Status), p.Amount, p.Currency)
	s.logger.Info("purchase cancelled",
		ports.String("purchase_id", p.ID),
		ports.String("order_number", p.OrderNumber))
	return p, nil
}

// Refund returns money to the buyer outside of a dispute. The purchase is
// claimed first so no dispute can open while the gateway call is in flight;
// the ledger is only written once the gateway refund succeeds. A decline
// releases the claim, any other gateway failure keeps it for a retry.
func (s *Service) Refund(ctx context.Context, actor domain.Actor, req svcports.RefundPurchaseRequest) (*domain.Purchase, error) {
	if err := actor.Require(domain.CapabilityPurchasesRefund); err != nil {
		return nil, err
	}

	p, err := s.purchases.GetByID(ctx, nil, req.PurchaseID)
	if err != nil {
		return nil, err
	}
	amount, err := RefundAmount(p, req.Amount)
	if err != nil {
		return nil, err
	}

	key := "refund-" + p.ID
	p, err = s.updatePurchase(ctx, p.ID, func(p *domain.Purchase, now time.Time) (bool, error) {
		return true, p.ClaimRefund(key, now)
	})
	if err != nil {
		return nil, err
	}

	result, err := s.GatewayRefund(ctx, p, amount, req.Reason, key)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayDeclined) {
			s.releaseRefundClaim(ctx, p.ID, key)
		}
		return nil, err
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		p, err = s.ApplyRefund(ctx, tx, p.ID, amount, result, domain.ReleaseReasonRefunded, s.clock.Now())
		return err
	})
	if err != nil {
		s.logger.Error("refund issued but not recorded; retry applies the same gateway refund",
			ports.String("purchase_id", req.PurchaseID),
			ports.String("refund_id", result.RefundID),
			ports.Err(err))
		return nil, err
	}

	s.NotifyRefund(ctx, p, amount)
	return p, nil
}

func (s *Service) releaseRefundClaim(ctx context.Context, purchaseID, key string) {
	_, err := s.updatePurchase(ctx, purchaseID, func(p *domain.Purchase, now time.Time) (bool, error) {
		return p.ReleaseRefundClaim(key, now), nil
	})
	if err != nil {
		s.logger.Error("refund claim not released",
			ports.String("purchase_id", purchaseID),
			ports.Err(err))
	}
}

// RefundAmount validates a requested refund against p. Nil means the full
// amount; a partial refund comes out of the seller's share.
func RefundAmount(p *domain.Purchase, requested *decimal.Decimal) (decimal.Decimal, error) {
	if requested == nil || requested.Equal(p.Amount) {
		return p.Amount, nil
	}
	amount := *requested
	if err := domain.ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	if amount.GreaterThan(p.SellerAmount) {
		return decimal.Zero, domain.Errorf(domain.ErrorCodeValidationAmountInvalid,
			"partial refund %s exceeds seller share %s", amount, p.SellerAmount)
	}
	return amount, nil
}

// GatewayRefund refunds amount of p's intent. idempotencyKey must be stable
// for the business operation so a retry after a failed commit does not pay
// twice.
func (s *Service) GatewayRefund(ctx context.Context, p *domain.Purchase, amount decimal.Decimal, reason, idempotencyKey string) (*ports.RefundResult, error) {
	result, err := s.gateway.Refund(ctx, &ports.RefundRequest{
		IntentID:       p.PaymentIntentID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.logger.Error("gateway refund failed",
			ports.String("purchase_id", p.ID),
			ports.Money("amount", amount),
			ports.Err(err))
		return nil, gatewayError("refund payment", err)
	}
	return result, nil
}

// ApplyRefund records a gateway refund inside the caller's transaction: the
// refund entry, the escrow unwind and the refunded status. It locks the
// purchase itself; callers that already hold the lock get the same row.
// A refund already in the ledger under the same gateway id is not recorded
// twice.
func (s *Service) ApplyRefund(ctx context.Context, tx ports.DBTX, purchaseID string, amount decimal.Decimal, result *ports.RefundResult, reason string, now time.Time) (*domain.Purchase, error) {
	p, err := s.purchases.GetByIDForUpdate(ctx, tx, purchaseID)
	if err != nil {
		return nil, err
	}
	recorded, err := s.refundRecorded(ctx, tx, p.ID, result.RefundID)
	if err != nil {
		return nil, err
	}
	if recorded {
		return p, nil
	}
	if !p.IsRefundable() {
		return nil, domain.Errorf(domain.ErrorCodeInvalidState, "purchase %s in status %s cannot be refunded", p.OrderNumber, p.Status)
	}

	if _, err := s.escrow.AppendEntry(ctx, tx, domain.NewEntryParams{
		PurchaseID:       p.ID,
		UserID:           p.BuyerID,
		Type:             domain.EntryTypeRefund,
		Amount:           amount,
		Currency:         p.Currency,
		Status:           domain.EntryStatusCompleted,
		GatewayReference: result.RefundID,
		Description:      "refund for " + p.OrderNumber,
	}, now); err != nil {
		return nil, err
	}
	if err := s.escrow.UnwindForRefund(ctx, tx, p, amount, reason, now); err != nil {
		return nil, err
	}
	if err := p.MarkRefunded(now); err != nil {
		return nil, err
	}
	if err := s.purchases.Update(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("update purchase: %w", err)
	}

	observability.RecordPurchaseTransition(string(p.Status), amount, p.Currency)
	s.logger.Info("purchase refunded",
		ports.String("purchase_id", p.ID),
		ports.String("order_number", p.OrderNumber),
		ports.Money("amount", amount),
		ports.String("refund_id", result.RefundID))
	return p, nil
}

func (s *Service) refundRecorded(ctx context.Context, tx ports.DBTX, purchaseID, refundID string) (bool, error) {
	if refundID == "" {
		return false, nil
	}
	entries, err := s.ledger.ListByPurchase(ctx, tx, purchaseID)
	if err != nil {
		return false, fmt.Errorf("list ledger entries: %w", err)
	}
	for _, e := range entries {
		if e.Type == domain.EntryTypeRefund && e.GatewayReference == refundID {
			return true, nil
		}
	}
	return false, nil
}

// NotifyRefund tells both parties a refund went through
func (s *Service) NotifyRefund(ctx context.Context, p *domain.Purchase, amount decimal.Decimal) {
	s.publisher.Publish(ctx, ports.Notification{
		Event:        ports.EventRefundProcessed,
		RecipientIDs: []string{p.BuyerID, p.SellerID},
		PurchaseID:   p.ID,
		Reference:    p.OrderNumber,
		Data: map[string]string{
			"amount":   amount.StringFixed(domain.MoneyScale),
			"currency": p.Currency,
		},
	})
}

// Get returns a purchase visible to actor
func (s *Service) Get(ctx context.Context, actor domain.Actor, purchaseID string) (*domain.Purchase, error) {
	p, err := s.purchases.GetByID(ctx, nil, purchaseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(actor, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetLedger returns the purchase's ledger read in one consistent snapshot,
// with totals and a reconciliation check
func (s *Service) GetLedger(ctx context.Context, actor domain.Actor, purchaseID string) (*svcports.LedgerView, error) {
	view := &svcports.LedgerView{}
	err := s.db.WithReadOnlyTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		p, err := s.purchases.GetByID(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if err := authorizeView(actor, p); err != nil {
			return err
		}
		entries, err := s.ledger.ListByPurchase(ctx, tx, purchaseID)
		if err != nil {
			return fmt.Errorf("list ledger: %w", err)
		}
		view.Purchase = p
		view.Entries = entries
		return nil
	})
	if err != nil {
		return nil, err
	}

	view.Summary = domain.SummarizeLedger(view.Entries)
	if err := domain.VerifyLedger(view.Purchase, view.Entries); err != nil {
		view.Discrepancy = err.Error()
		s.logger.Error("ledger discrepancy",
			ports.String("purchase_id", purchaseID),
			ports.Err(err))
	}
	return view, nil
}

// CloseDisputeWindows latches can_dispute off for purchases past their
// deadline. Returns how many purchases changed.
func (s *Service) CloseDisputeWindows(ctx context.Context) (int, error) {
	due, err := s.purchases.ListDisputeWindowsClosing(ctx, nil, s.clock.Now(), s.cfg.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list closing windows: %w", err)
	}

	closed := 0
	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return closed, err
		}
		var changed bool
		_, err := s.updatePurchase(ctx, candidate.ID, func(p *domain.Purchase, now time.Time) (bool, error) {
			changed = p.CloseDisputeWindow(now)
			return changed, nil
		})
		if err != nil {
			s.logger.Error("close dispute window failed",
				ports.String("purchase_id", candidate.ID),
				ports.Err(err))
			continue
		}
		if changed {
			closed++
		}
	}

	if closed > 0 {
		s.logger.Info("dispute windows closed", ports.Int("count", closed))
	}
	return closed, nil
}

func authorizeView(actor domain.Actor, p *domain.Purchase) error {
	if actor.UserID == "" {
		return domain.ErrAuthMissing
	}
	if p.IsParty(actor.UserID) || actor.IsAdmin() || actor.Can(domain.CapabilityPurchasesRefund) {
		return nil
	}
	return domain.ErrAuthForbidden.WithDetail("purchase_id", p.ID)
}

// gatewayError keeps gateway domain codes and wraps anything else as GATEWAY_ERROR
func gatewayError(op string, err error) error {
	if domain.IsGatewayError(err) {
		return err
	}
	return domain.WrapError(domain.ErrorCodeGatewayError, op, err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
