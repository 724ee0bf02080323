// Package escrow owns every write to the purchase ledger: it materializes the
// commission/payout split, freezes and unfreezes held payouts, and releases
// them when their hold elapses.
package escrow

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/services/notification"
	"github.com/kevin07696/escrow-service/internal/services/sequence"
	"github.com/kevin07696/escrow-service/pkg/observability"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Config holds escrow policy
type Config struct {
	// HoldPeriod is how long a payout stays in escrow after payment
	HoldPeriod time.Duration
	// PlatformAccountID owns commission entries
	PlatformAccountID string
	SweepBatchSize    int
	SweepConcurrency  int
}

// DefaultConfig returns a 7 day hold and a 100-entry, 4-way sweep
func DefaultConfig() Config {
	return Config{
		HoldPeriod:        7 * 24 * time.Hour,
		PlatformAccountID: "platform",
		SweepBatchSize:    100,
		SweepConcurrency:  4,
	}
}

// SweepResult counts the outcome of one release sweep
type SweepResult struct {
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Manager is the Escrow Manager. Methods taking a tx must be called inside
// the caller's transaction, after the purchase row has been locked.
type Manager struct {
	db        ports.TransactionManager
	purchases ports.PurchaseRepository
	ledger    ports.LedgerRepository
	numbers   *sequence.Allocator
	publisher *notification.Publisher
	clock     timeutil.Clock
	logger    ports.Logger
	cfg       Config
}

// NewManager creates an escrow manager
func NewManager(
	db ports.TransactionManager,
	purchases ports.PurchaseRepository,
	ledger ports.LedgerRepository,
	numbers *sequence.Allocator,
	publisher *notification.Publisher,
	clock timeutil.Clock,
	cfg Config,
	logger ports.Logger,
) *Manager {
	defaults := DefaultConfig()
	if cfg.HoldPeriod <= 0 {
		cfg.HoldPeriod = defaults.HoldPeriod
	}
	if cfg.PlatformAccountID == "" {
		cfg.PlatformAccountID = defaults.PlatformAccountID
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaults.SweepBatchSize
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = defaults.SweepConcurrency
	}
	return &Manager{
		db:        db,
		purchases: purchases,
		ledger:    ledger,
		numbers:   numbers,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Config returns the active escrow policy
func (m *Manager) Config() Config {
	return m.cfg
}

// ScheduledRelease is when p's payout would release if never disputed
func (m *Manager) ScheduledRelease(p *domain.Purchase) time.Time {
	paidAt := p.CreatedAt
	if p.PaidAt != nil {
		paidAt = *p.PaidAt
	}
	return paidAt.Add(m.cfg.HoldPeriod)
}

// AppendEntry numbers, validates and persists a new ledger entry
func (m *Manager) AppendEntry(ctx context.Context, tx ports.DBTX, params domain.NewEntryParams, now time.Time) (*domain.LedgerEntry, error) {
	number, err := m.numbers.Next(ctx, tx, domain.SequenceTransaction, now)
	if err != nil {
		return nil, err
	}
	if params.ID == "" {
		params.ID = uuid.New().String()
	}
	params.TransactionNumber = number

	entry, err := domain.NewLedgerEntry(params, now)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.Append(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("append %s entry: %w", entry.Type, err)
	}

	observability.RecordLedgerEntry(string(entry.Type), string(entry.Status), entry.Amount, entry.Currency)
	m.logger.Debug("ledger entry appended",
		ports.String("transaction_number", entry.TransactionNumber),
		ports.String("purchase_id", entry.PurchaseID),
		ports.String("type", string(entry.Type)),
		ports.Money("amount", entry.Amount))
	return entry, nil
}

// Materialize writes the commission entry (settled, never held) and the
// payout entry (held until now + HoldPeriod) for a paid purchase. Calling it
// again for the same purchase writes nothing.
func (m *Manager) Materialize(ctx context.Context, tx ports.DBTX, p *domain.Purchase, now time.Time) error {
	entries, err := m.ledger.ListByPurchase(ctx, tx, p.ID)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}

	var hasCommission, hasPayout bool
	for _, e := range entries {
		switch e.Type {
		case domain.EntryTypeCommission:
			hasCommission = true
		case domain.EntryTypePayout:
			hasPayout = true
		}
	}

	if !hasCommission && p.CommissionAmount.IsPositive() {
		if _, err := m.AppendEntry(ctx, tx, domain.NewEntryParams{
			PurchaseID:       p.ID,
			UserID:           m.cfg.PlatformAccountID,
			Type:             domain.EntryTypeCommission,
			Amount:           p.CommissionAmount,
			Currency:         p.Currency,
			Status:           domain.EntryStatusCompleted,
			GatewayReference: p.PaymentIntentID,
			Description:      "platform commission for " + p.OrderNumber,
		}, now); err != nil {
			return err
		}
	}

	if !hasPayout && p.SellerAmount.IsPositive() {
		releaseAt := now.Add(m.cfg.HoldPeriod)
		if _, err := m.AppendEntry(ctx, tx, domain.NewEntryParams{
			PurchaseID:  p.ID,
			UserID:      p.SellerID,
			Type:        domain.EntryTypePayout,
			Amount:      p.SellerAmount,
			Currency:    p.Currency,
			Status:      domain.EntryStatusCompleted,
			ReleaseAt:   &releaseAt,
			Description: "seller payout for " + p.OrderNumber,
		}, now); err != nil {
			return err
		}
	}
	return nil
}

// HeldPayout returns the purchase's payout still held in escrow, locked for
// update, or nil when there is none.
func (m *Manager) HeldPayout(ctx context.Context, tx ports.DBTX, purchaseID string) (*domain.LedgerEntry, error) {
	entries, err := m.ledger.ListByPurchase(ctx, tx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	for _, e := range entries {
		if e.Type == domain.EntryTypePayout && e.HeldInEscrow {
			return m.ledger.GetByIDForUpdate(ctx, tx, e.ID)
		}
	}
	return nil, nil
}

// Freeze clears the release date of the purchase's held payout so it can no
// longer auto-release. Idempotent.
func (m *Manager) Freeze(ctx context.Context, tx ports.DBTX, purchaseID string, now time.Time) (*domain.LedgerEntry, error) {
	payout, err := m.HeldPayout(ctx, tx, purchaseID)
	if err != nil || payout == nil {
		return payout, err
	}
	if !payout.Freeze(now) {
		return payout, nil
	}
	if err := m.ledger.UpdateStatus(ctx, tx, payout); err != nil {
		return nil, fmt.Errorf("freeze payout: %w", err)
	}

	observability.RecordEscrowFreeze()
	m.logger.Info("payout frozen",
		ports.String("purchase_id", purchaseID),
		ports.String("transaction_number", payout.TransactionNumber))
	return payout, nil
}

// Unfreeze reschedules a frozen payout. A release time already in the past
// is moved up to now so the next sweep picks it up.
func (m *Manager) Unfreeze(ctx context.Context, tx ports.DBTX, purchaseID string, releaseAt, now time.Time) (*domain.LedgerEntry, error) {
	payout, err := m.HeldPayout(ctx, tx, purchaseID)
	if err != nil || payout == nil {
		return payout, err
	}
	if releaseAt.Before(now) {
		releaseAt = now
	}
	if !payout.Unfreeze(releaseAt, now) {
		return payout, nil
	}
	if err := m.ledger.UpdateStatus(ctx, tx, payout); err != nil {
		return nil, fmt.Errorf("unfreeze payout: %w", err)
	}

	m.logger.Info("payout unfrozen",
		ports.String("purchase_id", purchaseID),
		ports.String("transaction_number", payout.TransactionNumber),
		ports.String("release_at", releaseAt.Format(time.RFC3339)))
	return payout, nil
}

// Release pays the purchase's held payout to the seller. With nothing held it
// returns the prior outcome: the most recent payout and false.
func (m *Manager) Release(ctx context.Context, tx ports.DBTX, purchaseID, reason string, now time.Time) (*domain.LedgerEntry, bool, error) {
	payout, err := m.HeldPayout(ctx, tx, purchaseID)
	if err != nil {
		return nil, false, err
	}
	if payout == nil {
		prior, err := m.lastPayout(ctx, tx, purchaseID)
		return prior, false, err
	}
	if err := m.release(ctx, tx, payout, reason, now); err != nil {
		return nil, false, err
	}
	return payout, true, nil
}

func (m *Manager) release(ctx context.Context, tx ports.DBTX, payout *domain.LedgerEntry, reason string, now time.Time) error {
	if !payout.Release(reason, now) {
		return nil
	}
	if err := m.ledger.UpdateStatus(ctx, tx, payout); err != nil {
		return fmt.Errorf("release payout: %w", err)
	}

	observability.RecordEscrowRelease(reason)
	m.logger.Info("payout released",
		ports.String("purchase_id", payout.PurchaseID),
		ports.String("transaction_number", payout.TransactionNumber),
		ports.Money("amount", payout.NetAmount),
		ports.String("reason", reason))
	return nil
}

// CancelHold voids the purchase's held payout so it can never be paid out.
// Reports false when nothing was held.
func (m *Manager) CancelHold(ctx context.Context, tx ports.DBTX, purchaseID, reason string, now time.Time) (*domain.LedgerEntry, bool, error) {
	payout, err := m.HeldPayout(ctx, tx, purchaseID)
	if err != nil || payout == nil {
		return payout, false, err
	}
	if !payout.CancelHold(reason, now) {
		return payout, false, nil
	}
	if err := m.ledger.UpdateStatus(ctx, tx, payout); err != nil {
		return nil, false, fmt.Errorf("cancel payout hold: %w", err)
	}

	observability.RecordEscrowRelease("cancelled")
	m.logger.Info("payout hold cancelled",
		ports.String("purchase_id", purchaseID),
		ports.String("transaction_number", payout.TransactionNumber),
		ports.String("reason", reason))
	return payout, true, nil
}

// UnwindForRefund rebalances the ledger after amount has been refunded to
// the buyer. The caller has already appended the refund entry.
//
// A full refund reverses the commission and cancels the held payout, or
// claws the payout back from the seller if it was already released. A
// partial refund comes out of the seller's share: a held payout is cancelled
// and the remainder paid out, a released one is clawed back by amount.
func (m *Manager) UnwindForRefund(ctx context.Context, tx ports.DBTX, p *domain.Purchase, amount decimal.Decimal, reason string, now time.Time) error {
	full := amount.Equal(p.Amount)
	if !full && amount.GreaterThan(p.SellerAmount) {
		return domain.Errorf(domain.ErrorCodeValidationAmountInvalid,
			"partial refund %s exceeds seller share %s", amount, p.SellerAmount)
	}

	if full {
		if err := m.reverseCommission(ctx, tx, p.ID, now); err != nil {
			return err
		}
	}

	held, cancelled, err := m.CancelHold(ctx, tx, p.ID, reason, now)
	if err != nil {
		return err
	}
	if cancelled {
		remainder := held.NetAmount.Sub(amount)
		if full || !remainder.IsPositive() {
			return nil
		}
		_, err := m.payRemainder(ctx, tx, p, remainder, reason, now)
		return err
	}

	released, err := m.lastPayout(ctx, tx, p.ID)
	if err != nil || released == nil || !released.IsActive() {
		return err
	}
	clawback := amount
	if full {
		clawback = released.NetAmount
	}
	_, err = m.AppendEntry(ctx, tx, domain.NewEntryParams{
		PurchaseID:  p.ID,
		UserID:      p.SellerID,
		Type:        domain.EntryTypeAdjustment,
		Direction:   domain.DirectionIn,
		Amount:      clawback,
		Currency:    p.Currency,
		Status:      domain.EntryStatusCompleted,
		Description: "clawback of released payout for " + p.OrderNumber,
	}, now)
	return err
}

func (m *Manager) reverseCommission(ctx context.Context, tx ports.DBTX, purchaseID string, now time.Time) error {
	entries, err := m.ledger.ListByPurchase(ctx, tx, purchaseID)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}
	for _, e := range entries {
		if e.Type != domain.EntryTypeCommission || !e.IsActive() {
			continue
		}
		if err := e.Transition(domain.EntryStatusReversed, now); err != nil {
			return err
		}
		if err := m.ledger.UpdateStatus(ctx, tx, e); err != nil {
			return fmt.Errorf("reverse commission: %w", err)
		}
	}
	return nil
}

func (m *Manager) payRemainder(ctx context.Context, tx ports.DBTX, p *domain.Purchase, amount decimal.Decimal, reason string, now time.Time) (*domain.LedgerEntry, error) {
	payout, err := m.AppendEntry(ctx, tx, domain.NewEntryParams{
		PurchaseID:  p.ID,
		UserID:      p.SellerID,
		Type:        domain.EntryTypePayout,
		Amount:      amount,
		Currency:    p.Currency,
		Status:      domain.EntryStatusCompleted,
		ReleaseAt:   &now,
		Description: "remaining seller payout for " + p.OrderNumber,
	}, now)
	if err != nil {
		return nil, err
	}
	if err := m.release(ctx, tx, payout, reason, now); err != nil {
		return nil, err
	}
	return payout, nil
}

func (m *Manager) lastPayout(ctx context.Context, tx ports.DBTX, purchaseID string) (*domain.LedgerEntry, error) {
	entries, err := m.ledger.ListByPurchase(ctx, tx, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Type == domain.EntryTypePayout {
			return entries[i], nil
		}
	}
	return nil, nil
}

// ReleaseDue releases every payout whose hold has elapsed. Each payout is
// released in its own transaction after re-reading it under the purchase
// lock, so a dispute that froze it after the listing wins.
func (m *Manager) ReleaseDue(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	defer func() { observability.RecordEscrowSweep(time.Since(start).Seconds()) }()

	now := m.clock.Now()
	due, err := m.ledger.ListReleaseDue(ctx, nil, now, m.cfg.SweepBatchSize)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list due payouts: %w", err)
	}

	var released, skipped, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.SweepConcurrency)

	for _, entry := range due {
		g.Go(func() error {
			ok, err := m.releaseOne(gctx, entry.ID, entry.PurchaseID, now)
			switch {
			case err != nil:
				atomic.AddInt64(&failed, 1)
				m.logger.Error("escrow release failed",
					ports.String("transaction_number", entry.TransactionNumber),
					ports.String("purchase_id", entry.PurchaseID),
					ports.Err(err))
			case ok:
				atomic.AddInt64(&released, 1)
			default:
				atomic.AddInt64(&skipped, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result := SweepResult{Released: int(released), Skipped: int(skipped), Failed: int(failed)}
	if len(due) > 0 {
		m.logger.Info("escrow release sweep completed",
			ports.Int("due", len(due)),
			ports.Int("released", result.Released),
			ports.Int("skipped", result.Skipped),
			ports.Int("failed", result.Failed))
	}
	return result, ctx.Err()
}

func (m *Manager) releaseOne(ctx context.Context, entryID, purchaseID string, now time.Time) (bool, error) {
	var (
		payout   *domain.LedgerEntry
		purchase *domain.Purchase
		released bool
	)

	err := m.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		p, err := m.purchases.GetByIDForUpdate(ctx, tx, purchaseID)
		if err != nil {
			return err
		}
		if p.Status == domain.PurchaseStatusDisputed {
			return nil
		}

		e, err := m.ledger.GetByIDForUpdate(ctx, tx, entryID)
		if err != nil {
			return err
		}
		if !e.ReleaseDue(now) {
			return nil
		}
		if err := m.release(ctx, tx, e, domain.ReleaseReasonHoldElapsed, now); err != nil {
			return err
		}

		payout, purchase, released = e, p, true
		return nil
	})
	if err != nil || !released {
		if err == nil {
			observability.RecordEscrowRelease("skipped")
		}
		return false, err
	}

	m.publisher.Publish(ctx, ports.Notification{
		Event:        ports.EventFundsReleased,
		RecipientIDs: []string{payout.UserID},
		PurchaseID:   purchase.ID,
		Reference:    purchase.OrderNumber,
		Data: map[string]string{
			"amount":             payout.NetAmount.StringFixed(domain.MoneyScale),
			"currency":           payout.Currency,
			"transaction_number": payout.TransactionNumber,
		},
	})
	return true, nil
}
