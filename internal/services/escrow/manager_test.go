package escrow_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/escrow-service/internal/adapters/memory"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/services/escrow"
	"github.com/kevin07696/escrow-service/internal/services/notification"
	"github.com/kevin07696/escrow-service/internal/services/sequence"
	"github.com/kevin07696/escrow-service/internal/testutil/fixtures"
	"github.com/kevin07696/escrow-service/internal/testutil/mocks"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store     *memory.Store
	purchases *memory.PurchaseRepository
	ledger    *memory.LedgerRepository
	clock     *timeutil.FakeClock
	sink      *mocks.RecordingSink
	manager   *escrow.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewStore()
	clock := timeutil.NewFakeClock(start)
	sink := &mocks.RecordingSink{}
	logger := mocks.NewMockLogger()
	h := &harness{
		store:     store,
		purchases: memory.NewPurchaseRepository(store),
		ledger:    memory.NewLedgerRepository(store),
		clock:     clock,
		sink:      sink,
	}
	h.manager = escrow.NewManager(
		store,
		h.purchases,
		h.ledger,
		sequence.NewAllocator(memory.NewSequenceRepository(store)),
		notification.NewPublisher(sink, clock, logger),
		clock,
		escrow.Config{PlatformAccountID: "platform", SweepConcurrency: 2},
		logger,
	)
	return h
}

// paidPurchase persists a paid $100 / 10% purchase with materialized entries
func (h *harness) paidPurchase(t *testing.T, id string) *domain.Purchase {
	t.Helper()
	ctx := context.Background()

	product := fixtures.NewProduct().Build()
	p, err := domain.NewPurchase(id, "ORD-2026-"+id, "buyer-1", &product, domain.DefaultPurchaseWindows(), h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, p.MarkPaid(h.clock.Now()))

	err = h.store.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := h.purchases.Create(ctx, tx, p); err != nil {
			return err
		}
		if _, err := h.manager.AppendEntry(ctx, tx, domain.NewEntryParams{
			PurchaseID: p.ID,
			UserID:     p.BuyerID,
			Type:       domain.EntryTypePayment,
			Amount:     p.Amount,
			Currency:   p.Currency,
			Status:     domain.EntryStatusCompleted,
		}, h.clock.Now()); err != nil {
			return err
		}
		return h.manager.Materialize(ctx, tx, p, h.clock.Now())
	})
	require.NoError(t, err)
	return p
}

func (h *harness) entries(t *testing.T, purchaseID string) map[domain.EntryType]*domain.LedgerEntry {
	t.Helper()
	list, err := h.ledger.ListByPurchase(context.Background(), nil, purchaseID)
	require.NoError(t, err)

	out := make(map[domain.EntryType]*domain.LedgerEntry, len(list))
	for _, e := range list {
		out[e.Type] = e
	}
	return out
}

func (h *harness) inTx(t *testing.T, fn func(ctx context.Context, tx ports.DBTX) error) {
	t.Helper()
	require.NoError(t, h.store.WithTransaction(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, tx)
	}))
}

func TestManager_Materialize(t *testing.T) {
	h := newHarness(t)
	p := h.paidPurchase(t, "p1")

	entries := h.entries(t, p.ID)
	require.Len(t, entries, 3)

	commission := entries[domain.EntryTypeCommission]
	assert.True(t, commission.Amount.Equal(fixtures.Money("10.00")))
	assert.Equal(t, domain.EntryStatusCompleted, commission.Status)
	assert.False(t, commission.HeldInEscrow)
	assert.Equal(t, "platform", commission.UserID)

	payout := entries[domain.EntryTypePayout]
	assert.True(t, payout.Amount.Equal(fixtures.Money("90.00")))
	assert.Equal(t, domain.EntryStatusCompleted, payout.Status)
	assert.True(t, payout.HeldInEscrow)
	require.NotNil(t, payout.EscrowReleaseDate)
	assert.Equal(t, start.Add(7*24*time.Hour), *payout.EscrowReleaseDate)
	assert.Equal(t, p.SellerID, payout.UserID)
	assert.Regexp(t, `^TXN-2026-\d{6}$`, payout.TransactionNumber)

	t.Run("second_call_writes_nothing", func(t *testing.T) {
		h.inTx(t, func(ctx context.Context, tx ports.DBTX) error {
			return h.manager.Materialize(ctx, tx, p, h.clock.Now())
		})
		list, err := h.ledger.ListByPurchase(context.Background(), nil, p.ID)
		require.NoError(t, err)
		assert.Len(t, list, 3)
	})
}

func TestManager_MaterializeZeroCommission(t *testing.T) {
	h := newHarness(t)
	product := fixtures.NewProduct().WithCommissionRate("0").Build()
	p, err := domain.NewPurchase("p0", "ORD-2026-p0", "buyer-1", &product, domain.DefaultPurchaseWindows(), start)
	require.NoError(t, err)

	h.inTx(t, func(ctx context.Context, tx ports.DBTX) error {
		require.NoError(t, h.purchases.Create(ctx, tx, p))
		return h.manager.Materialize(ctx, tx, p, start)
	})

	entries := h.entries(t, p.ID)
	assert.NotContains(t, entries, domain.EntryTypeCommission)
	assert.True(t, entries[domain.EntryTypePayout].Amount.Equal(fixtures.Money("100.00")))
}

func TestManager_FreezeUnfreeze(t *testing.T) {
	h := newHarness(t)
	p := h.paidPurchase(t, "p1")
	now := h.clock.Advance(3 * 24 * time.Hour)

	h.inTx(t, func(ctx context.Context, tx ports.DBTX) error {
		payout, err := h.manager.Freeze(ctx, tx, p.ID, now)
		require.NoError(t, err)
		assert.Nil(t, payout.EscrowReleaseDate)

		again, err := h.manager.Freeze(ctx, tx, p.ID, now)
		require.NoError(t, err)
		assert.True(t, again.IsFrozen())
		return nil
	})
	assert.True(t, h.entries(t, p.ID)[domain.EntryTypePayout].IsFrozen())

	t.Run("frozen_payout_survives_hold_expiry", func(t *testing.T) {
		h.clock.Advance(30 * 24 * time.Hour)
		result, err := h.manager.ReleaseDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, escrow.SweepResult{}, result)
		assert.True(t, h.entries(t, p.ID)[domain.EntryTypePayout].HeldInEscrow)
	})

	t.Run("unfreeze_in_past_moves_to_now", func(t *testing.T) {
		now := h.clock.Now()
		h.inTx(t, func(ctx context.Context, tx ports.DBTX) error {
			payout, err := h.manager.Unfreeze(ctx, tx, p.ID, h.manager.ScheduledRelease(p), now)
			require.NoError(t, err)
			require.NotNil(t, payout.EscrowReleaseDate)
			assert.Equal(t, now, *payout.EscrowReleaseDate)
			return nil
		})
	})
}

func TestManager_ReleaseIsReentrant(t *testing.T) {
	h := newHarness(t)
	p := h.paidPurchase(t, "p1")
	now := h.clock.Advance(time.Hour)

	h.inTx(t, func(ctx context.Context, tx ports.DBTX) error {
		first, ok, err := h.manager.Release(ctx, tx, p.ID, domain.ReleaseReasonSellerFavor, now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, first.HeldInEscrow)

		second, ok, err := h.manager.Release(ctx, tx, p.ID, domain.ReleaseReasonHoldElapsed, now)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, domain.ReleaseReasonSellerFavor, second.EscrowReleaseReason)
		return nil
	})
}

func TestManager_CancelHold(t *testing.T) {
	h := newHarness(t)
	p := h.paidPurchase(t, "p1")
	now := h.clock.Advance(time.Hour)

	h.inTx(t, func(ctx context.Context, tx ports.DBTX) error {
		payout, ok, err := h.manager.CancelHold(ctx, tx, p.ID, domain.ReleaseReasonRefunded, now)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, domain.EntryStatusCancelled, payout.Status)
		require.NotNil(t, payout.ReleasedFromEscrowAt)

		_, ok, err = h.manager.CancelHold(ctx, tx, p.ID, domain.ReleaseReasonRefunded, now)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
}

func TestManager_ReleaseDue(t *testing.T) {
	h := newHarness(t)
	due := h.paidPurchase(t, "p1")
	h.clock.Advance(2 * 24 * time.Hour)
	notYet := h.paidPurchase(t, "p2")

	t.Run("nothing_due_before_hold", func(t *testing.T) {
		result, err := h.manager.ReleaseDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, result.Released)
	})

	t.Run("exactly_at_release_date", func(t *testing.T) {
		h.clock.Set(start.Add(7 * 24 * time.Hour))
		result, err := h.manager.ReleaseDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, escrow.SweepResult{Released: 1}, result)

		payout := h.entries(t, due.ID)[domain.EntryTypePayout]
		assert.False(t, payout.HeldInEscrow)
		assert.Equal(t, domain.ReleaseReasonHoldElapsed, payout.EscrowReleaseReason)
		assert.True(t, h.entries(t, notYet.ID)[domain.EntryTypePayout].HeldInEscrow)
		assert.Equal(t, []ports.EventType{ports.EventFundsReleased}, h.sink.Events())
	})

	t.Run("purchase_status_unaffected", func(t *testing.T) {
		got, err := h.purchases.GetByID(context.Background(), nil, due.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PurchaseStatusPaid, got.Status)
	})
}

func TestManager_ReleaseDueSkipsDisputedPurchase(t *testing.T) {
	h := newHarness(t)
	p := h.paidPurchase(t, "p1")

	// a dispute lands between listing and release: status flips but the
	// payout still carries its date
	h.inTx(t, func(ctx context.Context, tx ports.DBTX) error {
		locked, err := h.purchases.GetByIDForUpdate(ctx, tx, p.ID)
		require.NoError(t, err)
		require.NoError(t, locked.MarkDisputed(h.clock.Now()))
		return h.purchases.Update(ctx, tx, locked)
	})

	h.clock.Advance(8 * 24 * time.Hour)
	result, err := h.manager.ReleaseDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, escrow.SweepResult{Skipped: 1}, result)
	assert.True(t, h.entries(t, p.ID)[domain.EntryTypePayout].HeldInEscrow)
	assert.Empty(t, h.sink.Events())
}

func TestManager_UnwindForRefund(t *testing.T) {
	tests := []struct {
		name            string
		amount          string
		releaseFirst    bool
		wantCommission  domain.EntryStatus
		wantHeld        string
		wantReleased    string
		wantClawback    string
		wantPayoutCount int
	}{
		{name: "full_refund_held_payout", amount: "100.00", wantCommission: domain.EntryStatusReversed, wantHeld: "0", wantReleased: "0", wantClawback: "0", wantPayoutCount: 1},
		{name: "full_refund_released_payout", amount: "100.00", releaseFirst: true, wantCommission: domain.EntryStatusReversed, wantHeld: "0", wantReleased: "90", wantClawback: "90", wantPayoutCount: 1},
		{name: "partial_refund_held_payout", amount: "30.00", wantCommission: domain.EntryStatusCompleted, wantHeld: "0", wantReleased: "60", wantClawback: "0", wantPayoutCount: 2},
		{name: "partial_refund_whole_seller_share", amount: "90.00", wantCommission: domain.EntryStatusCompleted, wantHeld: "0", wantReleased: "0", wantClawback: "0", wantPayoutCount: 1},
		{name: "partial_refund_released_payout", amount: "30.00", releaseFirst: true, wantCommission: domain.EntryStatusCompleted, wantHeld: "0", wantReleased: "90", wantClawback: "30", wantPayoutCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := h.paidPurchase(t, "p1")
			now := h.clock.Advance(time.Hour)
			amount := fixtures.Money(tt.amount)

			h.inTx(t, func(ctx context.Context, tx ports.DBTX) error {
				if tt.releaseFirst {
					_, _, err := h.manager.Release(ctx, tx, p.ID, domain.ReleaseReasonHoldElapsed, now)
					require.NoError(t, err)
				}
				_, err := h.manager.AppendEntry(ctx, tx, domain.NewEntryParams{
					PurchaseID: p.ID,
					UserID:     p.BuyerID,
					Type:       domain.EntryTypeRefund,
					Amount:     amount,
					Currency:   p.Currency,
					Status:     domain.EntryStatusCompleted,
				}, now)
				require.NoError(t, err)
				return h.manager.UnwindForRefund(ctx, tx, p, amount, domain.ReleaseReasonRefunded, now)
			})

			list, err := h.ledger.ListByPurchase(context.Background(), nil, p.ID)
			require.NoError(t, err)

			payouts := 0
			for _, e := range list {
				switch e.Type {
				case domain.EntryTypeCommission:
					assert.Equal(t, tt.wantCommission, e.Status)
				case domain.EntryTypePayout:
					payouts++
				}
			}
			assert.Equal(t, tt.wantPayoutCount, payouts)

			summary := domain.SummarizeLedger(list)
			assert.True(t, summary.PayoutHeld.Equal(fixtures.Money(tt.wantHeld)), "held %s", summary.PayoutHeld)
			assert.True(t, summary.PayoutReleased.Equal(fixtures.Money(tt.wantReleased)), "released %s", summary.PayoutReleased)
			assert.True(t, summary.Clawback.Equal(fixtures.Money(tt.wantClawback)), "clawback %s", summary.Clawback)

			require.NoError(t, p.MarkRefunded(now))
			assert.NoError(t, domain.VerifyLedger(p, list))
		})
	}
}

func TestManager_UnwindRejectsPartialAboveSellerShare(t *testing.T) {
	h := newHarness(t)
	p := h.paidPurchase(t, "p1")

	err := h.store.WithTransaction(context.Background(), func(ctx context.Context, tx pgx.Tx) error {
		return h.manager.UnwindForRefund(ctx, tx, p, fixtures.Money("95.00"), domain.ReleaseReasonRefunded, h.clock.Now())
	})
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeValidationAmountInvalid))
}
