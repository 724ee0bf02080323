package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(t *testing.T, typ EntryType, amount string, status EntryStatus, releaseAt *time.Time) *LedgerEntry {
	t.Helper()
	e, err := NewLedgerEntry(NewEntryParams{
		ID:                string(typ) + "-1",
		TransactionNumber: "TXN-2026-000001",
		PurchaseID:        "pur-1",
		UserID:            "user-1",
		Type:              typ,
		Amount:            decimal.RequireFromString(amount),
		Currency:          "USD",
		Status:            status,
		ReleaseAt:         releaseAt,
	}, testNow)
	require.NoError(t, err)
	return e
}

func TestNewLedgerEntry_Directions(t *testing.T) {
	tests := []struct {
		typ       EntryType
		direction EntryDirection
	}{
		{EntryTypePayment, DirectionIn},
		{EntryTypeCommission, DirectionIn},
		{EntryTypeFee, DirectionIn},
		{EntryTypePayout, DirectionOut},
		{EntryTypeRefund, DirectionOut},
		{EntryTypeChargeback, DirectionOut},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			e := newEntry(t, tt.typ, "10", EntryStatusPending, nil)
			assert.Equal(t, tt.direction, e.Direction)
			assert.Equal(t, tt.typ == EntryTypePayout, e.HeldInEscrow)
		})
	}
}

func TestNewLedgerEntry_NetAmount(t *testing.T) {
	e, err := NewLedgerEntry(NewEntryParams{
		TransactionNumber: "TXN-2026-000002",
		PurchaseID:        "pur-1",
		UserID:            "user-1",
		Type:              EntryTypePayment,
		Amount:            decimal.RequireFromString("100"),
		FeeAmount:         decimal.RequireFromString("2.90"),
	}, testNow)
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("97.10").Equal(e.NetAmount))
	assert.Equal(t, EntryStatusPending, e.Status)
}

func TestNewLedgerEntry_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		params NewEntryParams
	}{
		{name: "missing_purchase", params: NewEntryParams{TransactionNumber: "TXN-2026-000001", UserID: "u", Type: EntryTypePayment, Amount: decimal.NewFromInt(1)}},
		{name: "zero_amount", params: NewEntryParams{TransactionNumber: "TXN-2026-000001", PurchaseID: "p", UserID: "u", Type: EntryTypePayment, Amount: decimal.Zero}},
		{name: "fee_exceeds_amount", params: NewEntryParams{TransactionNumber: "TXN-2026-000001", PurchaseID: "p", UserID: "u", Type: EntryTypePayment, Amount: decimal.NewFromInt(1), FeeAmount: decimal.NewFromInt(2)}},
		{name: "adjustment_without_direction", params: NewEntryParams{TransactionNumber: "TXN-2026-000001", PurchaseID: "p", UserID: "u", Type: EntryTypeAdjustment, Amount: decimal.NewFromInt(1)}},
		{name: "unknown_type", params: NewEntryParams{TransactionNumber: "TXN-2026-000001", PurchaseID: "p", UserID: "u", Type: "bonus", Amount: decimal.NewFromInt(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLedgerEntry(tt.params, testNow)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestLedgerEntry_EscrowLifecycle(t *testing.T) {
	releaseAt := testNow.Add(7 * 24 * time.Hour)
	payout := newEntry(t, EntryTypePayout, "90", EntryStatusCompleted, &releaseAt)

	assert.False(t, payout.IsFrozen())
	assert.False(t, payout.ReleaseDue(releaseAt.Add(-time.Nanosecond)))
	assert.True(t, payout.ReleaseDue(releaseAt))

	assert.True(t, payout.Freeze(testNow))
	assert.True(t, payout.IsFrozen())
	assert.Nil(t, payout.EscrowReleaseDate)
	assert.False(t, payout.Freeze(testNow), "freeze is idempotent")
	assert.False(t, payout.ReleaseDue(releaseAt.Add(365*24*time.Hour)), "frozen payouts never come due")

	later := testNow.Add(10 * 24 * time.Hour)
	assert.True(t, payout.Unfreeze(later, testNow))
	require.NotNil(t, payout.EscrowReleaseDate)
	assert.Equal(t, later, *payout.EscrowReleaseDate)

	assert.True(t, payout.Release(ReleaseReasonHoldElapsed, later))
	assert.False(t, payout.HeldInEscrow)
	assert.Equal(t, EntryStatusCompleted, payout.Status)
	require.NotNil(t, payout.ReleasedFromEscrowAt)
	assert.Equal(t, ReleaseReasonHoldElapsed, payout.EscrowReleaseReason)

	assert.False(t, payout.Release("again", later.Add(time.Hour)), "second release is a no-op")
	assert.Equal(t, ReleaseReasonHoldElapsed, payout.EscrowReleaseReason)
	assert.False(t, payout.CancelHold(ReleaseReasonRefunded, later), "released payouts cannot be cancelled")
}

func TestLedgerEntry_CancelHold(t *testing.T) {
	payout := newEntry(t, EntryTypePayout, "90", EntryStatusCompleted, nil)
	require.True(t, payout.IsFrozen())

	assert.True(t, payout.CancelHold(ReleaseReasonRefunded, testNow))
	assert.Equal(t, EntryStatusCancelled, payout.Status)
	assert.False(t, payout.HeldInEscrow)
	assert.Equal(t, ReleaseReasonRefunded, payout.EscrowReleaseReason)
	assert.False(t, payout.Release(ReleaseReasonHoldElapsed, testNow))
	assert.Equal(t, EntryStatusCancelled, payout.Status)
}

func TestLedgerEntry_Transition(t *testing.T) {
	e := newEntry(t, EntryTypePayment, "100", EntryStatusPending, nil)
	require.NoError(t, e.Transition(EntryStatusCompleted, testNow))
	require.NotNil(t, e.CompletedAt)

	assert.ErrorIs(t, e.Transition(EntryStatusPending, testNow), ErrInvalidState)
	require.NoError(t, e.Transition(EntryStatusReversed, testNow))
	assert.ErrorIs(t, e.Transition(EntryStatusCompleted, testNow), ErrInvalidState)
}

func scenarioLedger(t *testing.T) (*Purchase, []*LedgerEntry) {
	t.Helper()
	p := newTestPurchase(t)
	require.NoError(t, p.MarkPaid(testNow))

	releaseAt := testNow.Add(7 * 24 * time.Hour)
	return p, []*LedgerEntry{
		newEntry(t, EntryTypePayment, "100", EntryStatusCompleted, nil),
		newEntry(t, EntryTypeCommission, "10", EntryStatusCompleted, nil),
		newEntry(t, EntryTypePayout, "90", EntryStatusCompleted, &releaseAt),
	}
}

func TestVerifyLedger_PaidSplit(t *testing.T) {
	p, entries := scenarioLedger(t)
	require.NoError(t, VerifyLedger(p, entries))

	s := SummarizeLedger(entries)
	assert.True(t, decimal.NewFromInt(100).Equal(s.Collected))
	assert.True(t, decimal.NewFromInt(10).Equal(s.Commission))
	assert.True(t, decimal.NewFromInt(90).Equal(s.PayoutHeld))
	assert.True(t, decimal.NewFromInt(100).Equal(s.BuyerNet))
}

func TestVerifyLedger_FullRefundNetsToZero(t *testing.T) {
	p, entries := scenarioLedger(t)
	require.NoError(t, entries[1].Transition(EntryStatusReversed, testNow))
	require.True(t, entries[2].CancelHold(ReleaseReasonRefunded, testNow))
	entries = append(entries, newEntry(t, EntryTypeRefund, "100", EntryStatusCompleted, nil))
	require.NoError(t, p.MarkRefunded(testNow))

	require.NoError(t, VerifyLedger(p, entries))
	assert.True(t, SummarizeLedger(entries).BuyerNet.IsZero())
}

func TestVerifyLedger_DetectsDoublePayment(t *testing.T) {
	p, entries := scenarioLedger(t)
	entries = append(entries, newEntry(t, EntryTypeRefund, "100", EntryStatusCompleted, nil))
	require.NoError(t, p.MarkRefunded(testNow))

	assert.Error(t, VerifyLedger(p, entries))
}

func TestVerifyLedger_DisputedMustBeFrozen(t *testing.T) {
	p, entries := scenarioLedger(t)
	require.NoError(t, p.MarkDisputed(testNow))
	assert.Error(t, VerifyLedger(p, entries))

	entries[2].Freeze(testNow)
	assert.NoError(t, VerifyLedger(p, entries))
}
