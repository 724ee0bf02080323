package memory

import (
	"context"
	"sort"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// LedgerRepository implements ports.LedgerRepository over a Store
type LedgerRepository struct {
	s *Store
}

// NewLedgerRepository creates a ledger repository backed by s
func NewLedgerRepository(s *Store) *LedgerRepository {
	return &LedgerRepository{s: s}
}

// Append stores a new entry
func (r *LedgerRepository) Append(_ context.Context, _ ports.DBTX, e *domain.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.data.entries[e.ID]; exists {
		return domain.Errorf(domain.ErrorCodeInvalidState, "ledger entry %s already exists", e.ID)
	}
	r.s.data.entries[e.ID] = *e
	r.s.data.entryOrder = append(r.s.data.entryOrder, e.ID)
	return nil
}

// GetByID returns a copy of the entry
func (r *LedgerRepository) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	e, ok := r.s.data.entries[id]
	if !ok {
		return nil, domain.ErrLedgerEntryNotFound.WithDetail("entry_id", id)
	}
	return &e, nil
}

// GetByIDForUpdate returns a copy of the entry
func (r *LedgerRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.LedgerEntry, error) {
	return r.GetByID(ctx, tx, id)
}

// ListByPurchase returns a purchase's entries in append order
func (r *LedgerRepository) ListByPurchase(_ context.Context, _ ports.DBTX, purchaseID string) ([]*domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*domain.LedgerEntry{}
	for _, id := range r.s.data.entryOrder {
		e := r.s.data.entries[id]
		if e.PurchaseID == purchaseID {
			out = append(out, &e)
		}
	}
	return out, nil
}

// UpdateStatus persists the mutable fields of e
func (r *LedgerRepository) UpdateStatus(_ context.Context, _ ports.DBTX, e *domain.LedgerEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.data.entries[e.ID]
	if !ok {
		return domain.ErrLedgerEntryNotFound.WithDetail("entry_id", e.ID)
	}
	current.Status = e.Status
	current.HeldInEscrow = e.HeldInEscrow
	current.EscrowReleaseDate = e.EscrowReleaseDate
	current.ReleasedFromEscrowAt = e.ReleasedFromEscrowAt
	current.EscrowReleaseReason = e.EscrowReleaseReason
	current.GatewayReference = e.GatewayReference
	current.CompletedAt = e.CompletedAt
	current.UpdatedAt = e.UpdatedAt
	r.s.data.entries[e.ID] = current
	return nil
}

// ListReleaseDue returns held payouts whose timer elapsed, oldest first
func (r *LedgerRepository) ListReleaseDue(_ context.Context, _ ports.DBTX, now time.Time, limit int) ([]*domain.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.LedgerEntry
	for _, id := range r.s.data.entryOrder {
		e := r.s.data.entries[id]
		if e.Type == domain.EntryTypePayout && e.ReleaseDue(now) {
			out = append(out, &e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EscrowReleaseDate.Before(*out[j].EscrowReleaseDate)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
