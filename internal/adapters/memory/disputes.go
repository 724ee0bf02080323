package memory

import (
	"context"
	"sort"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// DisputeRepository implements ports.DisputeRepository over a Store
type DisputeRepository struct {
	s *Store
}

// NewDisputeRepository creates a dispute repository backed by s
func NewDisputeRepository(s *Store) *DisputeRepository {
	return &DisputeRepository{s: s}
}

// Create inserts a dispute, enforcing one dispute per purchase
func (r *DisputeRepository) Create(_ context.Context, _ ports.DBTX, d *domain.Dispute) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.data.disputes {
		if existing.PurchaseID == d.PurchaseID {
			return domain.ErrAlreadyDisputed.WithDetail("purchase_id", d.PurchaseID)
		}
	}
	r.s.data.disputes[d.ID] = cloneDispute(*d)
	return nil
}

// GetByID returns a copy of the dispute
func (r *DisputeRepository) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.Dispute, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	d, ok := r.s.data.disputes[id]
	if !ok {
		return nil, domain.ErrDisputeNotFound.WithDetail("dispute_id", id)
	}
	d = cloneDispute(d)
	return &d, nil
}

// GetByIDForUpdate returns a copy of the dispute
func (r *DisputeRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Dispute, error) {
	return r.GetByID(ctx, tx, id)
}

// GetByPurchaseID returns the dispute opened against a purchase
func (r *DisputeRepository) GetByPurchaseID(_ context.Context, _ ports.DBTX, purchaseID string) (*domain.Dispute, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, d := range r.s.data.disputes {
		if d.PurchaseID == purchaseID {
			d = cloneDispute(d)
			return &d, nil
		}
	}
	return nil, domain.ErrDisputeNotFound.WithDetail("purchase_id", purchaseID)
}

// Update replaces the stored dispute
func (r *DisputeRepository) Update(_ context.Context, _ ports.DBTX, d *domain.Dispute) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.data.disputes[d.ID]; !ok {
		return domain.ErrDisputeNotFound.WithDetail("dispute_id", d.ID)
	}
	r.s.data.disputes[d.ID] = cloneDispute(*d)
	return nil
}

// CountByDisputerSince counts disputes opened by disputerID at or after since
func (r *DisputeRepository) CountByDisputerSince(_ context.Context, _ ports.DBTX, disputerID string, since time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, d := range r.s.data.disputes {
		if d.DisputerID == disputerID && !d.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// ListOverdueResponses returns open, unescalated disputes past their response deadline
func (r *DisputeRepository) ListOverdueResponses(_ context.Context, _ ports.DBTX, now time.Time, limit int) ([]*domain.Dispute, error) {
	return r.list(func(d *domain.Dispute) bool { return d.ResponseOverdue(now) }, limit)
}

// ListExpiring returns open disputes past their expiry
func (r *DisputeRepository) ListExpiring(_ context.Context, _ ports.DBTX, now time.Time, limit int) ([]*domain.Dispute, error) {
	return r.list(func(d *domain.Dispute) bool { return d.IsExpired(now) }, limit)
}

func (r *DisputeRepository) list(match func(*domain.Dispute) bool, limit int) ([]*domain.Dispute, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Dispute
	for _, d := range r.s.data.disputes {
		d := cloneDispute(d)
		if match(&d) {
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendEvent adds a history record
func (r *DisputeRepository) AppendEvent(_ context.Context, _ ports.DBTX, ev *domain.DisputeEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.data.events = append(r.s.data.events, cloneEvent(*ev))
	return nil
}

// ListEvents returns a dispute's history in append order
func (r *DisputeRepository) ListEvents(_ context.Context, _ ports.DBTX, disputeID string) ([]*domain.DisputeEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []*domain.DisputeEvent{}
	for _, ev := range r.s.data.events {
		if ev.DisputeID == disputeID {
			ev := cloneEvent(ev)
			out = append(out, &ev)
		}
	}
	return out, nil
}
