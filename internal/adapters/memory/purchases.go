package memory

import (
	"context"
	"sort"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// PurchaseRepository implements ports.PurchaseRepository over a Store
type PurchaseRepository struct {
	s *Store
}

// NewPurchaseRepository creates a purchase repository backed by s
func NewPurchaseRepository(s *Store) *PurchaseRepository {
	return &PurchaseRepository{s: s}
}

// Create inserts a new purchase
func (r *PurchaseRepository) Create(_ context.Context, _ ports.DBTX, p *domain.Purchase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.data.purchases[p.ID]; exists {
		return domain.Errorf(domain.ErrorCodeInvalidState, "purchase %s already exists", p.ID)
	}
	if p.PaymentIntentID != "" {
		if _, exists := r.s.data.intentIndex[p.PaymentIntentID]; exists {
			return domain.Errorf(domain.ErrorCodeInvalidState, "payment intent %s already bound", p.PaymentIntentID)
		}
		r.s.data.intentIndex[p.PaymentIntentID] = p.ID
	}
	r.s.data.purchases[p.ID] = *p
	return nil
}

// GetByID returns a copy of the purchase
func (r *PurchaseRepository) GetByID(_ context.Context, _ ports.DBTX, id string) (*domain.Purchase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.data.purchases[id]
	if !ok {
		return nil, domain.ErrPurchaseNotFound.WithDetail("purchase_id", id)
	}
	return &p, nil
}

// GetByIDForUpdate returns a copy of the purchase; the transaction lock
// already serializes writers
func (r *PurchaseRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Purchase, error) {
	return r.GetByID(ctx, tx, id)
}

// GetByPaymentIntentID looks a purchase up by its gateway intent
func (r *PurchaseRepository) GetByPaymentIntentID(ctx context.Context, db ports.DBTX, intentID string) (*domain.Purchase, error) {
	r.s.mu.RLock()
	id, ok := r.s.data.intentIndex[intentID]
	r.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrPurchaseNotFound.WithDetail("payment_intent_id", intentID)
	}
	return r.GetByID(ctx, db, id)
}

// Update replaces the stored purchase. Immutable fields are kept from the
// stored copy.
func (r *PurchaseRepository) Update(_ context.Context, _ ports.DBTX, p *domain.Purchase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.data.purchases[p.ID]
	if !ok {
		return domain.ErrPurchaseNotFound.WithDetail("purchase_id", p.ID)
	}
	next := *p
	next.OrderNumber = current.OrderNumber
	next.Amount = current.Amount
	next.CommissionAmount = current.CommissionAmount
	next.SellerAmount = current.SellerAmount
	next.Currency = current.Currency
	next.PaymentIntentID = current.PaymentIntentID
	next.DisputeDeadline = current.DisputeDeadline
	next.ReviewDeadline = current.ReviewDeadline
	r.s.data.purchases[p.ID] = next
	return nil
}

// ListDisputeWindowsClosing returns disputable purchases past their deadline
func (r *PurchaseRepository) ListDisputeWindowsClosing(_ context.Context, _ ports.DBTX, now time.Time, limit int) ([]*domain.Purchase, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*domain.Purchase
	for _, p := range r.s.data.purchases {
		if p.CanDispute && p.DisputeDeadline.Before(now) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisputeDeadline.Before(out[j].DisputeDeadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
