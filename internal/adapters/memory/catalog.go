package memory

import (
	"context"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// SequenceRepository implements ports.SequenceRepository over a Store
type SequenceRepository struct {
	s *Store
}

// NewSequenceRepository creates a sequence repository backed by s
func NewSequenceRepository(s *Store) *SequenceRepository {
	return &SequenceRepository{s: s}
}

// Next increments the (kind, year) counter
func (r *SequenceRepository) Next(_ context.Context, _ ports.DBTX, kind domain.SequenceKind, year int) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := sequenceKey{kind: kind, year: year}
	next := r.s.data.sequences[key] + 1
	if next > domain.MaxSequenceValue {
		return 0, domain.Errorf(domain.ErrorCodeInternalError, "%s sequence exhausted for %d", kind, year)
	}
	r.s.data.sequences[key] = next
	return next, nil
}

// ProductCatalog implements ports.ProductCatalog over a Store
type ProductCatalog struct {
	s *Store
}

// NewProductCatalog creates a catalog backed by s
func NewProductCatalog(s *Store) *ProductCatalog {
	return &ProductCatalog{s: s}
}

// PutProduct adds or replaces a product
func (c *ProductCatalog) PutProduct(p domain.Product) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.data.products[p.ID] = p
}

// GetProduct returns a copy of the product
func (c *ProductCatalog) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	p, ok := c.s.data.products[productID]
	if !ok {
		return nil, domain.ErrProductNotFound.WithDetail("product_id", productID)
	}
	return &p, nil
}
