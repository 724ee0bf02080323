// Package catalog loads product listings from a JSON file for local runs
// and database seeding.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/shopspring/decimal"
)

// LoadFile reads a JSON array of products from path
func LoadFile(path string) ([]domain.Product, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a JSON array of products. Product ids must be
// unique.
func Parse(raw []byte) ([]domain.Product, error) {
	var products []domain.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(products))
	for i := range products {
		p := &products[i]
		p.Currency = strings.ToUpper(p.Currency)
		if err := validate(p); err != nil {
			return nil, fmt.Errorf("product %d: %w", i, err)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("product %d: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return products, nil
}

func validate(p *domain.Product) error {
	switch {
	case p.ID == "":
		return domain.ErrMissingField.WithDetail("field", "id")
	case p.SellerID == "":
		return domain.ErrMissingField.WithDetail("field", "seller_id")
	case len(p.Currency) != 3:
		return domain.Errorf(domain.ErrorCodeValidationFailed, "currency %q must be an ISO 4217 code", p.Currency)
	case p.CommissionRate.IsNegative() || p.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return domain.Errorf(domain.ErrorCodeValidationFailed, "commission rate %s must be in [0, 1)", p.CommissionRate)
	}
	return domain.ValidateAmount(p.Price)
}
