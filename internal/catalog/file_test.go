package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "go-course", "seller_id": "seller-1", "title": "Go in Practice", "price": "49.99",
		 "currency": "usd", "commission_rate": "0.15", "purchasable": true}
	]`), 0o600))

	products, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, products, 1)

	p := products[0]
	assert.Equal(t, "go-course", p.ID)
	assert.Equal(t, "USD", p.Currency)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("49.99")))
	assert.True(t, p.CommissionRate.Equal(decimal.RequireFromString("0.15")))
	assert.True(t, p.Purchasable)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not_json", raw: `{`},
		{name: "missing_id", raw: `[{"seller_id": "s", "price": "1", "currency": "USD"}]`},
		{name: "missing_seller", raw: `[{"id": "p", "price": "1", "currency": "USD"}]`},
		{name: "zero_price", raw: `[{"id": "p", "seller_id": "s", "price": "0", "currency": "USD"}]`},
		{name: "bad_currency", raw: `[{"id": "p", "seller_id": "s", "price": "1", "currency": "DOLLARS"}]`},
		{name: "full_commission", raw: `[{"id": "p", "seller_id": "s", "price": "1", "currency": "USD", "commission_rate": "1"}]`},
		{name: "duplicate_id", raw: `[
			{"id": "p", "seller_id": "s", "price": "1", "currency": "USD"},
			{"id": "p", "seller_id": "s", "price": "2", "currency": "USD"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestParse_ValidationErrorsAreDomainErrors(t *testing.T) {
	_, err := Parse([]byte(`[{"seller_id": "s", "price": "1", "currency": "USD"}]`))
	assert.True(t, domain.IsValidationError(err))
}
