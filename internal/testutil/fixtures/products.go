package fixtures

import (
	"github.com/google/uuid"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/shopspring/decimal"
)

// ProductBuilder provides fluent API for building test products.
type ProductBuilder struct {
	product domain.Product
}

// NewProduct creates a product builder: $100.00 USD, 10% commission,
// sold by seller-1.
func NewProduct() *ProductBuilder {
	return &ProductBuilder{
		product: domain.Product{
			ID:             "prod-" + uuid.New().String()[:8],
			SellerID:       "seller-1",
			Title:          "Go Concurrency Course",
			Price:          decimal.NewFromInt(100),
			Currency:       "USD",
			CommissionRate: decimal.RequireFromString("0.10"),
			Purchasable:    true,
		},
	}
}

func (b *ProductBuilder) WithID(id string) *ProductBuilder {
	b.product.ID = id
	return b
}

func (b *ProductBuilder) WithSeller(sellerID string) *ProductBuilder {
	b.product.SellerID = sellerID
	return b
}

func (b *ProductBuilder) WithPrice(price string) *ProductBuilder {
	b.product.Price = Money(price)
	return b
}

func (b *ProductBuilder) WithCommissionRate(rate string) *ProductBuilder {
	b.product.CommissionRate = Money(rate)
	return b
}

func (b *ProductBuilder) WithCurrency(currency string) *ProductBuilder {
	b.product.Currency = currency
	return b
}

func (b *ProductBuilder) NotPurchasable() *ProductBuilder {
	b.product.Purchasable = false
	return b
}

// Build returns the product.
func (b *ProductBuilder) Build() domain.Product {
	return b.product
}
