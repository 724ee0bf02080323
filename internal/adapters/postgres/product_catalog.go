package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// ProductCatalog implements ports.ProductCatalog over the products table
type ProductCatalog struct {
	pool *pgxpool.Pool
}

var _ ports.ProductCatalog = (*ProductCatalog)(nil)

// NewProductCatalog creates a new product catalog
func NewProductCatalog(db *DBExecutor) *ProductCatalog {
	return &ProductCatalog{pool: db.Pool()}
}

// GetProduct retrieves a product by its ID
func (c *ProductCatalog) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var (
		p           domain.Product
		price, rate pgtype.Numeric
	)
	err := c.pool.QueryRow(ctx, `
		SELECT id, seller_id, title, price, currency, commission_rate, purchasable
		FROM products WHERE id = $1`, productID).
		Scan(&p.ID, &p.SellerID, &p.Title, &price, &p.Currency, &rate, &p.Purchasable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProductNotFound.WithDetail("product_id", productID)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	values, err := decimals(price, rate)
	if err != nil {
		return nil, fmt.Errorf("convert product %s: %w", productID, err)
	}
	p.Price, p.CommissionRate = values[0], values[1]
	return &p, nil
}

// PutProduct inserts or replaces a product
func (c *ProductCatalog) PutProduct(ctx context.Context, p *domain.Product) error {
	price, err := numeric(p.Price)
	if err != nil {
		return err
	}
	rate, err := rateNumeric(p.CommissionRate)
	if err != nil {
		return err
	}

	_, err = c.pool.Exec(ctx, `
		INSERT INTO products (id, seller_id, title, price, currency, commission_rate, purchasable)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			seller_id = EXCLUDED.seller_id,
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			commission_rate = EXCLUDED.commission_rate,
			purchasable = EXCLUDED.purchasable,
			updated_at = NOW()`,
		p.ID, p.SellerID, p.Title, price, p.Currency, rate, p.Purchasable)
	if err != nil {
		return fmt.Errorf("put product: %w", err)
	}
	return nil
}
