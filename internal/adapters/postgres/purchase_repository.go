package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
)

const purchaseColumns = `id, order_number, buyer_id, seller_id, product_id,
	amount, commission_rate, commission_amount, seller_amount, currency,
	status, delivery_status, payment_intent_id, can_dispute,
	dispute_deadline, review_deadline, failure_reason,
	paid_at, completed_at, refunded_at, cancelled_at, created_at, updated_at,
	pending_refund_key`

// PurchaseRepository implements ports.PurchaseRepository
type PurchaseRepository struct {
	pool *pgxpool.Pool
}

var _ ports.PurchaseRepository = (*PurchaseRepository)(nil)

// NewPurchaseRepository creates a new purchase repository
func NewPurchaseRepository(db *DBExecutor) *PurchaseRepository {
	return &PurchaseRepository{pool: db.Pool()}
}

// Create inserts a new purchase
func (r *PurchaseRepository) Create(ctx context.Context, tx ports.DBTX, p *domain.Purchase) error {
	amount, err := numeric(p.Amount)
	if err != nil {
		return err
	}
	rate, err := rateNumeric(p.CommissionRate)
	if err != nil {
		return err
	}
	commission, err := numeric(p.CommissionAmount)
	if err != nil {
		return err
	}
	seller, err := numeric(p.SellerAmount)
	if err != nil {
		return err
	}

	_, err = executor(tx, r.pool).Exec(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
		p.ID, p.OrderNumber, p.BuyerID, p.SellerID, p.ProductID,
		amount, rate, commission, seller, p.Currency,
		string(p.Status), string(p.DeliveryStatus), nullText(p.PaymentIntentID), p.CanDispute,
		p.DisputeDeadline, p.ReviewDeadline, nullText(p.FailureReason),
		p.PaidAt, p.CompletedAt, p.RefundedAt, p.CancelledAt, p.CreatedAt, p.UpdatedAt,
		nullText(p.PendingRefundKey),
	)
	if err != nil {
		if _, ok := pgError(err, pgUniqueViolation); ok {
			return domain.WrapError(domain.ErrorCodeInvalidState, "purchase already exists", err)
		}
		return fmt.Errorf("create purchase: %w", err)
	}
	return nil
}

// GetByID retrieves a purchase by its ID
func (r *PurchaseRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Purchase, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1`, id)
	return scanPurchaseRow(row, "purchase_id", id)
}

// GetByIDForUpdate retrieves and row-locks a purchase
func (r *PurchaseRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Purchase, error) {
	q, err := lockingExecutor(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = $1 FOR UPDATE`, id)
	return scanPurchaseRow(row, "purchase_id", id)
}

// GetByPaymentIntentID retrieves the purchase correlated with a gateway intent
func (r *PurchaseRepository) GetByPaymentIntentID(ctx context.Context, db ports.DBTX, intentID string) (*domain.Purchase, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE payment_intent_id = $1`, intentID)
	return scanPurchaseRow(row, "payment_intent_id", intentID)
}

// Update persists the mutable fields of a purchase. Money, currency,
// deadlines and the intent id are immutable and never written here.
func (r *PurchaseRepository) Update(ctx context.Context, tx ports.DBTX, p *domain.Purchase) error {
	tag, err := executor(tx, r.pool).Exec(ctx, `
		UPDATE purchases SET
			status = $2,
			delivery_status = $3,
			can_dispute = $4,
			failure_reason = $5,
			paid_at = $6,
			completed_at = $7,
			refunded_at = $8,
			cancelled_at = $9,
			updated_at = $10,
			pending_refund_key = $11
		WHERE id = $1`,
		p.ID, string(p.Status), string(p.DeliveryStatus), p.CanDispute, nullText(p.FailureReason),
		p.PaidAt, p.CompletedAt, p.RefundedAt, p.CancelledAt, p.UpdatedAt, nullText(p.PendingRefundKey),
	)
	if err != nil {
		return fmt.Errorf("update purchase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPurchaseNotFound.WithDetail("purchase_id", p.ID)
	}
	return nil
}

// ListDisputeWindowsClosing returns disputable purchases past their deadline
func (r *PurchaseRepository) ListDisputeWindowsClosing(ctx context.Context, db ports.DBTX, now time.Time, limit int) ([]*domain.Purchase, error) {
	rows, err := executor(db, r.pool).Query(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE can_dispute AND dispute_deadline < $1
		ORDER BY dispute_deadline
		LIMIT NULLIF($2::int, 0)`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispute windows closing: %w", err)
	}
	defer rows.Close()

	var out []*domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPurchaseRow(row pgx.Row, key, value string) (*domain.Purchase, error) {
	p, err := scanPurchase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPurchaseNotFound.WithDetail(key, value)
	}
	return p, err
}

func scanPurchase(row pgx.Row) (*domain.Purchase, error) {
	var (
		p                                domain.Purchase
		amount, rate, commission, seller pgtype.Numeric
		status, delivery                 string
		intentID, failureReason, pending pgtype.Text
	)
	err := row.Scan(
		&p.ID, &p.OrderNumber, &p.BuyerID, &p.SellerID, &p.ProductID,
		&amount, &rate, &commission, &seller, &p.Currency,
		&status, &delivery, &intentID, &p.CanDispute,
		&p.DisputeDeadline, &p.ReviewDeadline, &failureReason,
		&p.PaidAt, &p.CompletedAt, &p.RefundedAt, &p.CancelledAt, &p.CreatedAt, &p.UpdatedAt,
		&pending,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan purchase: %w", err)
	}

	money, err := decimals(amount, rate, commission, seller)
	if err != nil {
		return nil, fmt.Errorf("convert purchase %s: %w", p.ID, err)
	}
	p.Amount, p.CommissionRate, p.CommissionAmount, p.SellerAmount = money[0], money[1], money[2], money[3]
	p.Status = domain.PurchaseStatus(status)
	p.DeliveryStatus = domain.DeliveryStatus(delivery)
	p.PaymentIntentID = intentID.String
	p.FailureReason = failureReason.String
	p.PendingRefundKey = pending.String

	p.DisputeDeadline = timeutil.ToUTC(p.DisputeDeadline)
	p.ReviewDeadline = timeutil.ToUTC(p.ReviewDeadline)
	p.CreatedAt = timeutil.ToUTC(p.CreatedAt)
	p.UpdatedAt = timeutil.ToUTC(p.UpdatedAt)
	p.PaidAt = timeutil.ToUTCPtr(p.PaidAt)
	p.CompletedAt = timeutil.ToUTCPtr(p.CompletedAt)
	p.RefundedAt = timeutil.ToUTCPtr(p.RefundedAt)
	p.CancelledAt = timeutil.ToUTCPtr(p.CancelledAt)
	return &p, nil
}
