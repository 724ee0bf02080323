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

const ledgerColumns = `id, transaction_number, purchase_id, user_id, type, direction,
	amount, fee_amount, net_amount, currency, status,
	held_in_escrow, escrow_release_date, released_from_escrow_at, escrow_release_reason,
	gateway_reference, description, completed_at, created_at, updated_at`

// LedgerRepository implements ports.LedgerRepository. Rows are only ever
// inserted or transitioned.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

var _ ports.LedgerRepository = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *DBExecutor) *LedgerRepository {
	return &LedgerRepository{pool: db.Pool()}
}

// Append inserts a ledger entry
func (r *LedgerRepository) Append(ctx context.Context, tx ports.DBTX, e *domain.LedgerEntry) error {
	money, err := toNumerics(e.Amount, e.FeeAmount, e.NetAmount)
	if err != nil {
		return err
	}

	_, err = executor(tx, r.pool).Exec(ctx, `
		INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		e.ID, e.TransactionNumber, e.PurchaseID, e.UserID, string(e.Type), string(e.Direction),
		money[0], money[1], money[2], e.Currency, string(e.Status),
		e.HeldInEscrow, e.EscrowReleaseDate, e.ReleasedFromEscrowAt, nullText(e.EscrowReleaseReason),
		nullText(e.GatewayReference), nullText(e.Description), e.CompletedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// GetByID retrieves an entry by its ID
func (r *LedgerRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.LedgerEntry, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1`, id)
	return scanEntryRow(row, id)
}

// GetByIDForUpdate retrieves and row-locks an entry
func (r *LedgerRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.LedgerEntry, error) {
	q, err := lockingExecutor(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1 FOR UPDATE`, id)
	return scanEntryRow(row, id)
}

// ListByPurchase returns a purchase's entries in append order
func (r *LedgerRepository) ListByPurchase(ctx context.Context, db ports.DBTX, purchaseID string) ([]*domain.LedgerEntry, error) {
	rows, err := executor(db, r.pool).Query(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE purchase_id = $1
		ORDER BY seq`, purchaseID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return collectEntries(rows)
}

// UpdateStatus persists the status, escrow and completion fields of e.
// Amounts and identity never change after append.
func (r *LedgerRepository) UpdateStatus(ctx context.Context, tx ports.DBTX, e *domain.LedgerEntry) error {
	tag, err := executor(tx, r.pool).Exec(ctx, `
		UPDATE ledger_entries SET
			status = $2,
			held_in_escrow = $3,
			escrow_release_date = $4,
			released_from_escrow_at = $5,
			escrow_release_reason = $6,
			gateway_reference = $7,
			completed_at = $8,
			updated_at = $9
		WHERE id = $1`,
		e.ID, string(e.Status), e.HeldInEscrow, e.EscrowReleaseDate, e.ReleasedFromEscrowAt,
		nullText(e.EscrowReleaseReason), nullText(e.GatewayReference), e.CompletedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLedgerEntryNotFound.WithDetail("entry_id", e.ID)
	}
	return nil
}

// ListReleaseDue returns held, unfrozen payouts whose release date has passed
func (r *LedgerRepository) ListReleaseDue(ctx context.Context, db ports.DBTX, now time.Time, limit int) ([]*domain.LedgerEntry, error) {
	rows, err := executor(db, r.pool).Query(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE type = 'payout'
			AND held_in_escrow
			AND status = 'completed'
			AND escrow_release_date IS NOT NULL
			AND escrow_release_date <= $1
		ORDER BY escrow_release_date, seq
		LIMIT NULLIF($2::int, 0)`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list release due: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]*domain.LedgerEntry, error) {
	defer rows.Close()

	out := []*domain.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntryRow(row pgx.Row, id string) (*domain.LedgerEntry, error) {
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrLedgerEntryNotFound.WithDetail("entry_id", id)
	}
	return e, err
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var (
		e                        domain.LedgerEntry
		amount, fee, net         pgtype.Numeric
		typ, direction, status   string
		reason, gatewayRef, desc pgtype.Text
	)
	err := row.Scan(
		&e.ID, &e.TransactionNumber, &e.PurchaseID, &e.UserID, &typ, &direction,
		&amount, &fee, &net, &e.Currency, &status,
		&e.HeldInEscrow, &e.EscrowReleaseDate, &e.ReleasedFromEscrowAt, &reason,
		&gatewayRef, &desc, &e.CompletedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}

	money, err := decimals(amount, fee, net)
	if err != nil {
		return nil, fmt.Errorf("convert ledger entry %s: %w", e.ID, err)
	}
	e.Amount, e.FeeAmount, e.NetAmount = money[0], money[1], money[2]
	e.Type = domain.EntryType(typ)
	e.Direction = domain.EntryDirection(direction)
	e.Status = domain.EntryStatus(status)
	e.EscrowReleaseReason = reason.String
	e.GatewayReference = gatewayRef.String
	e.Description = desc.String

	e.CreatedAt = timeutil.ToUTC(e.CreatedAt)
	e.UpdatedAt = timeutil.ToUTC(e.UpdatedAt)
	e.CompletedAt = timeutil.ToUTCPtr(e.CompletedAt)
	e.EscrowReleaseDate = timeutil.ToUTCPtr(e.EscrowReleaseDate)
	e.ReleasedFromEscrowAt = timeutil.ToUTCPtr(e.ReleasedFromEscrowAt)
	return &e, nil
}
