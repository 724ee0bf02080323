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

const disputeColumns = `id, dispute_number, purchase_id, disputer_id, disputed_against_id, assigned_admin_id,
	type, priority, status, title, description, evidence, amount, currency,
	response_deadline, resolution_deadline, expires_at, response_count, last_response_at, escalated_at,
	resolution, resolution_amount, resolution_notes, resolved_by, resolved_at, closed_at,
	fraud_indicators, flagged_as_fraud, created_at, updated_at, pending_resolution`

const disputeOnePerPurchase = "disputes_one_per_purchase"

// DisputeRepository implements ports.DisputeRepository
type DisputeRepository struct {
	pool *pgxpool.Pool
}

var _ ports.DisputeRepository = (*DisputeRepository)(nil)

// NewDisputeRepository creates a new dispute repository
func NewDisputeRepository(db *DBExecutor) *DisputeRepository {
	return &DisputeRepository{pool: db.Pool()}
}

// Create inserts a dispute. The one-per-purchase constraint surfaces as
// domain.ErrAlreadyDisputed.
func (r *DisputeRepository) Create(ctx context.Context, tx ports.DBTX, d *domain.Dispute) error {
	amount, err := numeric(d.Amount)
	if err != nil {
		return err
	}
	resolutionAmount, err := nullNumeric(d.ResolutionAmount)
	if err != nil {
		return err
	}

	_, err = executor(tx, r.pool).Exec(ctx, `
		INSERT INTO disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`,
		d.ID, d.DisputeNumber, d.PurchaseID, d.DisputerID, d.DisputedAgainstID, nullText(d.AssignedAdminID),
		string(d.Type), string(d.Priority), string(d.Status), d.Title, d.Description, stringsOrEmpty(d.Evidence), amount, d.Currency,
		d.ResponseDeadline, d.ResolutionDeadline, d.ExpiresAt, d.ResponseCount, d.LastResponseAt, d.EscalatedAt,
		nullText(d.Resolution), resolutionAmount, nullText(d.ResolutionNotes), nullText(d.ResolvedBy), d.ResolvedAt, d.ClosedAt,
		indicatorStrings(d.FraudIndicators), d.FlaggedAsFraud, d.CreatedAt, d.UpdatedAt, nullText(d.PendingResolution),
	)
	if err != nil {
		if pgErr, ok := pgError(err, pgUniqueViolation); ok && pgErr.ConstraintName == disputeOnePerPurchase {
			return domain.ErrAlreadyDisputed.WithDetail("purchase_id", d.PurchaseID)
		}
		return fmt.Errorf("create dispute: %w", err)
	}
	return nil
}

// GetByID retrieves a dispute by its ID
func (r *DisputeRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Dispute, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	return scanDisputeRow(row, "dispute_id", id)
}

// GetByIDForUpdate retrieves and row-locks a dispute
func (r *DisputeRepository) GetByIDForUpdate(ctx context.Context, tx ports.DBTX, id string) (*domain.Dispute, error) {
	q, err := lockingExecutor(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id)
	return scanDisputeRow(row, "dispute_id", id)
}

// GetByPurchaseID retrieves the dispute opened against a purchase
func (r *DisputeRepository) GetByPurchaseID(ctx context.Context, db ports.DBTX, purchaseID string) (*domain.Dispute, error) {
	row := executor(db, r.pool).QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE purchase_id = $1`, purchaseID)
	return scanDisputeRow(row, "purchase_id", purchaseID)
}

// Update persists the mutable fields of a dispute
func (r *DisputeRepository) Update(ctx context.Context, tx ports.DBTX, d *domain.Dispute) error {
	resolutionAmount, err := nullNumeric(d.ResolutionAmount)
	if err != nil {
		return err
	}

	tag, err := executor(tx, r.pool).Exec(ctx, `
		UPDATE disputes SET
			assigned_admin_id = $2,
			priority = $3,
			status = $4,
			evidence = $5,
			response_deadline = $6,
			response_count = $7,
			last_response_at = $8,
			escalated_at = $9,
			resolution = $10,
			resolution_amount = $11,
			resolution_notes = $12,
			resolved_by = $13,
			resolved_at = $14,
			closed_at = $15,
			updated_at = $16,
			pending_resolution = $17
		WHERE id = $1`,
		d.ID, nullText(d.AssignedAdminID), string(d.Priority), string(d.Status), stringsOrEmpty(d.Evidence),
		d.ResponseDeadline, d.ResponseCount, d.LastResponseAt, d.EscalatedAt,
		nullText(d.Resolution), resolutionAmount, nullText(d.ResolutionNotes), nullText(d.ResolvedBy),
		d.ResolvedAt, d.ClosedAt, d.UpdatedAt, nullText(d.PendingResolution),
	)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDisputeNotFound.WithDetail("dispute_id", d.ID)
	}
	return nil
}

// CountByDisputerSince counts disputes opened by disputerID at or after since
func (r *DisputeRepository) CountByDisputerSince(ctx context.Context, db ports.DBTX, disputerID string, since time.Time) (int, error) {
	var count int
	err := executor(db, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM disputes WHERE disputer_id = $1 AND created_at >= $2`,
		disputerID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count disputes: %w", err)
	}
	return count, nil
}

// ListOverdueResponses returns open, unescalated disputes past their response deadline
func (r *DisputeRepository) ListOverdueResponses(ctx context.Context, db ports.DBTX, now time.Time, limit int) ([]*domain.Dispute, error) {
	return r.list(ctx, db, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status IN ('open', 'investigating', 'waiting_response')
			AND response_deadline < $1
		ORDER BY created_at
		LIMIT NULLIF($2::int, 0)`, now, limit)
}

// ListExpiring returns open disputes past their expiry
func (r *DisputeRepository) ListExpiring(ctx context.Context, db ports.DBTX, now time.Time, limit int) ([]*domain.Dispute, error) {
	return r.list(ctx, db, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status IN ('open', 'investigating', 'waiting_response', 'escalated')
			AND expires_at < $1
		ORDER BY created_at
		LIMIT NULLIF($2::int, 0)`, now, limit)
}

func (r *DisputeRepository) list(ctx context.Context, db ports.DBTX, sql string, args ...interface{}) ([]*domain.Dispute, error) {
	rows, err := executor(db, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list disputes: %w", err)
	}
	defer rows.Close()

	var out []*domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AppendEvent adds a status history record
func (r *DisputeRepository) AppendEvent(ctx context.Context, tx ports.DBTX, ev *domain.DisputeEvent) error {
	_, err := executor(tx, r.pool).Exec(ctx, `
		INSERT INTO dispute_events (id, dispute_id, actor_id, action, from_status, to_status, message, evidence_refs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.DisputeID, ev.ActorID, string(ev.Action), nullText(string(ev.FromStatus)), string(ev.ToStatus),
		ev.Message, stringsOrEmpty(ev.EvidenceRefs), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append dispute event: %w", err)
	}
	return nil
}

// ListEvents returns a dispute's history in append order
func (r *DisputeRepository) ListEvents(ctx context.Context, db ports.DBTX, disputeID string) ([]*domain.DisputeEvent, error) {
	rows, err := executor(db, r.pool).Query(ctx, `
		SELECT id, dispute_id, actor_id, action, from_status, to_status, message, evidence_refs, created_at
		FROM dispute_events
		WHERE dispute_id = $1
		ORDER BY seq`, disputeID)
	if err != nil {
		return nil, fmt.Errorf("list dispute events: %w", err)
	}
	defer rows.Close()

	out := []*domain.DisputeEvent{}
	for rows.Next() {
		var (
			ev         domain.DisputeEvent
			action, to string
			from       pgtype.Text
		)
		if err := rows.Scan(&ev.ID, &ev.DisputeID, &ev.ActorID, &action, &from, &to,
			&ev.Message, &ev.EvidenceRefs, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dispute event: %w", err)
		}
		ev.Action = domain.DisputeAction(action)
		ev.FromStatus = domain.DisputeStatus(from.String)
		ev.ToStatus = domain.DisputeStatus(to)
		ev.CreatedAt = timeutil.ToUTC(ev.CreatedAt)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func scanDisputeRow(row pgx.Row, key, value string) (*domain.Dispute, error) {
	d, err := scanDispute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDisputeNotFound.WithDetail(key, value)
	}
	return d, err
}

func scanDispute(row pgx.Row) (*domain.Dispute, error) {
	var (
		d                                    domain.Dispute
		typ, priority, status                string
		amount, resolutionAmount             pgtype.Numeric
		admin, resolution, notes, resolvedBy pgtype.Text
		pendingResolution                    pgtype.Text
		indicators                           []string
	)
	err := row.Scan(
		&d.ID, &d.DisputeNumber, &d.PurchaseID, &d.DisputerID, &d.DisputedAgainstID, &admin,
		&typ, &priority, &status, &d.Title, &d.Description, &d.Evidence, &amount, &d.Currency,
		&d.ResponseDeadline, &d.ResolutionDeadline, &d.ExpiresAt, &d.ResponseCount, &d.LastResponseAt, &d.EscalatedAt,
		&resolution, &resolutionAmount, &notes, &resolvedBy, &d.ResolvedAt, &d.ClosedAt,
		&indicators, &d.FlaggedAsFraud, &d.CreatedAt, &d.UpdatedAt, &pendingResolution,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan dispute: %w", err)
	}

	if d.Amount, err = pgNumericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("convert dispute %s amount: %w", d.ID, err)
	}
	if d.ResolutionAmount, err = pgNumericToDecimalPtr(resolutionAmount); err != nil {
		return nil, fmt.Errorf("convert dispute %s resolution amount: %w", d.ID, err)
	}

	d.Type = domain.DisputeType(typ)
	d.Priority = domain.DisputePriority(priority)
	d.Status = domain.DisputeStatus(status)
	d.AssignedAdminID = admin.String
	d.Resolution = resolution.String
	d.ResolutionNotes = notes.String
	d.ResolvedBy = resolvedBy.String
	d.PendingResolution = pendingResolution.String
	d.FraudIndicators = make([]domain.FraudIndicator, len(indicators))
	for i, ind := range indicators {
		d.FraudIndicators[i] = domain.FraudIndicator(ind)
	}
	if d.Evidence == nil {
		d.Evidence = []string{}
	}

	d.CreatedAt = timeutil.ToUTC(d.CreatedAt)
	d.UpdatedAt = timeutil.ToUTC(d.UpdatedAt)
	d.ResponseDeadline = timeutil.ToUTC(d.ResponseDeadline)
	d.ResolutionDeadline = timeutil.ToUTC(d.ResolutionDeadline)
	d.ExpiresAt = timeutil.ToUTC(d.ExpiresAt)
	d.LastResponseAt = timeutil.ToUTCPtr(d.LastResponseAt)
	d.EscalatedAt = timeutil.ToUTCPtr(d.EscalatedAt)
	d.ResolvedAt = timeutil.ToUTCPtr(d.ResolvedAt)
	d.ClosedAt = timeutil.ToUTCPtr(d.ClosedAt)
	return &d, nil
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func indicatorStrings(in []domain.FraudIndicator) []string {
	out := make([]string, len(in))
	for i, ind := range in {
		out[i] = string(ind)
	}
	return out
}
