package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// SequenceRepository implements ports.SequenceRepository with one row per
// (kind, year). The upsert takes the row lock, so concurrent callers are
// serialized and never observe the same value.
type SequenceRepository struct {
	pool *pgxpool.Pool
}

var _ ports.SequenceRepository = (*SequenceRepository)(nil)

// NewSequenceRepository creates a new sequence repository
func NewSequenceRepository(db *DBExecutor) *SequenceRepository {
	return &SequenceRepository{pool: db.Pool()}
}

// Next increments and returns the counter for kind and year
func (r *SequenceRepository) Next(ctx context.Context, tx ports.DBTX, kind domain.SequenceKind, year int) (int64, error) {
	var value int64
	err := executor(tx, r.pool).QueryRow(ctx, `
		INSERT INTO sequences (kind, year, value) VALUES ($1, $2, 1)
		ON CONFLICT (kind, year) DO UPDATE SET value = sequences.value + 1
		RETURNING value`, string(kind), year).Scan(&value)
	if err != nil {
		if _, ok := pgError(err, pgCheckViolation); ok {
			return 0, domain.Errorf(domain.ErrorCodeInternalError, "%s sequence exhausted for %d", kind, year)
		}
		return 0, fmt.Errorf("next %s sequence: %w", kind, err)
	}
	return value, nil
}
