// Package sequence allocates the human-readable ORD/TXN/DISP identifiers.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
)

// Allocator formats per-year counters into persisted identifiers
type Allocator struct {
	repo ports.SequenceRepository
}

// NewAllocator creates an allocator backed by repo
func NewAllocator(repo ports.SequenceRepository) *Allocator {
	return &Allocator{repo: repo}
}

// Next returns the next KIND-YYYY-NNNNNN identifier for the calendar year of
// now. It must run inside the transaction that persists the identifier so a
// rollback also returns the counter.
func (a *Allocator) Next(ctx context.Context, tx ports.DBTX, kind domain.SequenceKind, now time.Time) (string, error) {
	year := now.UTC().Year()

	value, err := a.repo.Next(ctx, tx, kind, year)
	if err != nil {
		return "", fmt.Errorf("allocate %s number: %w", kind, err)
	}
	return domain.FormatSequenceNumber(kind, year, value)
}
