package ports

import (
	"context"
	"time"

	"github.com/kevin07696/escrow-service/internal/domain"
)

// PurchaseRepository persists purchases. ForUpdate variants lock the row
// until the surrounding transaction ends.
type PurchaseRepository interface {
	Create(ctx context.Context, tx DBTX, p *domain.Purchase) error
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Purchase, error)
	GetByIDForUpdate(ctx context.Context, tx DBTX, id string) (*domain.Purchase, error)
	GetByPaymentIntentID(ctx context.Context, db DBTX, intentID string) (*domain.Purchase, error)
	Update(ctx context.Context, tx DBTX, p *domain.Purchase) error

	// ListDisputeWindowsClosing returns purchases still marked disputable
	// whose dispute deadline is before now
	ListDisputeWindowsClosing(ctx context.Context, db DBTX, now time.Time, limit int) ([]*domain.Purchase, error)
}

// LedgerRepository is the append-and-transition ledger store. Entries are
// never deleted.
type LedgerRepository interface {
	Append(ctx context.Context, tx DBTX, e *domain.LedgerEntry) error
	GetByID(ctx context.Context, db DBTX, id string) (*domain.LedgerEntry, error)
	GetByIDForUpdate(ctx context.Context, tx DBTX, id string) (*domain.LedgerEntry, error)

	// ListByPurchase returns entries in creation order
	ListByPurchase(ctx context.Context, db DBTX, purchaseID string) ([]*domain.LedgerEntry, error)

	// UpdateStatus persists status, escrow and completion fields of e
	UpdateStatus(ctx context.Context, tx DBTX, e *domain.LedgerEntry) error

	// ListReleaseDue returns held payouts whose release date is at or before now
	ListReleaseDue(ctx context.Context, db DBTX, now time.Time, limit int) ([]*domain.LedgerEntry, error)
}

// DisputeRepository persists disputes and their append-only history
type DisputeRepository interface {
	// Create fails with domain.ErrAlreadyDisputed if the purchase already has a dispute
	Create(ctx context.Context, tx DBTX, d *domain.Dispute) error
	GetByID(ctx context.Context, db DBTX, id string) (*domain.Dispute, error)
	GetByIDForUpdate(ctx context.Context, tx DBTX, id string) (*domain.Dispute, error)
	GetByPurchaseID(ctx context.Context, db DBTX, purchaseID string) (*domain.Dispute, error)
	Update(ctx context.Context, tx DBTX, d *domain.Dispute) error

	CountByDisputerSince(ctx context.Context, db DBTX, disputerID string, since time.Time) (int, error)
	ListOverdueResponses(ctx context.Context, db DBTX, now time.Time, limit int) ([]*domain.Dispute, error)
	ListExpiring(ctx context.Context, db DBTX, now time.Time, limit int) ([]*domain.Dispute, error)

	AppendEvent(ctx context.Context, tx DBTX, ev *domain.DisputeEvent) error
	ListEvents(ctx context.Context, db DBTX, disputeID string) ([]*domain.DisputeEvent, error)
}

// SequenceRepository hands out monotonic per-year counters
type SequenceRepository interface {
	// Next atomically increments and returns the counter for kind and year
	Next(ctx context.Context, tx DBTX, kind domain.SequenceKind, year int) (int64, error)
}

// ProductCatalog resolves the products being purchased
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}
