// Package engine wires the purchase, escrow and dispute services over the
// in-memory store and sandbox gateway for tests.
package engine

import (
	"context"
	"testing"
	"time"

	"github.com/kevin07696/escrow-service/internal/adapters/memory"
	"github.com/kevin07696/escrow-service/internal/adapters/sandbox"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/domain/ports"
	"github.com/kevin07696/escrow-service/internal/services/dispute"
	"github.com/kevin07696/escrow-service/internal/services/escrow"
	"github.com/kevin07696/escrow-service/internal/services/notification"
	svcports "github.com/kevin07696/escrow-service/internal/services/ports"
	"github.com/kevin07696/escrow-service/internal/services/purchase"
	"github.com/kevin07696/escrow-service/internal/services/sequence"
	"github.com/kevin07696/escrow-service/internal/testutil/fixtures"
	"github.com/kevin07696/escrow-service/internal/testutil/mocks"
	"github.com/kevin07696/escrow-service/pkg/timeutil"
	"github.com/stretchr/testify/require"
)

// Start is the fake clock's initial time
var Start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Actors used across service tests
var (
	Buyer    = domain.Actor{UserID: "buyer-1"}
	Seller   = domain.Actor{UserID: "seller-1"}
	Stranger = domain.Actor{UserID: "user-9"}
	Admin    = domain.Actor{UserID: "admin-1", Scopes: []string{
		domain.CapabilityDisputesResolve,
		domain.CapabilityPurchasesRefund,
		domain.CapabilityPurchasesConfirm,
	}}
	Delivery = domain.Actor{UserID: "delivery-svc", Scopes: []string{domain.CapabilityDeliveryReport}}
)

// Options tune the wiring
type Options struct {
	Gateway  ports.PaymentGateway
	Delivery ports.DeliveryPreparer
	Escrow   escrow.Config
	Dispute  dispute.Config
}

// Engine is a fully wired service graph
type Engine struct {
	Store     *memory.Store
	Purchases *memory.PurchaseRepository
	Disputes  *memory.DisputeRepository
	Ledger    *memory.LedgerRepository
	Catalog   *memory.ProductCatalog
	Gateway   *sandbox.Gateway
	Clock     *timeutil.FakeClock
	Sink      *mocks.RecordingSink
	Logger    *mocks.MockLogger

	Escrow          *escrow.Manager
	PurchaseService *purchase.Service
	DisputeService  *dispute.Service

	// Product is the default $100 / 10% listing sold by seller-1
	Product domain.Product
}

// New builds an engine. A nil opts.Gateway uses the sandbox gateway.
func New(t *testing.T, opts Options) *Engine {
	t.Helper()

	store := memory.NewStore()
	e := &Engine{
		Store:     store,
		Purchases: memory.NewPurchaseRepository(store),
		Disputes:  memory.NewDisputeRepository(store),
		Ledger:    memory.NewLedgerRepository(store),
		Catalog:   memory.NewProductCatalog(store),
		Gateway:   sandbox.NewGateway(),
		Clock:     timeutil.NewFakeClock(Start),
		Sink:      &mocks.RecordingSink{},
		Logger:    mocks.NewMockLogger(),
		Product:   fixtures.NewProduct().WithID("prod-1").Build(),
	}
	e.Catalog.PutProduct(e.Product)

	gateway := opts.Gateway
	if gateway == nil {
		gateway = e.Gateway
	}
	if opts.Escrow.PlatformAccountID == "" {
		opts.Escrow.PlatformAccountID = "platform"
	}

	numbers := sequence.NewAllocator(memory.NewSequenceRepository(store))
	publisher := notification.NewPublisher(e.Sink, e.Clock, e.Logger)

	e.Escrow = escrow.NewManager(store, e.Purchases, e.Ledger, numbers, publisher, e.Clock, opts.Escrow, e.Logger)
	e.PurchaseService = purchase.NewService(store, e.Purchases, e.Ledger, e.Catalog, gateway, opts.Delivery,
		e.Escrow, numbers, publisher, e.Clock, purchase.Config{}, e.Logger)
	e.DisputeService = dispute.NewService(store, e.Purchases, e.Disputes, e.PurchaseService, e.Escrow, numbers,
		mocks.StaticAdmins{"admin-1"}, publisher, e.Clock, opts.Dispute, e.Logger)
	return e
}

// Checkout creates a purchase of the default product for Buyer
func (e *Engine) Checkout(t *testing.T) *domain.Purchase {
	t.Helper()
	res, err := e.PurchaseService.Create(context.Background(), Buyer, svcports.CreatePurchaseRequest{ProductID: e.Product.ID})
	require.NoError(t, err)
	return res.Purchase
}

// Paid creates and confirms a purchase of the default product
func (e *Engine) Paid(t *testing.T) *domain.Purchase {
	t.Helper()
	p := e.Checkout(t)
	paid, err := e.PurchaseService.Confirm(context.Background(), Buyer, p.PaymentIntentID)
	require.NoError(t, err)
	return paid
}

// Disputed opens a dispute by Buyer against a freshly paid purchase
func (e *Engine) Disputed(t *testing.T, disputeType domain.DisputeType) (*domain.Purchase, *domain.Dispute) {
	t.Helper()
	p := e.Paid(t)
	d, err := e.DisputeService.Create(context.Background(), Buyer, domain.DisputeDraft{
		PurchaseID:  p.ID,
		Type:        disputeType,
		Description: "the course videos do not play",
	})
	require.NoError(t, err)
	return e.Purchase(t, p.ID), d
}

// Purchase reloads a purchase
func (e *Engine) Purchase(t *testing.T, id string) *domain.Purchase {
	t.Helper()
	p, err := e.Purchases.GetByID(context.Background(), nil, id)
	require.NoError(t, err)
	return p
}

// Dispute reloads a dispute
func (e *Engine) Dispute(t *testing.T, id string) *domain.Dispute {
	t.Helper()
	d, err := e.Disputes.GetByID(context.Background(), nil, id)
	require.NoError(t, err)
	return d
}

// Entries returns the purchase's ledger in append order
func (e *Engine) Entries(t *testing.T, purchaseID string) []*domain.LedgerEntry {
	t.Helper()
	list, err := e.Ledger.ListByPurchase(context.Background(), nil, purchaseID)
	require.NoError(t, err)
	return list
}

// EntriesOf returns the entries of one type
func (e *Engine) EntriesOf(t *testing.T, purchaseID string, entryType domain.EntryType) []*domain.LedgerEntry {
	t.Helper()
	var out []*domain.LedgerEntry
	for _, entry := range e.Entries(t, purchaseID) {
		if entry.Type == entryType {
			out = append(out, entry)
		}
	}
	return out
}

// RequireBalanced fails unless the purchase's ledger reconciles
func (e *Engine) RequireBalanced(t *testing.T, purchaseID string) domain.LedgerSummary {
	t.Helper()
	p := e.Purchase(t, purchaseID)
	entries := e.Entries(t, purchaseID)
	require.NoError(t, domain.VerifyLedger(p, entries))
	return domain.SummarizeLedger(entries)
}
