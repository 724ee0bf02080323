// Package memory provides an in-process implementation of the repository
// ports. Transactions are serialized and roll back by restoring a snapshot,
// which gives the same all-or-nothing and single-writer guarantees the
// postgres adapter gets from row locks.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/escrow-service/internal/domain"
)

// Store holds all aggregates in memory
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data state
}

type state struct {
	purchases   map[string]domain.Purchase
	entries     map[string]domain.LedgerEntry
	entryOrder  []string
	disputes    map[string]domain.Dispute
	events      []domain.DisputeEvent
	sequences   map[sequenceKey]int64
	products    map[string]domain.Product
	intentIndex map[string]string
}

type sequenceKey struct {
	kind domain.SequenceKind
	year int
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{data: state{
		purchases:   make(map[string]domain.Purchase),
		entries:     make(map[string]domain.LedgerEntry),
		disputes:    make(map[string]domain.Dispute),
		sequences:   make(map[sequenceKey]int64),
		products:    make(map[string]domain.Product),
		intentIndex: make(map[string]string),
	}}
}

func (s state) clone() state {
	c := state{
		purchases:   make(map[string]domain.Purchase, len(s.purchases)),
		entries:     make(map[string]domain.LedgerEntry, len(s.entries)),
		entryOrder:  append([]string(nil), s.entryOrder...),
		disputes:    make(map[string]domain.Dispute, len(s.disputes)),
		events:      append([]domain.DisputeEvent(nil), s.events...),
		sequences:   make(map[sequenceKey]int64, len(s.sequences)),
		products:    make(map[string]domain.Product, len(s.products)),
		intentIndex: make(map[string]string, len(s.intentIndex)),
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.disputes {
		c.disputes[k] = cloneDispute(v)
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.intentIndex {
		c.intentIndex[k] = v
	}
	return c
}

// WithTransaction runs fn with exclusive write access. Any error or panic
// restores the state captured when fn started. fn receives a nil pgx.Tx;
// memory repositories ignore their DBTX argument.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, nil); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

// WithReadOnlyTransaction runs fn while no write transaction is in flight
func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx, nil)
}

func (s *Store) restore(snapshot state) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

func cloneDispute(d domain.Dispute) domain.Dispute {
	d.FraudIndicators = append([]domain.FraudIndicator{}, d.FraudIndicators...)
	d.Evidence = append([]string{}, d.Evidence...)
	return d
}

func cloneEvent(ev domain.DisputeEvent) domain.DisputeEvent {
	ev.EvidenceRefs = append([]string{}, ev.EvidenceRefs...)
	return ev
}
