package sequence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/escrow-service/internal/adapters/memory"
	"github.com/kevin07696/escrow-service/internal/domain"
	"github.com/kevin07696/escrow-service/internal/services/sequence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_Next(t *testing.T) {
	store := memory.NewStore()
	alloc := sequence.NewAllocator(memory.NewSequenceRepository(store))
	ctx := context.Background()

	dec31 := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)
	jan1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		kind domain.SequenceKind
		now  time.Time
		want string
	}{
		{name: "first_order_of_year", kind: domain.SequenceOrder, now: dec31, want: "ORD-2025-000001"},
		{name: "second_order_same_year", kind: domain.SequenceOrder, now: dec31, want: "ORD-2025-000002"},
		{name: "kinds_count_independently", kind: domain.SequenceTransaction, now: dec31, want: "TXN-2025-000001"},
		{name: "new_year_resets", kind: domain.SequenceOrder, now: jan1, want: "ORD-2026-000001"},
		{name: "dispute_numbers", kind: domain.SequenceDispute, now: jan1, want: "DISP-2026-000001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := alloc.Next(ctx, nil, tt.kind, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllocator_RollbackReturnsCounter(t *testing.T) {
	store := memory.NewStore()
	alloc := sequence.NewAllocator(memory.NewSequenceRepository(store))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	err := store.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := alloc.Next(ctx, tx, domain.SequenceOrder, now)
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := alloc.Next(ctx, nil, domain.SequenceOrder, now)
	require.NoError(t, err)
	assert.Equal(t, "ORD-2026-000001", got)
}

func TestAllocator_ConcurrentCallsAreUnique(t *testing.T) {
	store := memory.NewStore()
	alloc := sequence.NewAllocator(memory.NewSequenceRepository(store))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	const n = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
				number, err := alloc.Next(ctx, tx, domain.SequenceTransaction, now)
				if err != nil {
					return err
				}
				mu.Lock()
				seen[number] = struct{}{}
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}
