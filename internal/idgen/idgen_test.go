package idgen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var orders = Sequence{Prefix: "DH", Width: 4, Table: store.TableOrders}

func allocate(t *testing.T, s store.Store, a *Allocator, seq Sequence) string {
	t.Helper()
	var id string
	err := store.WithTx(context.Background(), s, func(tx store.Tx) error {
		id = a.Allocate(context.Background(), tx, seq)
		return nil
	})
	require.NoError(t, err)
	return id
}

func TestSequentialAllocationsHaveNoGaps(t *testing.T) {
	s := store.NewMemoryStore()
	a := NewAllocator(zap.NewNop())

	for i := 1; i <= 12; i++ {
		assert.Equal(t, fmt.Sprintf("DH%04d", i), allocate(t, s, a, orders))
	}
}

func TestSequencesAreIndependent(t *testing.T) {
	s := store.NewMemoryStore()
	a := NewAllocator(zap.NewNop())
	imports := Sequence{Prefix: "NK", Width: 4, Table: store.TableStockImports}

	assert.Equal(t, "DH0001", allocate(t, s, a, orders))
	assert.Equal(t, "NK0001", allocate(t, s, a, imports))
	assert.Equal(t, "DH0002", allocate(t, s, a, orders))
}

func TestRolledBackAllocationIsReused(t *testing.T) {
	s := store.NewMemoryStore()
	a := NewAllocator(zap.NewNop())
	ctx := context.Background()

	err := store.WithTx(ctx, s, func(tx store.Tx) error {
		assert.Equal(t, "DH0001", a.Allocate(ctx, tx, orders))
		return errors.New("abort")
	})
	require.Error(t, err)

	assert.Equal(t, "DH0001", allocate(t, s, a, orders))
}

func TestConcurrentAllocationsAreUnique(t *testing.T) {
	s := store.NewMemoryStore()
	a := NewAllocator(zap.NewNop())

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- allocate(t, s, a, orders)
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate identifier %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.True(t, seen["DH0050"])
}

func TestSeedsFromExistingIdentifiers(t *testing.T) {
	s := store.NewMemoryStore()
	a := NewAllocator(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, s, func(tx store.Tx) error {
		for _, id := range []string{"DH9", "DH10"} {
			if err := tx.InsertOrder(ctx, &models.Order{ID: id, CustomerID: "KH001"}); err != nil {
				return err
			}
		}
		return nil
	}))

	// "DH10" outranks "DH9" because longer identifiers sort first.
	assert.Equal(t, "DH0011", allocate(t, s, a, orders))
}

func TestFallsBackWhenCounterUnavailable(t *testing.T) {
	s := store.NewMemoryStore(store.WithLockTimeout(10 * time.Millisecond))
	a := NewAllocator(zap.NewNop())
	a.now = func() time.Time { return time.UnixMilli(1700000000000) }
	ctx := context.Background()

	holder, err := s.BeginTx(ctx)
	require.NoError(t, err)
	defer holder.Rollback()
	_, err = holder.LockCounter(ctx, "DH")
	require.NoError(t, err)

	assert.Equal(t, "DH1700000000000", allocate(t, s, a, orders))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "DH0001", Format("DH", 1, 4))
	assert.Equal(t, "NK0123", Format("NK", 123, 4))
	assert.Equal(t, "DH12345", Format("DH", 12345, 4))
	assert.Equal(t, "SP001", Format("SP", 1, 3))
}

func TestParseSuffix(t *testing.T) {
	n, ok := parseSuffix("DH0042", "DH")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, ok = parseSuffix("DHX1", "DH")
	assert.False(t, ok)
	_, ok = parseSuffix("NK0001", "DH")
	assert.False(t, ok)
}
