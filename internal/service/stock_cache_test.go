package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"inventory-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mirrorEntry struct {
	quantity int
	version  int64
}

type fakeMirror struct {
	mu      sync.Mutex
	entries map[string]mirrorEntry
	locked  bool
	fail    error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{entries: make(map[string]mirrorEntry)}
}

func (m *fakeMirror) SyncStock(_ context.Context, productID string, quantity int, version int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	if cur, ok := m.entries[productID]; ok && cur.version >= version {
		return false, nil
	}
	m.entries[productID] = mirrorEntry{quantity: quantity, version: version}
	return true, nil
}

func (m *fakeMirror) GetStock(_ context.Context, productID string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, false, m.fail
	}
	e, ok := m.entries[productID]
	return e.quantity, ok, nil
}

func (m *fakeMirror) AcquireLock(_ context.Context, _ string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked {
		return false, nil
	}
	m.locked = true
	return true, nil
}

func (m *fakeMirror) ReleaseLock(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
	return nil
}

func TestStockCacheSyncAll(t *testing.T) {
	f := newFixture(t)
	mirror := newFakeMirror()
	cache := NewStockCache(f.store, mirror)
	cache.logger = zap.NewNop()

	require.NoError(t, cache.SyncAll(context.Background()))

	assert.Equal(t, 100, mirror.entries["SP001"].quantity)
	assert.Equal(t, 20, mirror.entries["SP002"].quantity)
	assert.Equal(t, 0, mirror.entries["SP003"].quantity)
	assert.False(t, mirror.locked, "sync lock released")
}

// A full sync after a movement writes the same version the movement event
// carries, so replaying that event changes nothing.
func TestStockCacheSyncAllUsesStockVersions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mirror := newFakeMirror()
	cache := NewStockCache(f.store, mirror)
	cache.logger = zap.NewNop()

	_, err := f.orders.CreateOrder(ctx, &CreateOrderRequest{
		CustomerID: "KH001",
		Lines:      []OrderLineRequest{{ProductID: "SP001", Quantity: 5}},
	})
	require.NoError(t, err)

	require.NoError(t, cache.SyncAll(ctx))
	assert.Equal(t, mirrorEntry{quantity: 95, version: 1}, mirror.entries["SP001"])
	assert.Equal(t, mirrorEntry{quantity: 20, version: 0}, mirror.entries["SP002"])

	event := f.events.moved[0]
	require.NoError(t, cache.Apply(ctx, event))
	assert.Equal(t, mirrorEntry{quantity: 95, version: 1}, mirror.entries["SP001"])
}

func TestStockCacheSyncAllSkipsWhenLocked(t *testing.T) {
	f := newFixture(t)
	mirror := newFakeMirror()
	mirror.locked = true
	cache := NewStockCache(f.store, mirror)
	cache.logger = zap.NewNop()

	require.NoError(t, cache.SyncAll(context.Background()))
	assert.Empty(t, mirror.entries)
}

// Ordering comes from the stock version, not from the event timestamp,
// which is taken after commit and can run backwards between requests.
func TestStockCacheApplyIgnoresStaleEvents(t *testing.T) {
	mirror := newFakeMirror()
	cache := NewStockCache(nil, mirror)
	cache.logger = zap.NewNop()
	ctx := context.Background()

	newer := &models.StockMovedEvent{
		BaseEvent:  models.BaseEvent{EventType: models.EventTypeOrderCreated, Timestamp: baseTime},
		DocumentID: "DH0002",
		Changes:    []models.StockChange{{ProductID: "SP001", Delta: -1, QuantityAfter: 8, Version: 2}},
	}
	older := &models.StockMovedEvent{
		BaseEvent:  models.BaseEvent{EventType: models.EventTypeOrderCreated, Timestamp: baseTime.Add(time.Second)},
		DocumentID: "DH0001",
		Changes:    []models.StockChange{{ProductID: "SP001", Delta: -1, QuantityAfter: 9, Version: 1}},
	}

	require.NoError(t, cache.Apply(ctx, newer))
	require.NoError(t, cache.Apply(ctx, older))
	assert.Equal(t, 8, mirror.entries["SP001"].quantity)

	mirror.fail = errors.New("connection refused")
	assert.Error(t, cache.Apply(ctx, newer))
}

func TestStockCacheGetStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mirror := newFakeMirror()
	cache := NewStockCache(f.store, mirror)
	cache.logger = zap.NewNop()

	level, err := cache.GetStock(ctx, "SP002")
	require.NoError(t, err)
	assert.Equal(t, StockLevel{ProductID: "SP002", Quantity: 20, Source: SourceStore}, *level)

	_, err = mirror.SyncStock(ctx, "SP002", 17, 3)
	require.NoError(t, err)
	level, err = cache.GetStock(ctx, "SP002")
	require.NoError(t, err)
	assert.Equal(t, StockLevel{ProductID: "SP002", Quantity: 17, Source: SourceCache}, *level)

	mirror.fail = errors.New("connection refused")
	level, err = cache.GetStock(ctx, "SP002")
	require.NoError(t, err)
	assert.Equal(t, SourceStore, level.Source)
	assert.Equal(t, 20, level.Quantity)

	_, err = cache.GetStock(ctx, "SP404")
	assert.ErrorIs(t, err, ErrNotFound)
}
