package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"inventory-service/internal/idgen"
	"inventory-service/internal/models"
	"inventory-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var baseTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu       sync.Mutex
	moved    []*models.StockMovedEvent
	payments []*models.OrderPaymentUpdatedEvent
}

func (p *recordingPublisher) PublishStockMoved(_ context.Context, e *models.StockMovedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moved = append(p.moved, e)
	return nil
}

func (p *recordingPublisher) PublishOrderPaymentUpdated(_ context.Context, e *models.OrderPaymentUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments = append(p.payments, e)
	return nil
}

func (p *recordingPublisher) movedTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.moved))
	for _, e := range p.moved {
		types = append(types, e.EventType)
	}
	return types
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[key]
	return v, ok, nil
}

func (m *memoryIdempotency) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	m.keys[key] = value.(string)
	return nil
}

type fixture struct {
	store   *store.MemoryStore
	events  *recordingPublisher
	idem    *memoryIdempotency
	orders  *OrderService
	imports *ImportService
	reports *ReportService
	clock   time.Time
}

func newFixture(t *testing.T, opts ...store.MemoryOption) *fixture {
	t.Helper()

	st := store.NewMemoryStore(opts...)
	products := []models.Product{
		{ID: "SP001", Name: "Ballpoint pen", Price: decimal.RequireFromString("1.50"), Quantity: 100},
		{ID: "SP002", Name: "Notebook", Price: decimal.RequireFromString("4.25"), Quantity: 20},
		{ID: "SP003", Name: "Stapler", Price: decimal.NewFromInt(12), Quantity: 0},
	}
	for _, p := range products {
		require.NoError(t, st.AddProduct(p))
	}

	f := &fixture{
		store:  st,
		events: &recordingPublisher{},
		idem:   &memoryIdempotency{},
		clock:  baseTime,
	}
	cfg := DefaultConfig()
	ids := idgen.NewAllocator(zap.NewNop())

	f.orders = NewOrderService(st, ids, f.events, f.idem, cfg)
	f.imports = NewImportService(st, ids, f.events, f.idem, cfg)
	f.reports = NewReportService(st, cfg)

	now := func() time.Time { return f.clock }
	f.orders.now = now
	f.imports.now = now
	f.orders.logger = zap.NewNop()
	f.imports.logger = zap.NewNop()
	return f
}

func (f *fixture) quantity(t *testing.T, id string) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Quantity
}
