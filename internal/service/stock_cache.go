package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"go.uber.org/zap"
)

const stockSyncLock = "stock-sync"

// StockMirror is a read-side copy of quantity-on-hand. Writes carry the
// product's stock version and a mirror keeps only the highest version it has
// seen per product.
type StockMirror interface {
	SyncStock(ctx context.Context, productID string, quantity int, version int64) (bool, error)
	GetStock(ctx context.Context, productID string) (int, bool, error)
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// Where a StockLevel was read from
const (
	SourceCache = "cache"
	SourceStore = "store"
)

// StockLevel is the quantity-on-hand of one product as served to readers
type StockLevel struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Source    string `json:"source"`
}

// StockCache keeps a StockMirror in step with the ledger. The ledger stays
// authoritative; the mirror only serves fast reads.
type StockCache struct {
	store  store.Store
	mirror StockMirror
	logger *zap.Logger
}

// NewStockCache creates a new stock cache
func NewStockCache(st store.Store, mirror StockMirror) *StockCache {
	return &StockCache{
		store:  st,
		mirror: mirror,
		logger: util.GetLogger(),
	}
}

// SyncAll copies every product's quantity to the mirror. Only one replica
// runs it at a time.
func (c *StockCache) SyncAll(ctx context.Context) error {
	ok, err := c.mirror.AcquireLock(ctx, stockSyncLock, time.Minute)
	if err != nil {
		return fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !ok {
		c.logger.Info("Stock sync already running elsewhere, skipping")
		return nil
	}
	defer func() {
		if err := c.mirror.ReleaseLock(ctx, stockSyncLock); err != nil {
			c.logger.Warn("Failed to release sync lock", zap.Error(err))
		}
	}()

	c.logger.Info("Starting stock sync to cache")

	products, err := c.store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	for _, p := range products {
		if _, err := c.mirror.SyncStock(ctx, p.ID, p.Quantity, p.Version); err != nil {
			util.StockCacheSyncFailedTotal.Inc()
			c.logger.Error("Failed to sync product stock",
				zap.String("product_id", p.ID),
				zap.Error(err))
		}
	}

	c.logger.Info("Stock sync completed", zap.Int("count", len(products)))
	return nil
}

// Apply mirrors the quantities carried by a committed movement event
func (c *StockCache) Apply(ctx context.Context, event *models.StockMovedEvent) error {
	ctx, span := util.StartSpan(ctx, "StockCache.Apply")
	defer span.End()

	for _, change := range event.Changes {
		applied, err := c.mirror.SyncStock(ctx, change.ProductID, change.QuantityAfter, change.Version)
		if err != nil {
			util.StockCacheSyncFailedTotal.Inc()
			return fmt.Errorf("failed to mirror stock of %s: %w", change.ProductID, err)
		}
		if !applied {
			c.logger.Debug("Skipped stale stock update",
				zap.String("product_id", change.ProductID),
				zap.String("document_id", event.DocumentID))
		}
	}
	return nil
}

// GetStock serves a product's quantity from the mirror and falls back to
// the store when the product is not mirrored or the mirror is unreachable.
// The mirror may trail the store by the events still in flight.
func (c *StockCache) GetStock(ctx context.Context, productID string) (level *StockLevel, err error) {
	ctx, span := util.StartSpan(ctx, "StockCache.GetStock")
	defer func() { util.EndSpan(span, err) }()

	quantity, cached, err := c.mirror.GetStock(ctx, productID)
	if err != nil {
		c.logger.Warn("Stock cache read failed, reading store",
			zap.String("product_id", productID),
			zap.Error(err))
	}
	if err == nil && cached {
		util.StockCacheReadsTotal.WithLabelValues(SourceCache).Inc()
		return &StockLevel{ProductID: productID, Quantity: quantity, Source: SourceCache}, nil
	}

	p, err := c.store.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read product stock: %w", err)
	}

	util.StockCacheReadsTotal.WithLabelValues(SourceStore).Inc()
	return &StockLevel{ProductID: p.ID, Quantity: p.Quantity, Source: SourceStore}, nil
}
