package worker

import (
	"context"

	"inventory-service/internal/broker"
	"inventory-service/internal/models"
	"inventory-service/internal/service"
	"inventory-service/internal/util"

	"go.uber.org/zap"
)

// StockCacheWorker mirrors committed stock movements into the stock cache
type StockCacheWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	cache        *service.StockCache
	logger       *zap.Logger
}

// NewStockCacheWorker creates a new stock cache worker
func NewStockCacheWorker(consumer *broker.Consumer, cache *service.StockCache) *StockCacheWorker {
	w := &StockCacheWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		cache:        cache,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnStockMoved(cache.Apply)
	w.eventHandler.OnPaymentUpdated(w.logPaymentUpdate)
	return w
}

func (w *StockCacheWorker) logPaymentUpdate(_ context.Context, event *models.OrderPaymentUpdatedEvent) error {
	w.logger.Debug("Payment status changed",
		zap.String("order_id", event.OrderID),
		zap.String("status", string(event.Status)))
	return nil
}

// Start resynchronizes the whole cache once, then follows movement events
// until ctx is cancelled.
func (w *StockCacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock cache worker")

	if err := w.cache.SyncAll(ctx); err != nil {
		w.logger.Error("Initial stock sync failed", zap.Error(err))
	}
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockCacheWorker) Stop() error {
	w.logger.Info("Stopping stock cache worker")
	return w.consumer.Close()
}
