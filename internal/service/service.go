package service

import (
	"context"
	"time"

	"inventory-service/internal/models"

	"go.uber.org/zap"
)

// EventPublisher delivers domain events after a transaction has committed
type EventPublisher interface {
	PublishStockMoved(ctx context.Context, event *models.StockMovedEvent) error
	PublishOrderPaymentUpdated(ctx context.Context, event *models.OrderPaymentUpdatedEvent) error
}

// IdempotencyStore remembers which document a client request key produced
type IdempotencyStore interface {
	CheckIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Config holds the business settings shared by the transaction managers
type Config struct {
	OrderIDPrefix        string
	ImportIDPrefix       string
	IDPadWidth           int
	ImportReversalWindow time.Duration
	IdempotencyTTL       time.Duration
	ReportLocation       *time.Location
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		OrderIDPrefix:        "DH",
		ImportIDPrefix:       "NK",
		IDPadWidth:           4,
		ImportReversalWindow: 24 * time.Hour,
		IdempotencyTTL:       24 * time.Hour,
		ReportLocation:       time.UTC,
	}
}

// lookupIdempotent returns the document id previously cached under key. The
// cache only short-cuts retries; the key stored on the document row inside
// the creating transaction is what prevents duplicates. Cache errors are
// logged and treated as a miss.
func lookupIdempotent(ctx context.Context, idem IdempotencyStore, logger *zap.Logger, key string) (string, bool) {
	if idem == nil || key == "" {
		return "", false
	}
	id, ok, err := idem.CheckIdempotencyKey(ctx, key)
	if err != nil {
		logger.Warn("Idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		return "", false
	}
	return id, ok
}

func rememberIdempotent(ctx context.Context, idem IdempotencyStore, logger *zap.Logger, key, id string, ttl time.Duration) {
	if idem == nil || key == "" {
		return
	}
	if err := idem.SetIdempotencyKey(ctx, key, id, ttl); err != nil {
		logger.Warn("Failed to store idempotency key",
			zap.String("idempotency_key", key),
			zap.String("document_id", id),
			zap.Error(err))
	}
}

// keyPointer returns nil for an empty key so the stored column stays NULL
func keyPointer(key string) *string {
	if key == "" {
		return nil
	}
	return &key
}

func publishStockMoved(ctx context.Context, events EventPublisher, logger *zap.Logger, event *models.StockMovedEvent) {
	if events == nil {
		return
	}
	if err := events.PublishStockMoved(ctx, event); err != nil {
		logger.Error("Failed to publish stock movement event",
			zap.String("event_type", event.EventType),
			zap.String("document_id", event.DocumentID),
			zap.Error(err))
	}
}
