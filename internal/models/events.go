package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated        = "ORDER_CREATED"
	EventTypeOrderDeleted        = "ORDER_DELETED"
	EventTypeOrderPaymentUpdated = "ORDER_PAYMENT_UPDATED"
	EventTypeStockImportCreated  = "STOCK_IMPORT_CREATED"
	EventTypeStockImportDeleted  = "STOCK_IMPORT_DELETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// StockChange is the signed effect of a document on one product, with the
// quantity-on-hand and stock version observed right after the change was
// applied. Versions of one product grow by one per committed change.
type StockChange struct {
	ProductID     string `json:"product_id"`
	Delta         int    `json:"delta"`
	QuantityAfter int    `json:"quantity_after"`
	Version       int64  `json:"version"`
}

// StockMovedEvent is published whenever a committed transaction changed stock
type StockMovedEvent struct {
	BaseEvent
	DocumentID string          `json:"document_id"`
	Total      decimal.Decimal `json:"total"`
	Changes    []StockChange   `json:"changes"`
}

// OrderPaymentUpdatedEvent published when an order's payment status changes
type OrderPaymentUpdatedEvent struct {
	BaseEvent
	OrderID string        `json:"order_id"`
	Status  PaymentStatus `json:"status"`
}
