package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"inventory-service/internal/models"
	"inventory-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishStockMoved publishes an order or stock import movement. Events of
// one document share a key so they stay ordered within a partition.
func (ep *EventPublisher) PublishStockMoved(ctx context.Context, event *models.StockMovedEvent) error {
	return ep.producer.PublishEvent(ctx, "document-"+event.DocumentID, event)
}

// PublishOrderPaymentUpdated publishes an order payment status change
func (ep *EventPublisher) PublishOrderPaymentUpdated(ctx context.Context, event *models.OrderPaymentUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, "document-"+event.OrderID, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onStockMoved     func(context.Context, *models.StockMovedEvent) error
	onPaymentUpdated func(context.Context, *models.OrderPaymentUpdatedEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnStockMoved registers a handler for every stock movement event type
func (eh *EventHandler) OnStockMoved(handler func(context.Context, *models.StockMovedEvent) error) {
	eh.onStockMoved = handler
}

// OnPaymentUpdated registers a handler for ORDER_PAYMENT_UPDATED events
func (eh *EventHandler) OnPaymentUpdated(handler func(context.Context, *models.OrderPaymentUpdatedEvent) error) {
	eh.onPaymentUpdated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated,
		models.EventTypeOrderDeleted,
		models.EventTypeStockImportCreated,
		models.EventTypeStockImportDeleted:
		if eh.onStockMoved != nil {
			var event models.StockMovedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onStockMoved(ctx, &event)
		}

	case models.EventTypeOrderPaymentUpdated:
		if eh.onPaymentUpdated != nil {
			var event models.OrderPaymentUpdatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal %s event: %w", baseEvent.EventType, err)
			}
			return eh.onPaymentUpdated(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
