package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inventory-service/internal/idgen"
	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService creates and reverses sales orders against the stock ledger
type OrderService struct {
	store       store.Store
	ids         *idgen.Allocator
	events      EventPublisher
	idempotency IdempotencyStore
	sequence    idgen.Sequence
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewOrderService creates a new order service. events and idempotency may be nil.
func NewOrderService(
	st store.Store,
	ids *idgen.Allocator,
	events EventPublisher,
	idempotency IdempotencyStore,
	cfg Config,
) *OrderService {
	return &OrderService{
		store:       st,
		ids:         ids,
		events:      events,
		idempotency: idempotency,
		sequence: idgen.Sequence{
			Prefix: cfg.OrderIDPrefix,
			Width:  cfg.IDPadWidth,
			Table:  store.TableOrders,
		},
		ttl:    cfg.IdempotencyTTL,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	CustomerID     string               `json:"customer_id"`
	Lines          []OrderLineRequest   `json:"lines"`
	PaymentStatus  models.PaymentStatus `json:"payment_status,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
}

// OrderLineRequest represents one product of an order
type OrderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (r *CreateOrderRequest) validate() error {
	r.CustomerID = strings.TrimSpace(r.CustomerID)
	if r.CustomerID == "" {
		return invalidInput("customer_id is required")
	}
	if len(r.Lines) == 0 {
		return invalidInput("an order needs at least one line")
	}
	for i, l := range r.Lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return invalidInput("line %d: product_id is required", i+1)
		}
		if l.Quantity <= 0 {
			return invalidInput("line %d: quantity must be positive, got %d", i+1, l.Quantity)
		}
	}
	if r.PaymentStatus == "" {
		r.PaymentStatus = models.PaymentStatusUnpaid
	}
	if !r.PaymentStatus.Valid() {
		return invalidInput("unknown payment status %q", r.PaymentStatus)
	}
	return nil
}

// CreateOrder validates the request, then in one transaction locks every
// referenced product, checks availability, writes the order with prices
// frozen from the locked rows and decrements stock. A request carrying an
// idempotency key first claims the key, before any product lock, and a key
// already used by a committed order returns that order unchanged.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer func() { util.EndSpan(span, err) }()

	if err := req.validate(); err != nil {
		util.TransactionsFailedTotal.WithLabelValues("create_order", failureReason(err)).Inc()
		return nil, err
	}

	idemKey := idempotencyScope("order", req.IdempotencyKey)
	if id, ok := lookupIdempotent(ctx, s.idempotency, s.logger, idemKey); ok {
		existing, err := s.GetOrder(ctx, id)
		if err == nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", id))
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	requested := make(quantities)
	for _, l := range req.Lines {
		requested[l.ProductID] += l.Quantity
	}

	var (
		changes  []models.StockChange
		replayed string
	)
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		if req.IdempotencyKey != "" {
			id, found, err := tx.ClaimIdempotencyKey(ctx, store.TableOrders, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("failed to claim idempotency key: %w", err)
			}
			if found {
				replayed = id
				return nil
			}
		}

		products, err := lockProducts(ctx, tx, requested.sortedIDs(), ErrInvalidInput)
		if err != nil {
			return err
		}
		for _, id := range requested.sortedIDs() {
			if err := requireStock(products[id], requested[id]); err != nil {
				return err
			}
		}

		order = &models.Order{
			ID:             s.ids.Allocate(ctx, tx, s.sequence),
			CustomerID:     req.CustomerID,
			Total:          decimal.Zero,
			PaymentStatus:  req.PaymentStatus,
			CreatedAt:      s.now(),
			IdempotencyKey: keyPointer(req.IdempotencyKey),
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}

		total := decimal.Zero
		for i, l := range req.Lines {
			price := products[l.ProductID].Price
			line := models.OrderLine{
				OrderID:   order.ID,
				LineNo:    i + 1,
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
				UnitPrice: price,
				LineTotal: price.Mul(decimal.NewFromInt(int64(l.Quantity))),
			}
			if err := tx.InsertOrderLine(ctx, &line); err != nil {
				return fmt.Errorf("failed to insert order line %d: %w", line.LineNo, err)
			}
			total = total.Add(line.LineTotal)
			order.Lines = append(order.Lines, line)
		}

		changes, err = applyStock(ctx, tx, products, requested, -1)
		if err != nil {
			return err
		}

		if err := tx.UpdateOrderTotal(ctx, order.ID, total); err != nil {
			return fmt.Errorf("failed to update order total: %w", err)
		}
		order.Total = total
		return nil
	})
	if err != nil {
		util.TransactionsFailedTotal.WithLabelValues("create_order", failureReason(err)).Inc()
		s.logger.Warn("Order creation aborted",
			zap.String("customer_id", req.CustomerID),
			zap.Error(err))
		return nil, err
	}

	if replayed != "" {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("order_id", replayed))
		rememberIdempotent(ctx, s.idempotency, s.logger, idemKey, replayed, s.ttl)
		return s.GetOrder(ctx, replayed)
	}

	util.OrdersCreatedTotal.Inc()
	recordUnits(changes)
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("total", order.Total.String()),
		zap.Int("lines", len(order.Lines)))

	rememberIdempotent(ctx, s.idempotency, s.logger, idemKey, order.ID, s.ttl)
	publishStockMoved(ctx, s.events, s.logger, &models.StockMovedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeOrderCreated),
		DocumentID: order.ID,
		Total:      order.Total,
		Changes:    changes,
	})
	return order, nil
}

// DeleteOrder removes an order with its lines and restores their stock
func (s *OrderService) DeleteOrder(ctx context.Context, id string) (err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.DeleteOrder")
	defer func() { util.EndSpan(span, err) }()

	var (
		order   *models.Order
		changes []models.StockChange
	)
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: order %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}

		lines, err := tx.GetOrderLines(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read order lines: %w", err)
		}
		restore := make(quantities)
		for _, l := range lines {
			restore[l.ProductID] += l.Quantity
		}

		products, err := lockProducts(ctx, tx, restore.sortedIDs(), ErrNotFound)
		if err != nil {
			return err
		}
		if changes, err = applyStock(ctx, tx, products, restore, +1); err != nil {
			return err
		}

		if err := tx.DeleteOrderLines(ctx, id); err != nil {
			return fmt.Errorf("failed to delete order lines: %w", err)
		}
		if err := tx.DeleteOrder(ctx, id); err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
		return nil
	})
	if err != nil {
		util.TransactionsFailedTotal.WithLabelValues("delete_order", failureReason(err)).Inc()
		return err
	}

	util.OrdersDeletedTotal.Inc()
	recordUnits(changes)
	s.logger.Info("Order deleted", zap.String("order_id", id))

	publishStockMoved(ctx, s.events, s.logger, &models.StockMovedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeOrderDeleted),
		DocumentID: id,
		Total:      order.Total,
		Changes:    changes,
	})
	return nil
}

// UpdatePaymentStatus sets the payment flag of an order. Setting the current
// value again succeeds.
func (s *OrderService) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) (err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdatePaymentStatus")
	defer func() { util.EndSpan(span, err) }()

	if !status.Valid() {
		return invalidInput("unknown payment status %q", status)
	}

	if err := s.store.UpdateOrderPaymentStatus(ctx, id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: order %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	s.logger.Info("Order payment status updated",
		zap.String("order_id", id),
		zap.String("status", string(status)))

	if s.events != nil {
		event := &models.OrderPaymentUpdatedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeOrderPaymentUpdated),
			OrderID:   id,
			Status:    status,
		}
		if err := s.events.PublishOrderPaymentUpdated(ctx, event); err != nil {
			s.logger.Error("Failed to publish payment update event", zap.Error(err))
		}
	}
	return nil
}

// GetOrder retrieves an order with its lines
func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	order.Lines, err = s.store.GetOrderLines(ctx, id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns order headers, newest first
func (s *OrderService) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, invalidInput("'to' is before 'from'")
	}
	return s.store.ListOrders(ctx, filter)
}

func idempotencyScope(kind, key string) string {
	if key == "" {
		return ""
	}
	return kind + ":" + key
}
