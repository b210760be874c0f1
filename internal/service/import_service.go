package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"inventory-service/internal/idgen"
	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// costScale is the number of decimal places money columns keep
const costScale int32 = 2

// ImportService records inbound stock and reverses it within a fixed window
type ImportService struct {
	store       store.Store
	ids         *idgen.Allocator
	events      EventPublisher
	idempotency IdempotencyStore
	sequence    idgen.Sequence
	window      time.Duration
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// NewImportService creates a new stock import service. events and idempotency may be nil.
func NewImportService(
	st store.Store,
	ids *idgen.Allocator,
	events EventPublisher,
	idempotency IdempotencyStore,
	cfg Config,
) *ImportService {
	return &ImportService{
		store:       st,
		ids:         ids,
		events:      events,
		idempotency: idempotency,
		sequence: idgen.Sequence{
			Prefix: cfg.ImportIDPrefix,
			Width:  cfg.IDPadWidth,
			Table:  store.TableStockImports,
		},
		window: cfg.ImportReversalWindow,
		ttl:    cfg.IdempotencyTTL,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// CreateImportRequest represents a request to record inbound stock
type CreateImportRequest struct {
	Supplier       string              `json:"supplier"`
	Lines          []ImportLineRequest `json:"lines"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
}

// ImportLineRequest represents one product of a stock import
type ImportLineRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

func (r *CreateImportRequest) validate() error {
	r.Supplier = strings.TrimSpace(r.Supplier)
	if r.Supplier == "" {
		return invalidInput("supplier is required")
	}
	if len(r.Lines) == 0 {
		return invalidInput("a stock import needs at least one line")
	}
	for i, l := range r.Lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return invalidInput("line %d: product_id is required", i+1)
		}
		if l.Quantity <= 0 {
			return invalidInput("line %d: quantity must be positive, got %d", i+1, l.Quantity)
		}
		if l.UnitCost.IsNegative() {
			return invalidInput("line %d: unit_cost must not be negative", i+1)
		}
		if !l.UnitCost.Equal(l.UnitCost.Truncate(costScale)) {
			return invalidInput("line %d: unit_cost %s has more than %d decimal places", i+1, l.UnitCost, costScale)
		}
	}
	return nil
}

// CreateImport records a stock import and increments stock for every line
func (s *ImportService) CreateImport(ctx context.Context, req *CreateImportRequest) (imp *models.StockImport, err error) {
	ctx, span := util.StartSpan(ctx, "ImportService.CreateImport")
	defer func() { util.EndSpan(span, err) }()

	if err := req.validate(); err != nil {
		util.TransactionsFailedTotal.WithLabelValues("create_import", failureReason(err)).Inc()
		return nil, err
	}

	idemKey := idempotencyScope("import", req.IdempotencyKey)
	if id, ok := lookupIdempotent(ctx, s.idempotency, s.logger, idemKey); ok {
		existing, err := s.GetImport(ctx, id)
		if err == nil {
			s.logger.Info("Duplicate stock import request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("import_id", id))
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	lines := append([]ImportLineRequest(nil), req.Lines...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	received := make(quantities)
	for _, l := range lines {
		received[l.ProductID] += l.Quantity
	}

	var (
		changes  []models.StockChange
		replayed string
	)
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		if req.IdempotencyKey != "" {
			id, found, err := tx.ClaimIdempotencyKey(ctx, store.TableStockImports, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("failed to claim idempotency key: %w", err)
			}
			if found {
				replayed = id
				return nil
			}
		}

		products, err := lockProducts(ctx, tx, received.sortedIDs(), ErrInvalidInput)
		if err != nil {
			return err
		}

		imp = &models.StockImport{
			ID:             s.ids.Allocate(ctx, tx, s.sequence),
			Supplier:       req.Supplier,
			Total:          decimal.Zero,
			CreatedAt:      s.now(),
			IdempotencyKey: keyPointer(req.IdempotencyKey),
		}
		if err := tx.InsertStockImport(ctx, imp); err != nil {
			return fmt.Errorf("failed to insert stock import: %w", err)
		}

		total := decimal.Zero
		for i, l := range lines {
			line := models.StockImportLine{
				ImportID:  imp.ID,
				LineNo:    i + 1,
				ProductID: l.ProductID,
				Quantity:  l.Quantity,
				UnitCost:  l.UnitCost,
				LineTotal: l.UnitCost.Mul(decimal.NewFromInt(int64(l.Quantity))),
			}
			if err := tx.InsertStockImportLine(ctx, &line); err != nil {
				return fmt.Errorf("failed to insert stock import line %d: %w", line.LineNo, err)
			}
			total = total.Add(line.LineTotal)
			imp.Lines = append(imp.Lines, line)
		}

		if changes, err = applyStock(ctx, tx, products, received, +1); err != nil {
			return err
		}

		if err := tx.UpdateStockImportTotal(ctx, imp.ID, total); err != nil {
			return fmt.Errorf("failed to update stock import total: %w", err)
		}
		imp.Total = total
		return nil
	})
	if err != nil {
		util.TransactionsFailedTotal.WithLabelValues("create_import", failureReason(err)).Inc()
		s.logger.Warn("Stock import aborted", zap.String("supplier", req.Supplier), zap.Error(err))
		return nil, err
	}

	if replayed != "" {
		s.logger.Info("Duplicate stock import request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("import_id", replayed))
		rememberIdempotent(ctx, s.idempotency, s.logger, idemKey, replayed, s.ttl)
		return s.GetImport(ctx, replayed)
	}

	util.ImportsCreatedTotal.Inc()
	recordUnits(changes)
	s.logger.Info("Stock import created",
		zap.String("import_id", imp.ID),
		zap.String("supplier", imp.Supplier),
		zap.String("total", imp.Total.String()))

	rememberIdempotent(ctx, s.idempotency, s.logger, idemKey, imp.ID, s.ttl)
	publishStockMoved(ctx, s.events, s.logger, &models.StockMovedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeStockImportCreated),
		DocumentID: imp.ID,
		Total:      imp.Total,
		Changes:    changes,
	})
	return imp, nil
}

// DeleteImport reverses a stock import created within the reversal window.
// It fails with InsufficientStock when the imported units were already sold.
func (s *ImportService) DeleteImport(ctx context.Context, id string) (err error) {
	ctx, span := util.StartSpan(ctx, "ImportService.DeleteImport")
	defer func() { util.EndSpan(span, err) }()

	var (
		imp     *models.StockImport
		changes []models.StockChange
	)
	err = store.WithTx(ctx, s.store, func(tx store.Tx) error {
		var err error
		imp, err = tx.LockStockImport(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: stock import %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock stock import: %w", err)
		}

		if age := s.now().Sub(imp.CreatedAt); age > s.window {
			return fmt.Errorf("%w: %s was created %s ago, limit is %s",
				ErrImportNotReversible, id, age.Truncate(time.Minute), s.window)
		}

		lines, err := tx.GetStockImportLines(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to read stock import lines: %w", err)
		}
		withdraw := make(quantities)
		for _, l := range lines {
			withdraw[l.ProductID] += l.Quantity
		}

		products, err := lockProducts(ctx, tx, withdraw.sortedIDs(), ErrNotFound)
		if err != nil {
			return err
		}
		for _, pid := range withdraw.sortedIDs() {
			if err := requireStock(products[pid], withdraw[pid]); err != nil {
				return err
			}
		}

		if changes, err = applyStock(ctx, tx, products, withdraw, -1); err != nil {
			return err
		}

		if err := tx.DeleteStockImportLines(ctx, id); err != nil {
			return fmt.Errorf("failed to delete stock import lines: %w", err)
		}
		if err := tx.DeleteStockImport(ctx, id); err != nil {
			return fmt.Errorf("failed to delete stock import: %w", err)
		}
		return nil
	})
	if err != nil {
		util.TransactionsFailedTotal.WithLabelValues("delete_import", failureReason(err)).Inc()
		return err
	}

	util.ImportsDeletedTotal.Inc()
	recordUnits(changes)
	s.logger.Info("Stock import deleted", zap.String("import_id", id))

	publishStockMoved(ctx, s.events, s.logger, &models.StockMovedEvent{
		BaseEvent:  models.NewBaseEvent(models.EventTypeStockImportDeleted),
		DocumentID: id,
		Total:      imp.Total,
		Changes:    changes,
	})
	return nil
}

// UpdateImportSupplier renames the supplier of a stock import; stock is untouched
func (s *ImportService) UpdateImportSupplier(ctx context.Context, id, supplier string) error {
	supplier = strings.TrimSpace(supplier)
	if supplier == "" {
		return invalidInput("supplier is required")
	}

	if err := s.store.UpdateStockImportSupplier(ctx, id, supplier); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: stock import %s", ErrNotFound, id)
		}
		return fmt.Errorf("failed to update supplier: %w", err)
	}
	return nil
}

// GetImport retrieves a stock import with its lines
func (s *ImportService) GetImport(ctx context.Context, id string) (*models.StockImport, error) {
	imp, err := s.store.GetStockImport(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: stock import %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	imp.Lines, err = s.store.GetStockImportLines(ctx, id)
	if err != nil {
		return nil, err
	}
	return imp, nil
}

// ListImports returns stock import headers, newest first
func (s *ImportService) ListImports(ctx context.Context, filter models.ImportFilter) ([]models.StockImport, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, invalidInput("'to' is before 'from'")
	}
	return s.store.ListStockImports(ctx, filter)
}
