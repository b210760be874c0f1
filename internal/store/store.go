package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inventory-service/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a keyed row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrNegativeStock is returned when an adjustment would drive quantity below zero
	ErrNegativeStock = errors.New("stock quantity would become negative")
	// ErrNotLocked is returned when stock is adjusted without holding the product lock
	ErrNotLocked = errors.New("product row is not locked by this transaction")
	// ErrLockTimeout is returned when a row lock could not be acquired in time
	ErrLockTimeout = errors.New("timed out waiting for row lock")
	// ErrDuplicate is returned when inserting a row whose key already exists
	ErrDuplicate = errors.New("duplicate key")
)

// Table names the document tables whose identifiers are allocated by prefix
type Table string

const (
	TableOrders       Table = "orders"
	TableStockImports Table = "stock_imports"
)

// Store is the durable record store consumed by the inventory engine.
// Methods outside of Tx are single-statement reads or metadata updates.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID string) ([]models.OrderLine, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	UpdateOrderPaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error

	GetStockImport(ctx context.Context, id string) (*models.StockImport, error)
	GetStockImportLines(ctx context.Context, importID string) ([]models.StockImportLine, error)
	ListStockImports(ctx context.Context, filter models.ImportFilter) ([]models.StockImport, error)
	UpdateStockImportSupplier(ctx context.Context, id, supplier string) error

	// StockMovementsSince reads every product's current quantity together with
	// the order and import quantities dated at or after cutoff, in one snapshot.
	StockMovementsSince(ctx context.Context, cutoff time.Time) ([]models.StockMovement, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is one unit of work. Row locks taken through Lock* methods are held
// until Commit or Rollback.
type Tx interface {
	// LockProduct takes the exclusive stock lock of a product and returns the row
	LockProduct(ctx context.Context, id string) (*models.Product, error)
	// AdjustStock applies quantity += delta and advances the product's stock
	// version by one. The product must be locked by this tx.
	AdjustStock(ctx context.Context, id string, delta int) error

	// ClaimIdempotencyKey takes an exclusive lock on key within table, held
	// until the transaction ends, and returns the id of the committed
	// document already created under it, if any.
	ClaimIdempotencyKey(ctx context.Context, table Table, key string) (string, bool, error)

	// Savepoint runs fn so that its failure leaves the transaction usable.
	// Writes made by fn are undone when it returns an error.
	Savepoint(ctx context.Context, fn func() error) error

	LockCounter(ctx context.Context, prefix string) (int64, error)
	SetCounter(ctx context.Context, prefix string, value int64) error
	MaxIdentifier(ctx context.Context, table Table, prefix string) (string, error)

	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderLine(ctx context.Context, line *models.OrderLine) error
	UpdateOrderTotal(ctx context.Context, id string, total decimal.Decimal) error
	LockOrder(ctx context.Context, id string) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID string) ([]models.OrderLine, error)
	DeleteOrderLines(ctx context.Context, orderID string) error
	DeleteOrder(ctx context.Context, id string) error

	InsertStockImport(ctx context.Context, imp *models.StockImport) error
	InsertStockImportLine(ctx context.Context, line *models.StockImportLine) error
	UpdateStockImportTotal(ctx context.Context, id string, total decimal.Decimal) error
	LockStockImport(ctx context.Context, id string) (*models.StockImport, error)
	GetStockImportLines(ctx context.Context, importID string) ([]models.StockImportLine, error)
	DeleteStockImportLines(ctx context.Context, importID string) error
	DeleteStockImport(ctx context.Context, id string) error

	Commit() error
	Rollback() error
}

// WithTx runs fn inside a transaction. The transaction commits only when fn
// returns nil; every other exit path, panics included, rolls back and
// releases all row locks.
func WithTx(ctx context.Context, s Store, fn func(tx Tx) error) (err error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
