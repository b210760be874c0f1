package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog item and its quantity-on-hand
type Product struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Visible   bool            `db:"visible" json:"visible"`
	Version   int64           `db:"version" json:"version"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Order represents a sales order header
type Order struct {
	ID            string          `db:"id" json:"id"`
	CustomerID    string          `db:"customer_id" json:"customer_id"`
	Total         decimal.Decimal `db:"total" json:"total"`
	PaymentStatus PaymentStatus   `db:"payment_status" json:"payment_status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`

	// IdempotencyKey is the client request key that created the order, if any
	IdempotencyKey *string     `db:"idempotency_key" json:"-"`
	Lines          []OrderLine `db:"-" json:"lines,omitempty"`
}

// OrderLine is one product entry of an order. UnitPrice is frozen at sale time.
type OrderLine struct {
	OrderID   string          `db:"order_id" json:"order_id"`
	LineNo    int             `db:"line_no" json:"line_no"`
	ProductID string          `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// StockImport represents an inbound stock replenishment document
type StockImport struct {
	ID        string            `db:"id" json:"id"`
	Supplier  string            `db:"supplier" json:"supplier"`
	Total     decimal.Decimal   `db:"total" json:"total"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`

	// IdempotencyKey is the client request key that created the import, if any
	IdempotencyKey *string           `db:"idempotency_key" json:"-"`
	Lines          []StockImportLine `db:"-" json:"lines,omitempty"`
}

// StockImportLine is one product entry of a stock import
type StockImportLine struct {
	ImportID  string          `db:"import_id" json:"import_id"`
	LineNo    int             `db:"line_no" json:"line_no"`
	ProductID string          `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitCost  decimal.Decimal `db:"unit_cost" json:"unit_cost"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// PaymentStatus of an order
type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

// Valid reports whether s is a known payment status
func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusUnpaid || s == PaymentStatusPaid
}

// StockMovement is the per-product input of stock reconstruction: the current
// quantity plus movement sums recorded on or after a cutoff.
type StockMovement struct {
	ProductID     string          `db:"product_id"`
	Name          string          `db:"name"`
	Price         decimal.Decimal `db:"price"`
	Current       int             `db:"current_quantity"`
	SoldAfter     int             `db:"sold_after"`
	ImportedAfter int             `db:"imported_after"`
}

// StockSnapshot is the stock level of a product at a point in time
type StockSnapshot struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Value     decimal.Decimal `json:"value"`
}

// OrderFilter narrows order listings
type OrderFilter struct {
	Keyword    string
	CustomerID string
	From       *time.Time
	To         *time.Time
}

// ImportFilter narrows stock import listings
type ImportFilter struct {
	From *time.Time
	To   *time.Time
}
