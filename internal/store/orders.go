package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"inventory-service/internal/models"

	"github.com/shopspring/decimal"
)

// GetOrder retrieves an order header by ID
func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderLines retrieves all lines of an order
func (s *PostgresStore) GetOrderLines(ctx context.Context, orderID string) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY line_no", orderID)
	return lines, err
}

// ListOrders retrieves orders newest first
func (s *PostgresStore) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Keyword != "" {
		p := arg("%" + escapeLike(filter.Keyword) + "%")
		conds = append(conds, fmt.Sprintf("(id ILIKE %s OR customer_id ILIKE %s)", p, p))
	}
	if filter.CustomerID != "" {
		conds = append(conds, "customer_id = "+arg(filter.CustomerID))
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "created_at < "+arg(*filter.To))
	}

	query := "SELECT * FROM orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// UpdateOrderPaymentStatus updates the payment flag of an order
func (s *PostgresStore) UpdateOrderPaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1 WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// GetStockImport retrieves a stock import header by ID
func (s *PostgresStore) GetStockImport(ctx context.Context, id string) (*models.StockImport, error) {
	var imp models.StockImport
	err := s.db.GetContext(ctx, &imp, "SELECT * FROM stock_imports WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &imp, nil
}

// GetStockImportLines retrieves all lines of a stock import
func (s *PostgresStore) GetStockImportLines(ctx context.Context, importID string) ([]models.StockImportLine, error) {
	var lines []models.StockImportLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM stock_import_lines WHERE import_id = $1 ORDER BY line_no", importID)
	return lines, err
}

// ListStockImports retrieves stock imports newest first
func (s *PostgresStore) ListStockImports(ctx context.Context, filter models.ImportFilter) ([]models.StockImport, error) {
	query := "SELECT * FROM stock_imports WHERE ($1::timestamptz IS NULL OR created_at >= $1) AND ($2::timestamptz IS NULL OR created_at < $2) ORDER BY created_at DESC, id DESC"

	var imports []models.StockImport
	err := s.db.SelectContext(ctx, &imports, query, filter.From, filter.To)
	return imports, err
}

// UpdateStockImportSupplier renames the supplier of a stock import
func (s *PostgresStore) UpdateStockImportSupplier(ctx context.Context, id, supplier string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE stock_imports SET supplier = $1 WHERE id = $2", supplier, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, total, payment_status, created_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, order.CustomerID, order.Total, order.PaymentStatus, order.CreatedAt, order.IdempotencyKey)
	return translate(err)
}

func (t *pgTx) InsertOrderLine(ctx context.Context, line *models.OrderLine) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_lines (order_id, line_no, product_id, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		line.OrderID, line.LineNo, line.ProductID, line.Quantity, line.UnitPrice, line.LineTotal)
	return translate(err)
}

func (t *pgTx) UpdateOrderTotal(ctx context.Context, id string, total decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, "UPDATE orders SET total = $1 WHERE id = $2", total, id)
	if err != nil {
		return translate(err)
	}
	return expectOneRow(res)
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (t *pgTx) GetOrderLines(ctx context.Context, orderID string) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := t.tx.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY line_no FOR UPDATE", orderID)
	return lines, translate(err)
}

func (t *pgTx) DeleteOrderLines(ctx context.Context, orderID string) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM order_lines WHERE order_id = $1", orderID)
	return translate(err)
}

func (t *pgTx) DeleteOrder(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return translate(err)
	}
	return expectOneRow(res)
}

func (t *pgTx) InsertStockImport(ctx context.Context, imp *models.StockImport) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_imports (id, supplier, total, created_at, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)`,
		imp.ID, imp.Supplier, imp.Total, imp.CreatedAt, imp.IdempotencyKey)
	return translate(err)
}

func (t *pgTx) InsertStockImportLine(ctx context.Context, line *models.StockImportLine) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_import_lines (import_id, line_no, product_id, quantity, unit_cost, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		line.ImportID, line.LineNo, line.ProductID, line.Quantity, line.UnitCost, line.LineTotal)
	return translate(err)
}

func (t *pgTx) UpdateStockImportTotal(ctx context.Context, id string, total decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, "UPDATE stock_imports SET total = $1 WHERE id = $2", total, id)
	if err != nil {
		return translate(err)
	}
	return expectOneRow(res)
}

func (t *pgTx) LockStockImport(ctx context.Context, id string) (*models.StockImport, error) {
	var imp models.StockImport
	err := t.tx.GetContext(ctx, &imp, "SELECT * FROM stock_imports WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, translate(err)
	}
	return &imp, nil
}

func (t *pgTx) GetStockImportLines(ctx context.Context, importID string) ([]models.StockImportLine, error) {
	var lines []models.StockImportLine
	err := t.tx.SelectContext(ctx, &lines,
		"SELECT * FROM stock_import_lines WHERE import_id = $1 ORDER BY line_no", importID)
	return lines, translate(err)
}

func (t *pgTx) DeleteStockImportLines(ctx context.Context, importID string) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM stock_import_lines WHERE import_id = $1", importID)
	return translate(err)
}

func (t *pgTx) DeleteStockImport(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM stock_imports WHERE id = $1", id)
	if err != nil {
		return translate(err)
	}
	return expectOneRow(res)
}
