package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"inventory-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewPostgresStore creates a new database store
func NewPostgresStore(databaseURL string, maxOpenConns int, lockTimeout time.Duration) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, lockTimeout: lockTimeout}, nil
}

// Migrate creates the schema if it does not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *PostgresStore) GetDB() *sqlx.DB {
	return s.db
}

// BeginTx opens a transaction with the configured lock timeout applied to it
func (s *PostgresStore) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}

	if s.lockTimeout > 0 {
		timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, "SELECT set_config('lock_timeout', $1, true)", timeout); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	return &pgTx{tx: tx}, nil
}

// GetProduct retrieves a product by ID
func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves all products
func (s *PostgresStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// StockMovementsSince runs as a single statement, so every sum and the
// current quantity come from the same snapshot.
func (s *PostgresStore) StockMovementsSince(ctx context.Context, cutoff time.Time) ([]models.StockMovement, error) {
	query := `
		SELECT
			p.id AS product_id,
			p.name,
			p.price,
			p.quantity AS current_quantity,
			COALESCE((
				SELECT SUM(l.quantity)
				FROM order_lines l
				JOIN orders o ON o.id = l.order_id
				WHERE l.product_id = p.id AND o.created_at >= $1
			), 0) AS sold_after,
			COALESCE((
				SELECT SUM(l.quantity)
				FROM stock_import_lines l
				JOIN stock_imports si ON si.id = l.import_id
				WHERE l.product_id = p.id AND si.created_at >= $1
			), 0) AS imported_after
		FROM products p
		ORDER BY p.name ASC, p.id ASC`

	var rows []models.StockMovement
	if err := s.db.SelectContext(ctx, &rows, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to read stock movements: %w", err)
	}
	return rows, nil
}

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) Commit() error {
	return t.tx.Commit()
}

func (t *pgTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *pgTx) Savepoint(ctx context.Context, fn func() error) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT sp"); err != nil {
		return translate(err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT sp"); rbErr != nil {
			return fmt.Errorf("%v (rollback to savepoint: %w)", err, rbErr)
		}
		return err
	}
	_, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT sp")
	return translate(err)
}

// LockProduct reads a product row with FOR UPDATE
func (t *pgTx) LockProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := t.tx.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, translate(err)
	}
	return &product, nil
}

func (t *pgTx) AdjustStock(ctx context.Context, id string, delta int) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE products SET quantity = quantity + $1, version = version + 1 WHERE id = $2", delta, id)
	if err != nil {
		return translate(err)
	}
	return expectOneRow(res)
}

// ClaimIdempotencyKey serializes requests sharing a key on a transaction
// scoped advisory lock. Under READ COMMITTED the lookup that follows the
// lock sees a document committed by the previous holder.
func (t *pgTx) ClaimIdempotencyKey(ctx context.Context, table Table, key string) (string, bool, error) {
	if table != TableOrders && table != TableStockImports {
		return "", false, fmt.Errorf("unknown document table %q", table)
	}

	if _, err := t.tx.ExecContext(ctx,
		"SELECT pg_advisory_xact_lock(hashtext($1))", string(table)+":"+key); err != nil {
		return "", false, translate(err)
	}

	var id string
	query := fmt.Sprintf("SELECT id FROM %s WHERE idempotency_key = $1", table)
	err := t.tx.GetContext(ctx, &id, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, translate(err)
	}
	return id, true, nil
}

// LockCounter seeds the counter row on first use and locks it
func (t *pgTx) LockCounter(ctx context.Context, prefix string) (int64, error) {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO id_counters (prefix, value) VALUES ($1, 0) ON CONFLICT (prefix) DO NOTHING", prefix)
	if err != nil {
		return 0, translate(err)
	}

	var value int64
	err = t.tx.GetContext(ctx, &value, "SELECT value FROM id_counters WHERE prefix = $1 FOR UPDATE", prefix)
	if err != nil {
		return 0, translate(err)
	}
	return value, nil
}

func (t *pgTx) SetCounter(ctx context.Context, prefix string, value int64) error {
	res, err := t.tx.ExecContext(ctx, "UPDATE id_counters SET value = $1 WHERE prefix = $2", value, prefix)
	if err != nil {
		return translate(err)
	}
	return expectOneRow(res)
}

// MaxIdentifier orders by length first so "DH10" sorts above "DH9"
func (t *pgTx) MaxIdentifier(ctx context.Context, table Table, prefix string) (string, error) {
	if table != TableOrders && table != TableStockImports {
		return "", fmt.Errorf("unknown identifier table %q", table)
	}

	query := fmt.Sprintf(
		`SELECT id FROM %s WHERE id LIKE $1 ESCAPE '\' ORDER BY LENGTH(id) DESC, id DESC LIMIT 1`, table)

	var id string
	err := t.tx.GetContext(ctx, &id, query, escapeLike(prefix)+"%")
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", translate(err)
	}
	return id, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// translate maps driver errors onto store errors
func translate(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23514":
			return fmt.Errorf("%w: %s", ErrNegativeStock, pqErr.Message)
		case "55P03":
			return fmt.Errorf("%w: %s", ErrLockTimeout, pqErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pqErr.Message)
		}
	}
	return err
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
