package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"inventory-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *PostgresStore {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	s, err := NewPostgresStore(url, 5, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	db := s.GetDB()
	db.MustExec("TRUNCATE order_lines, orders, stock_import_lines, stock_imports, id_counters, products")
	db.MustExec("INSERT INTO products (id, name, price, quantity) VALUES ('SP001', 'Pen', 10, 5)")
	return s
}

func TestPostgresCreateOrder(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	key := "req-1"

	err := WithTx(ctx, s, func(tx Tx) error {
		if _, found, err := tx.ClaimIdempotencyKey(ctx, TableOrders, key); err != nil || found {
			return fmt.Errorf("claim: found=%v err=%v", found, err)
		}
		if _, err := tx.LockProduct(ctx, "SP001"); err != nil {
			return err
		}
		order := &models.Order{
			ID:             "DH0001",
			CustomerID:     "KH001",
			PaymentStatus:  models.PaymentStatusUnpaid,
			CreatedAt:      time.Now(),
			IdempotencyKey: &key,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		line := &models.OrderLine{
			OrderID:   "DH0001",
			LineNo:    1,
			ProductID: "SP001",
			Quantity:  2,
			UnitPrice: decimal.NewFromInt(10),
			LineTotal: decimal.NewFromInt(20),
		}
		if err := tx.InsertOrderLine(ctx, line); err != nil {
			return err
		}
		if err := tx.AdjustStock(ctx, "SP001", -2); err != nil {
			return err
		}
		return tx.UpdateOrderTotal(ctx, "DH0001", decimal.NewFromInt(20))
	})
	require.NoError(t, err)

	retrieved, err := s.GetOrder(ctx, "DH0001")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(retrieved.Total))

	p, err := s.GetProduct(ctx, "SP001")
	require.NoError(t, err)
	assert.Equal(t, 3, p.Quantity)
	assert.Equal(t, int64(1), p.Version)

	err = WithTx(ctx, s, func(tx Tx) error {
		id, found, err := tx.ClaimIdempotencyKey(ctx, TableOrders, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "DH0001", id)
		return tx.InsertOrder(ctx, &models.Order{
			ID:             "DH0002",
			CustomerID:     "KH001",
			PaymentStatus:  models.PaymentStatusUnpaid,
			CreatedAt:      time.Now(),
			IdempotencyKey: &key,
		})
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestPostgresNegativeStockRejected(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	err := WithTx(ctx, s, func(tx Tx) error {
		if _, err := tx.LockProduct(ctx, "SP001"); err != nil {
			return err
		}
		return tx.AdjustStock(ctx, "SP001", -6)
	})
	assert.ErrorIs(t, err, ErrNegativeStock)
}

func TestPostgresCounterAndMaxIdentifier(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	err := WithTx(ctx, s, func(tx Tx) error {
		v, err := tx.LockCounter(ctx, "DH")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(0), v)

		id, err := tx.MaxIdentifier(ctx, TableOrders, "DH")
		if err != nil {
			return err
		}
		assert.Equal(t, "", id)
		return tx.SetCounter(ctx, "DH", 7)
	})
	require.NoError(t, err)

	err = WithTx(ctx, s, func(tx Tx) error {
		v, err := tx.LockCounter(ctx, "DH")
		assert.Equal(t, int64(7), v)
		return err
	})
	require.NoError(t, err)
}
