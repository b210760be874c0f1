package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"inventory-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func importRequest(lines ...ImportLineRequest) *CreateImportRequest {
	return &CreateImportRequest{Supplier: "  Acme Stationery ", Lines: lines}
}

func TestCreateImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	imp, err := f.imports.CreateImport(ctx, importRequest(
		ImportLineRequest{ProductID: "SP003", Quantity: 5, UnitCost: decimal.NewFromInt(8)},
		ImportLineRequest{ProductID: "SP001", Quantity: 50, UnitCost: decimal.RequireFromString("0.90")},
	))
	require.NoError(t, err)

	assert.Equal(t, "NK0001", imp.ID)
	assert.Equal(t, "Acme Stationery", imp.Supplier)
	assert.True(t, decimal.NewFromInt(85).Equal(imp.Total), "total %s", imp.Total)

	require.Len(t, imp.Lines, 2)
	assert.Equal(t, "SP001", imp.Lines[0].ProductID, "lines are stored in product order")
	assert.Equal(t, 1, imp.Lines[0].LineNo)

	assert.Equal(t, 150, f.quantity(t, "SP001"))
	assert.Equal(t, 5, f.quantity(t, "SP003"))
	assert.Equal(t, []string{models.EventTypeStockImportCreated}, f.events.movedTypes())
}

func TestCreateImportInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  CreateImportRequest
	}{
		{"blank supplier", CreateImportRequest{Supplier: "   ", Lines: []ImportLineRequest{{ProductID: "SP001", Quantity: 1}}}},
		{"no lines", CreateImportRequest{Supplier: "Acme"}},
		{"zero quantity", CreateImportRequest{Supplier: "Acme", Lines: []ImportLineRequest{{ProductID: "SP001"}}}},
		{"negative cost", CreateImportRequest{Supplier: "Acme", Lines: []ImportLineRequest{{ProductID: "SP001", Quantity: 1, UnitCost: decimal.NewFromInt(-1)}}}},
		{"unknown product", CreateImportRequest{Supplier: "Acme", Lines: []ImportLineRequest{{ProductID: "SP404", Quantity: 1}}}},
		{"sub-cent cost", CreateImportRequest{Supplier: "Acme", Lines: []ImportLineRequest{
			{ProductID: "SP001", Quantity: 1, UnitCost: decimal.RequireFromString("0.005")},
			{ProductID: "SP002", Quantity: 1, UnitCost: decimal.RequireFromString("0.005")},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := tt.req

			_, err := f.imports.CreateImport(context.Background(), &req)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, 100, f.quantity(t, "SP001"))
		})
	}
}

// Line totals must add up to the header total once stored at two decimals
func TestCreateImportKeepsCentPrecision(t *testing.T) {
	f := newFixture(t)

	imp, err := f.imports.CreateImport(context.Background(), importRequest(
		ImportLineRequest{ProductID: "SP001", Quantity: 3, UnitCost: decimal.RequireFromString("0.330")},
		ImportLineRequest{ProductID: "SP002", Quantity: 1, UnitCost: decimal.RequireFromString("0.01")},
	))
	require.NoError(t, err)

	sum := decimal.Zero
	for _, l := range imp.Lines {
		assert.True(t, l.LineTotal.Equal(l.LineTotal.Round(2)), "line total %s", l.LineTotal)
		sum = sum.Add(l.LineTotal)
	}
	assert.True(t, decimal.RequireFromString("1.00").Equal(imp.Total), "total %s", imp.Total)
	assert.True(t, sum.Equal(imp.Total))
}

func TestDeleteImportWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	imp, err := f.imports.CreateImport(ctx, importRequest(
		ImportLineRequest{ProductID: "SP002", Quantity: 10, UnitCost: decimal.NewFromInt(3)},
	))
	require.NoError(t, err)
	assert.Equal(t, 30, f.quantity(t, "SP002"))

	f.clock = baseTime.Add(23 * time.Hour)
	require.NoError(t, f.imports.DeleteImport(ctx, imp.ID))

	assert.Equal(t, 20, f.quantity(t, "SP002"))
	_, err = f.imports.GetImport(ctx, imp.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{models.EventTypeStockImportCreated, models.EventTypeStockImportDeleted}, f.events.movedTypes())
}

func TestDeleteImportOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	imp, err := f.imports.CreateImport(ctx, importRequest(
		ImportLineRequest{ProductID: "SP002", Quantity: 10, UnitCost: decimal.NewFromInt(3)},
	))
	require.NoError(t, err)

	f.clock = baseTime.Add(25 * time.Hour)
	err = f.imports.DeleteImport(ctx, imp.ID)
	assert.ErrorIs(t, err, ErrImportNotReversible)

	assert.Equal(t, 30, f.quantity(t, "SP002"))
	stored, err := f.imports.GetImport(ctx, imp.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Lines, 1)
}

func TestDeleteImportAtWindowBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	imp, err := f.imports.CreateImport(ctx, importRequest(
		ImportLineRequest{ProductID: "SP002", Quantity: 10, UnitCost: decimal.NewFromInt(3)},
	))
	require.NoError(t, err)

	f.clock = baseTime.Add(24 * time.Hour)
	require.NoError(t, f.imports.DeleteImport(ctx, imp.ID), "exactly 24h old is still reversible")
	assert.Equal(t, 20, f.quantity(t, "SP002"))
}

func TestDeleteImportAfterStockWasSold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	imp, err := f.imports.CreateImport(ctx, importRequest(
		ImportLineRequest{ProductID: "SP001", Quantity: 5, UnitCost: decimal.NewFromInt(1)},
		ImportLineRequest{ProductID: "SP003", Quantity: 4, UnitCost: decimal.NewFromInt(9)},
	))
	require.NoError(t, err)

	_, err = f.orders.CreateOrder(ctx, &CreateOrderRequest{
		CustomerID: "KH001",
		Lines:      []OrderLineRequest{{ProductID: "SP003", Quantity: 3}},
	})
	require.NoError(t, err)

	err = f.imports.DeleteImport(ctx, imp.ID)
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "SP003", stockErr.ProductID)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 1, stockErr.Available)

	assert.Equal(t, 105, f.quantity(t, "SP001"), "no partial reversal")
	assert.Equal(t, 1, f.quantity(t, "SP003"))
}

func TestDeleteImportNotFound(t *testing.T) {
	f := newFixture(t)

	err := f.imports.DeleteImport(context.Background(), "NK0404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateImportSupplier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	imp, err := f.imports.CreateImport(ctx, importRequest(
		ImportLineRequest{ProductID: "SP001", Quantity: 1, UnitCost: decimal.NewFromInt(1)},
	))
	require.NoError(t, err)

	require.NoError(t, f.imports.UpdateImportSupplier(ctx, imp.ID, " Globex "))
	stored, err := f.imports.GetImport(ctx, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, "Globex", stored.Supplier)
	assert.Equal(t, 101, f.quantity(t, "SP001"))

	assert.ErrorIs(t, f.imports.UpdateImportSupplier(ctx, imp.ID, " "), ErrInvalidInput)
	assert.ErrorIs(t, f.imports.UpdateImportSupplier(ctx, "NK0404", "Globex"), ErrNotFound)
}

func TestListImports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.clock = baseTime.Add(time.Duration(i) * 24 * time.Hour)
		_, err := f.imports.CreateImport(ctx, importRequest(
			ImportLineRequest{ProductID: "SP001", Quantity: 1, UnitCost: decimal.NewFromInt(1)},
		))
		require.NoError(t, err)
	}

	from := baseTime.Add(24 * time.Hour)
	imports, err := f.imports.ListImports(ctx, models.ImportFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, imports, 2)
	assert.Equal(t, "NK0003", imports[0].ID)
	assert.Equal(t, "NK0002", imports[1].ID)
}

func TestImportIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := func() *CreateImportRequest {
		r := importRequest(ImportLineRequest{ProductID: "SP001", Quantity: 3, UnitCost: decimal.NewFromInt(1)})
		r.IdempotencyKey = "po-7"
		return r
	}

	first, err := f.imports.CreateImport(ctx, req())
	require.NoError(t, err)
	second, err := f.imports.CreateImport(ctx, req())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 103, f.quantity(t, "SP001"))
}

func TestImportIdempotencyKeyWithoutCache(t *testing.T) {
	f := newFixture(t)
	f.imports.idempotency = nil
	ctx := context.Background()

	req := func() *CreateImportRequest {
		r := importRequest(ImportLineRequest{ProductID: "SP003", Quantity: 2, UnitCost: decimal.NewFromInt(9)})
		r.IdempotencyKey = "po-8"
		return r
	}

	first, err := f.imports.CreateImport(ctx, req())
	require.NoError(t, err)
	second, err := f.imports.CreateImport(ctx, req())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Lines, 1)
	assert.Equal(t, 2, f.quantity(t, "SP003"))
	assert.Len(t, f.events.movedTypes(), 1)
}
