package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"
)

// quantities accumulates requested quantity per product
type quantities map[string]int

func (q quantities) sortedIDs() []string {
	ids := make([]string, 0, len(q))
	for id := range q {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// lockProducts takes the stock lock of every product in ascending id order
// and returns the locked rows. A missing product is reported as missing.
// Every transaction that touches more than one product goes through here, so
// all of them agree on one global lock order.
func lockProducts(ctx context.Context, tx store.Tx, ids []string, missing error) (map[string]*models.Product, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	start := time.Now()
	defer func() {
		util.StockLockWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	locked := make(map[string]*models.Product, len(sorted))
	for _, id := range sorted {
		if _, ok := locked[id]; ok {
			continue
		}
		p, err := tx.LockProduct(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: product %s does not exist", missing, id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock product %s: %w", id, err)
		}
		locked[id] = p
	}
	return locked, nil
}

// requireStock checks a locked product can give up requested units
func requireStock(p *models.Product, requested int) error {
	if p.Quantity < requested {
		return &InsufficientStockError{
			ProductID: p.ID,
			Name:      p.Name,
			Requested: requested,
			Available: p.Quantity,
		}
	}
	return nil
}

// applyStock adjusts every locked product by sign*quantity and returns the
// resulting changes in ascending product order. Each product is adjusted
// once, so its version after the change is the locked version plus one.
func applyStock(ctx context.Context, tx store.Tx, locked map[string]*models.Product, q quantities, sign int) ([]models.StockChange, error) {
	changes := make([]models.StockChange, 0, len(q))
	for _, id := range q.sortedIDs() {
		delta := sign * q[id]
		if err := tx.AdjustStock(ctx, id, delta); err != nil {
			if errors.Is(err, store.ErrNegativeStock) {
				p := locked[id]
				return nil, &InsufficientStockError{ProductID: id, Name: p.Name, Requested: -delta, Available: p.Quantity}
			}
			return nil, fmt.Errorf("failed to adjust stock of %s: %w", id, err)
		}
		changes = append(changes, models.StockChange{
			ProductID:     id,
			Delta:         delta,
			QuantityAfter: locked[id].Quantity + delta,
			Version:       locked[id].Version + 1,
		})
	}
	return changes, nil
}

func recordUnits(changes []models.StockChange) {
	for _, c := range changes {
		if c.Delta < 0 {
			util.StockUnitsMovedTotal.WithLabelValues("out").Add(float64(-c.Delta))
		} else {
			util.StockUnitsMovedTotal.WithLabelValues("in").Add(float64(c.Delta))
		}
	}
}
