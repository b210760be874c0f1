package service

import (
	"context"
	"fmt"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format accepted by stock reports
const DateLayout = "2006-01-02"

// ReportService reconstructs past stock levels from the current ledger and
// the order and import lines recorded since
type ReportService struct {
	store    store.Store
	location *time.Location
}

// NewReportService creates a report service that interprets dates in cfg.ReportLocation
func NewReportService(st store.Store, cfg Config) *ReportService {
	loc := cfg.ReportLocation
	if loc == nil {
		loc = time.UTC
	}
	return &ReportService{store: st, location: loc}
}

// ParseDate parses a YYYY-MM-DD calendar date in the report time zone
func (s *ReportService) ParseDate(value string) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, value, s.location)
	if err != nil {
		return time.Time{}, invalidInput("date %q is not in YYYY-MM-DD form", value)
	}
	return d, nil
}

// GetStockAsOf returns every product's quantity at the end of date. Sales
// dated after that day are added back and imports dated after it are taken
// out again. Products are ordered by name.
func (s *ReportService) GetStockAsOf(ctx context.Context, date time.Time) (snapshots []models.StockSnapshot, err error) {
	ctx, span := util.StartSpan(ctx, "ReportService.GetStockAsOf")
	defer func() { util.EndSpan(span, err) }()

	y, m, d := date.In(s.location).Date()
	cutoff := time.Date(y, m, d+1, 0, 0, 0, 0, s.location)

	rows, err := s.store.StockMovementsSince(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to read stock movements: %w", err)
	}

	snapshots = make([]models.StockSnapshot, 0, len(rows))
	for _, r := range rows {
		qty := r.Current + r.SoldAfter - r.ImportedAfter
		snapshots = append(snapshots, models.StockSnapshot{
			ProductID: r.ProductID,
			Name:      r.Name,
			Price:     r.Price,
			Quantity:  qty,
			Value:     r.Price.Mul(decimal.NewFromInt(int64(qty))),
		})
	}
	return snapshots, nil
}
