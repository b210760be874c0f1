// Package idgen allocates human-readable document identifiers such as
// "DH0001". Allocation runs inside the caller's transaction against a locked
// per-prefix counter row, so concurrent transactions serialize on the counter
// the same way they serialize on product stock rows.
package idgen

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"go.uber.org/zap"
)

// Sequence describes one identifier series
type Sequence struct {
	Prefix string
	Width  int
	Table  store.Table
}

// Allocator hands out identifiers. It never returns an error: when the counter
// cannot be read or written it falls back to a time-based suffix.
type Allocator struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewAllocator creates an Allocator
func NewAllocator(logger *zap.Logger) *Allocator {
	return &Allocator{logger: logger, now: time.Now}
}

// Allocate returns the next identifier of seq. The counter row stays locked
// until tx ends, so a rolled back transaction releases its number for reuse.
func (a *Allocator) Allocate(ctx context.Context, tx store.Tx, seq Sequence) string {
	var id string
	err := tx.Savepoint(ctx, func() error {
		var err error
		id, err = a.next(ctx, tx, seq)
		return err
	})
	if err != nil {
		fallback := seq.Prefix + strconv.FormatInt(a.now().UnixMilli(), 10)
		a.logger.Warn("Identifier allocation failed, using time-based fallback",
			zap.String("prefix", seq.Prefix),
			zap.String("fallback", fallback),
			zap.Error(err))
		util.IDAllocationFallbacksTotal.WithLabelValues(seq.Prefix).Inc()
		return fallback
	}
	return id
}

func (a *Allocator) next(ctx context.Context, tx store.Tx, seq Sequence) (string, error) {
	current, err := tx.LockCounter(ctx, seq.Prefix)
	if err != nil {
		return "", fmt.Errorf("lock counter: %w", err)
	}

	// Seed from existing documents the first time a prefix is used.
	if current == 0 {
		last, err := tx.MaxIdentifier(ctx, seq.Table, seq.Prefix)
		if err != nil {
			return "", fmt.Errorf("scan identifiers: %w", err)
		}
		if last != "" {
			n, ok := parseSuffix(last, seq.Prefix)
			if !ok {
				return "", fmt.Errorf("unparseable identifier %q", last)
			}
			current = n
		}
	}

	next := current + 1
	if err := tx.SetCounter(ctx, seq.Prefix, next); err != nil {
		return "", fmt.Errorf("advance counter: %w", err)
	}
	return Format(seq.Prefix, next, seq.Width), nil
}

// Format renders prefix followed by n zero-padded to width digits. Wider
// numbers are kept intact.
func Format(prefix string, n int64, width int) string {
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

func parseSuffix(id, prefix string) (int64, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(id[len(prefix):], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
