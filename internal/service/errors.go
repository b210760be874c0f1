package service

import (
	"errors"
	"fmt"

	"inventory-service/internal/store"
)

var (
	// ErrInvalidInput marks malformed or missing request fields
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks a referenced order or stock import that does not exist
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock marks a movement that would drive stock below zero
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrImportNotReversible marks a stock import older than the reversal window
	ErrImportNotReversible = errors.New("stock import can no longer be reversed")
)

// InsufficientStockError names the product that blocked a transaction and how
// much of it was actually on hand. It matches ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("not enough stock for %s (%s): requested %d, only %d left",
		e.ProductID, e.Name, e.Requested, e.Available)
}

// Is lets errors.Is(err, ErrInsufficientStock) match
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Shortfall is the quantity missing to satisfy the request
func (e *InsufficientStockError) Shortfall() int {
	return e.Requested - e.Available
}

func invalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// failureReason is the metric label of an aborted transaction
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrImportNotReversible):
		return "not_reversible"
	case errors.Is(err, store.ErrLockTimeout):
		return "lock_timeout"
	default:
		return "storage"
	}
}
