package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrAlreadyVoid       = errors.New("sale is already void")
	ErrUnauthorized      = errors.New("unauthorized")

	// ErrConflict and ErrUnavailable are transient; clients may retry.
	ErrConflict    = errors.New("concurrent modification, please retry")
	ErrUnavailable = errors.New("storage unavailable")
)

// InsufficientStockError reports a line that asked for more units than the
// product currently holds.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

func (e *InsufficientStockError) Shortfall() int {
	if e.Requested <= e.Available {
		return 0
	}
	return e.Requested - e.Available
}

// IsTransient reports whether err invites the caller to retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable)
}
