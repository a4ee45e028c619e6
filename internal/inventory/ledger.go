// Package inventory holds the stock primitives shared by every store.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"salesledger/backend/internal/domain"
)

// Ledger adjusts stock inside an open store transaction. Callers wrap one
// call per line in the transaction boundary; implementations must hold a
// lock on the product row for the rest of that transaction.
type Ledger interface {
	ReserveAndDecrement(ctx context.Context, productID string, quantity int) error
	Increment(ctx context.Context, productID string, quantity int) error
}

// Reserve validates taking quantity units from product and returns the
// resulting stock level.
func Reserve(product *domain.Product, productID string, quantity int) (int, error) {
	if product == nil || !product.IsActive {
		return 0, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	if quantity < 1 {
		return 0, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidAmount)
	}
	if product.StockQuantity < quantity {
		return 0, &domain.InsufficientStockError{
			ProductID: product.ID,
			Requested: quantity,
			Available: product.StockQuantity,
		}
	}
	return product.StockQuantity - quantity, nil
}

// Restore returns the stock level after putting quantity units back.
func Restore(product *domain.Product, productID string, quantity int) (int, error) {
	if product == nil {
		return 0, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	if quantity < 1 {
		return 0, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidAmount)
	}
	return product.StockQuantity + quantity, nil
}

type Line struct {
	ProductID string
	Quantity  int
}

// Merge folds repeated products into their first line, keeping the order in
// which products first appear.
func Merge(lines []Line) []Line {
	index := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			out[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out
}

// Demand merges lines per product and orders them by product id, which is
// the lock order used for every multi-product transaction.
func Demand(lines []Line) []Line {
	out := Merge(lines)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

func DemandForSale(items []domain.SaleItem) []Line {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return Demand(lines)
}
