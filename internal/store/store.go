package store

import (
	"context"
	"errors"
	"time"

	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/inventory"
)

// ErrDuplicateSaleNumber is returned by Tx.InsertSale when the sale number is
// already taken. The transaction is unusable afterwards; callers start a new
// one with a fresh number.
var ErrDuplicateSaleNumber = errors.New("duplicate sale number")

// ErrDuplicateDelivery is returned when a delivery transaction id is reused.
var ErrDuplicateDelivery = errors.New("duplicate delivery transaction id")

type ProductFilter struct {
	IncludeInactive bool
}

type SaleFilter struct {
	From        *time.Time
	To          *time.Time
	IncludeVoid bool
	// Limit 0 returns every matching sale.
	Limit  int
	Offset int
}

type StockHistoryFilter struct {
	ProductID string
	Limit     int
}

type Repository interface {
	ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListPriceHistory(ctx context.Context, productID string) ([]domain.PriceSnapshot, error)

	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	// ListSales returns matching sales newest first and the total match count.
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, int, error)
	// MaxSaleSequence is the highest sequence value among stored sale
	// numbers for dayKey, voided sales included. 0 when the day has none.
	MaxSaleSequence(ctx context.Context, dayKey string) (int64, error)

	ListStockHistory(ctx context.Context, filter StockHistoryFilter) ([]domain.StockHistory, error)

	FindUser(ctx context.Context, username string) (*domain.UserAccount, error)

	// WithTx runs fn in one isolated transaction. fn's error rolls back every
	// write made through tx.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write side, only reachable inside Repository.WithTx.
type Tx interface {
	inventory.Ledger

	// GetProductForUpdate loads a product with its price history and locks it
	// until the transaction ends.
	GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error)
	InsertProduct(ctx context.Context, product domain.Product) error
	// SaveProduct writes product fields other than stock, plus the history
	// entry appended by the change (nil when the price did not move).
	SaveProduct(ctx context.Context, product domain.Product, appended *domain.PriceSnapshot) error

	InsertSale(ctx context.Context, sale domain.Sale) error
	GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error)
	MarkSaleVoid(ctx context.Context, id string, voidedAt time.Time, voidedBy string, reason string) error

	InsertStockHistory(ctx context.Context, entry domain.StockHistory) error
}
