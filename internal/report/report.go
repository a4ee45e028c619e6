// Package report aggregates committed sales and product data. Every function
// is pure and skips void sales, so the same input always yields the same
// figures.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/pricing"
)

const (
	DefaultTopLimit = 10
	MaxTopLimit     = 100
)

// Sales builds the revenue, tax and cost summary for w. COGS uses each
// product's current base price, so the figure moves when prices change.
func Sales(w Window, sales []domain.Sale, products map[string]domain.Product, loc *time.Location) domain.SalesReport {
	out := domain.SalesReport{
		StartDate:      w.Start,
		EndDate:        w.End,
		Timezone:       loc.String(),
		TotalRevenue:   decimal.Zero,
		TotalVAT:       decimal.Zero,
		TotalDiscount:  decimal.Zero,
		TotalCOGS:      decimal.Zero,
		Profit:         decimal.Zero,
		DailyBreakdown: map[string]domain.DailyBucket{},
	}

	for _, sale := range sales {
		if sale.IsVoid || !w.Contains(sale.CreatedAt) {
			continue
		}
		out.TotalSales++
		out.TotalRevenue = out.TotalRevenue.Add(sale.Total)
		out.TotalVAT = out.TotalVAT.Add(sale.Tax)
		out.TotalDiscount = out.TotalDiscount.Add(sale.Discount)

		key := sale.CreatedAt.In(loc).Format(DateLayout)
		bucket := out.DailyBreakdown[key]
		bucket.Count++
		bucket.Revenue = bucket.Revenue.Add(sale.Total)
		out.DailyBreakdown[key] = bucket

		for _, item := range sale.Items {
			product, ok := products[item.ProductID]
			if !ok {
				continue
			}
			cost := pricing.Current(product).BasePrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
			out.TotalCOGS = out.TotalCOGS.Add(cost)
		}
	}

	out.Profit = out.TotalRevenue.Sub(out.TotalCOGS)
	return out
}

// Inventory summarises active products only.
func Inventory(products []domain.Product) domain.InventoryReport {
	out := domain.InventoryReport{
		TotalStockValue: decimal.Zero,
		LowStock:        []domain.InventoryItem{},
		OutOfStock:      []domain.InventoryItem{},
		Categories:      []domain.CategoryRollup{},
	}
	rollups := map[string]*domain.CategoryRollup{}

	for _, p := range products {
		if !p.IsActive {
			continue
		}
		value := pricing.Current(p).BasePrice.Mul(decimal.NewFromInt(int64(p.StockQuantity)))
		out.TotalProducts++
		out.TotalStockValue = out.TotalStockValue.Add(value)

		item := domain.InventoryItem{
			ProductID:         p.ID,
			Name:              p.Name,
			Category:          categoryLabel(p.Category),
			StockQuantity:     p.StockQuantity,
			LowStockThreshold: p.LowStockThreshold,
		}
		if p.StockQuantity <= p.LowStockThreshold {
			out.LowStock = append(out.LowStock, item)
		}
		if p.StockQuantity == 0 {
			out.OutOfStock = append(out.OutOfStock, item)
		}

		rollup, ok := rollups[item.Category]
		if !ok {
			rollup = &domain.CategoryRollup{Category: item.Category, StockValue: decimal.Zero}
			rollups[item.Category] = rollup
		}
		rollup.ProductCount++
		rollup.StockValue = rollup.StockValue.Add(value)
	}

	for _, rollup := range rollups {
		out.Categories = append(out.Categories, *rollup)
	}
	sort.Slice(out.Categories, func(i, j int) bool {
		return out.Categories[i].Category < out.Categories[j].Category
	})
	sortItems(out.LowStock)
	sortItems(out.OutOfStock)
	return out
}

// TopProducts ranks products by quantity sold, highest first. Equal
// quantities are ordered by product id.
func TopProducts(w *Window, sales []domain.Sale, limit int) []domain.ProductRanking {
	limit = NormalizeLimit(limit)

	byProduct := map[string]*domain.ProductRanking{}
	for _, sale := range sales {
		if sale.IsVoid || !w.Contains(sale.CreatedAt) {
			continue
		}
		for _, item := range sale.Items {
			row, ok := byProduct[item.ProductID]
			if !ok {
				row = &domain.ProductRanking{ProductID: item.ProductID, ProductName: item.ProductName, TotalRevenue: decimal.Zero}
				byProduct[item.ProductID] = row
			}
			row.TotalQuantity += item.Quantity
			row.TotalRevenue = row.TotalRevenue.Add(item.Subtotal)
			row.Occurrences++
		}
	}

	ranked := make([]domain.ProductRanking, 0, len(byProduct))
	for _, row := range byProduct {
		ranked = append(ranked, *row)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TotalQuantity != ranked[j].TotalQuantity {
			return ranked[i].TotalQuantity > ranked[j].TotalQuantity
		}
		return ranked[i].ProductID < ranked[j].ProductID
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

// Trends buckets revenue by day, ISO week or month, ascending by key.
func Trends(w Window, sales []domain.Sale, groupBy domain.TrendGranularity, loc *time.Location) ([]domain.TrendBucket, error) {
	if !groupBy.Valid() {
		return nil, fmt.Errorf("%w: groupBy must be day, week or month", domain.ErrInvalidRequest)
	}

	buckets := map[string]*domain.TrendBucket{}
	for _, sale := range sales {
		if sale.IsVoid || !w.Contains(sale.CreatedAt) {
			continue
		}
		key := BucketKey(sale.CreatedAt, groupBy, loc)
		b, ok := buckets[key]
		if !ok {
			b = &domain.TrendBucket{Period: key, Revenue: decimal.Zero}
			buckets[key] = b
		}
		b.SaleCount++
		b.Revenue = b.Revenue.Add(sale.Total)
	}

	out := make([]domain.TrendBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Period < out[j].Period
	})
	return out, nil
}

func BucketKey(t time.Time, groupBy domain.TrendGranularity, loc *time.Location) string {
	local := t.In(loc)
	switch groupBy {
	case domain.GroupByWeek:
		year, week := local.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case domain.GroupByMonth:
		return local.Format("2006-01")
	default:
		return local.Format(DateLayout)
	}
}

func NormalizeLimit(limit int) int {
	if limit < 1 {
		return DefaultTopLimit
	}
	if limit > MaxTopLimit {
		return MaxTopLimit
	}
	return limit
}

func categoryLabel(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return domain.UncategorizedLabel
	}
	return category
}

func sortItems(items []domain.InventoryItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].StockQuantity != items[j].StockQuantity {
			return items[i].StockQuantity < items[j].StockQuantity
		}
		return items[i].ProductID < items[j].ProductID
	})
}
