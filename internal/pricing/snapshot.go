// Package pricing maintains a product's append-only price history and derives
// the selling price currently in effect.
package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"salesledger/backend/internal/domain"
)

const places = 2

var hundred = decimal.NewFromInt(100)

type Price struct {
	BasePrice        decimal.Decimal `json:"basePrice"`
	MarkupPercentage decimal.Decimal `json:"markupPercentage"`
	SellingPrice     decimal.Decimal `json:"sellingPrice"`
}

func Normalize(v decimal.Decimal) decimal.Decimal {
	return v.Round(places)
}

// SellingPrice applies a percentage markup to a base price.
func SellingPrice(base, markup decimal.Decimal) decimal.Decimal {
	return Normalize(base).Mul(hundred.Add(Normalize(markup))).Div(hundred).Round(places)
}

// Current returns the price described by the last history entry. Products
// loaded without history fall back to their stored price columns.
func Current(p domain.Product) Price {
	if n := len(p.PricingHistory); n > 0 {
		last := p.PricingHistory[n-1]
		return Price{
			BasePrice:        last.BasePrice,
			MarkupPercentage: last.MarkupPercentage,
			SellingPrice:     SellingPrice(last.BasePrice, last.MarkupPercentage),
		}
	}
	return Price{
		BasePrice:        Normalize(p.Price),
		MarkupPercentage: Normalize(p.MarkupPercentage),
		SellingPrice:     SellingPrice(p.Price, p.MarkupPercentage),
	}
}

// RecordChange sets the product's price and appends a history entry when the
// base price or markup actually changed. It returns the appended entry, or nil
// when the update was a no-op.
//
// The first entry of an empty history carries the product's own modification
// timestamp (falling back to creation time, then at).
func RecordChange(p *domain.Product, base, markup decimal.Decimal, at time.Time) (*domain.PriceSnapshot, error) {
	base, markup = Normalize(base), Normalize(markup)
	if base.IsNegative() || markup.IsNegative() {
		return nil, fmt.Errorf("%w: price and markup must be >= 0", domain.ErrInvalidAmount)
	}

	entry := domain.PriceSnapshot{BasePrice: base, MarkupPercentage: markup, UpdatedAt: at.UTC()}
	if len(p.PricingHistory) == 0 {
		switch {
		case !p.UpdatedAt.IsZero():
			entry.UpdatedAt = p.UpdatedAt.UTC()
		case !p.CreatedAt.IsZero():
			entry.UpdatedAt = p.CreatedAt.UTC()
		}
	} else {
		current := p.PricingHistory[len(p.PricingHistory)-1]
		if current.BasePrice.Equal(base) && current.MarkupPercentage.Equal(markup) {
			return nil, nil
		}
	}

	p.PricingHistory = append(p.PricingHistory, entry)
	p.Price = base
	p.MarkupPercentage = markup
	p.SellingPrice = SellingPrice(base, markup)
	return &entry, nil
}

// CloneHistory copies a history slice so callers can't alias a stored product.
func CloneHistory(history []domain.PriceSnapshot) []domain.PriceSnapshot {
	if history == nil {
		return nil
	}
	out := make([]domain.PriceSnapshot, len(history))
	copy(out, history)
	return out
}
