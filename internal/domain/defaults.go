package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// OptionalNumber is a numeric request field that may be absent, null or an
// empty string. Numbers and numeric strings are both accepted.
type OptionalNumber struct {
	value decimal.Decimal
	set   bool
}

func NewOptionalNumber(v decimal.Decimal) OptionalNumber {
	return OptionalNumber{value: v, set: true}
}

func (n *OptionalNumber) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*n = OptionalNumber{}
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = OptionalNumber{}
			return nil
		}
		raw = []byte(s)
	}
	v, err := decimal.NewFromString(string(raw))
	if err != nil {
		return fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, string(raw))
	}
	*n = OptionalNumber{value: v, set: true}
	return nil
}

func (n OptionalNumber) MarshalJSON() ([]byte, error) {
	if !n.set {
		return []byte("null"), nil
	}
	return n.value.MarshalJSON()
}

func (n OptionalNumber) IsSet() bool {
	return n.set
}

// Or returns the value, or fallback when the field was not provided.
func (n OptionalNumber) Or(fallback decimal.Decimal) decimal.Decimal {
	if !n.set {
		return fallback
	}
	return n.value
}

type ProductCreateRequest struct {
	Name              string         `json:"name" validate:"required,max=200"`
	Category          string         `json:"category" validate:"max=100"`
	Price             OptionalNumber `json:"price"`
	MarkupPercentage  OptionalNumber `json:"markupPercentage"`
	StockQuantity     OptionalNumber `json:"stockQuantity"`
	LowStockThreshold *int           `json:"lowStockThreshold,omitempty" validate:"omitempty,gte=0"`
}

// ProductDefaults is applied when a product is constructed from a request
// that leaves a field out.
//
//	price              0
//	markupPercentage   0
//	stockQuantity      0
//	lowStockThreshold  10
//	category           "" (reported as Uncategorized)
var ProductDefaults = struct {
	Price             decimal.Decimal
	MarkupPercentage  decimal.Decimal
	StockQuantity     int
	LowStockThreshold int
	Category          string
}{
	Price:             decimal.Zero,
	MarkupPercentage:  decimal.Zero,
	StockQuantity:     0,
	LowStockThreshold: 10,
	Category:          "",
}

// maxStockQuantity matches the INTEGER stock_quantity column.
var maxStockQuantity = decimal.NewFromInt(math.MaxInt32)

// NewProductFields is a create request with every default filled in.
type NewProductFields struct {
	Name              string
	Category          string
	Price             decimal.Decimal
	MarkupPercentage  decimal.Decimal
	StockQuantity     int
	LowStockThreshold int
}

func (r ProductCreateRequest) WithDefaults() (NewProductFields, error) {
	fields := NewProductFields{
		Name:              strings.TrimSpace(r.Name),
		Category:          strings.TrimSpace(r.Category),
		Price:             r.Price.Or(ProductDefaults.Price),
		MarkupPercentage:  r.MarkupPercentage.Or(ProductDefaults.MarkupPercentage),
		LowStockThreshold: ProductDefaults.LowStockThreshold,
	}
	if fields.Name == "" {
		return NewProductFields{}, fmt.Errorf("%w: product name is required", ErrInvalidRequest)
	}
	if fields.Category == "" {
		fields.Category = ProductDefaults.Category
	}
	if r.LowStockThreshold != nil {
		fields.LowStockThreshold = *r.LowStockThreshold
	}

	stock := r.StockQuantity.Or(decimal.NewFromInt(int64(ProductDefaults.StockQuantity)))
	if !stock.IsInteger() || stock.IsNegative() || stock.GreaterThan(maxStockQuantity) {
		return NewProductFields{}, fmt.Errorf("%w: stock quantity must be a whole number between 0 and %d", ErrInvalidAmount, math.MaxInt32)
	}
	fields.StockQuantity = int(stock.IntPart())

	if fields.Price.IsNegative() || fields.MarkupPercentage.IsNegative() {
		return NewProductFields{}, fmt.Errorf("%w: price and markup must be >= 0", ErrInvalidAmount)
	}
	if fields.LowStockThreshold < 0 || fields.LowStockThreshold > math.MaxInt32 {
		return NewProductFields{}, fmt.Errorf("%w: low stock threshold must be between 0 and %d", ErrInvalidAmount, math.MaxInt32)
	}
	return fields, nil
}
