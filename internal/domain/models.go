package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RoleSupplier Role = "supplier"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff, RoleSupplier:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash          PaymentMethod = "cash"
	PaymentCard          PaymentMethod = "card"
	PaymentMobilePayment PaymentMethod = "mobile_payment"
	PaymentOther         PaymentMethod = "other"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobilePayment, PaymentOther:
		return true
	}
	return false
}

// UncategorizedLabel is the report bucket for products without a category.
const UncategorizedLabel = "Uncategorized"

type PriceSnapshot struct {
	BasePrice        decimal.Decimal `json:"basePrice"`
	MarkupPercentage decimal.Decimal `json:"markupPercentage"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type Product struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	Price             decimal.Decimal `json:"price"`
	MarkupPercentage  decimal.Decimal `json:"markupPercentage"`
	SellingPrice      decimal.Decimal `json:"sellingPrice"`
	StockQuantity     int             `json:"stockQuantity"`
	LowStockThreshold int             `json:"lowStockThreshold"`
	IsActive          bool            `json:"isActive"`
	PricingHistory    []PriceSnapshot `json:"pricingHistory,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Phone string `json:"phone,omitempty" validate:"omitempty,numeric,max=11"`
}

func (c *Customer) IsZero() bool {
	return c == nil || (c.Name == "" && c.Email == "" && c.Phone == "")
}

type SaleItem struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type Sale struct {
	ID            string          `json:"id"`
	SaleNumber    string          `json:"saleNumber"`
	Customer      *Customer       `json:"customer,omitempty"`
	Items         []SaleItem      `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Cashier       string          `json:"cashier"`
	IsVoid        bool            `json:"isVoid"`
	VoidedAt      *time.Time      `json:"voidedAt,omitempty"`
	VoidedBy      string          `json:"voidedBy,omitempty"`
	VoidReason    string          `json:"voidReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type StockHistory struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	ProductID     string          `json:"productId"`
	StockQuantity int             `json:"stockQuantity"`
	DateDelivered time.Time       `json:"dateDelivered"`
	TotalCost     decimal.Decimal `json:"totalCost"`
	AddedBy       string          `json:"addedBy"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      Role      `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type Actor struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        Role   `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type SaleItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
}

type CreateSaleRequest struct {
	Items         []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	Discount      decimal.Decimal   `json:"discount" validate:"gte=0"`
	Tax           decimal.Decimal   `json:"tax" validate:"gte=0"`
	PaymentMethod PaymentMethod     `json:"paymentMethod" validate:"required,oneof=cash card mobile_payment other"`
	Customer      *Customer         `json:"customer,omitempty" validate:"omitempty"`
}

type VoidSaleRequest struct {
	SupervisorCode string `json:"supervisorCode"`
	Reason         string `json:"reason" validate:"max=255"`
}

type SaleListResponse struct {
	Sales  []Sale `json:"sales"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type ProductUpdateRequest struct {
	Name              *string        `json:"name,omitempty"`
	Category          *string        `json:"category,omitempty"`
	Price             OptionalNumber `json:"price"`
	MarkupPercentage  OptionalNumber `json:"markupPercentage"`
	LowStockThreshold *int           `json:"lowStockThreshold,omitempty" validate:"omitempty,gte=0"`
	IsActive          *bool          `json:"isActive,omitempty"`
}

type DeliveryRequest struct {
	TransactionID string          `json:"transactionId" validate:"max=64"`
	ProductID     string          `json:"productId" validate:"required"`
	StockQuantity int             `json:"stockQuantity" validate:"gte=1"`
	DateDelivered *time.Time      `json:"dateDelivered,omitempty"`
	TotalCost     decimal.Decimal `json:"totalCost" validate:"gte=0"`
}

type DailyBucket struct {
	Count   int             `json:"count"`
	Revenue decimal.Decimal `json:"revenue"`
}

type SalesReport struct {
	StartDate      string                 `json:"startDate"`
	EndDate        string                 `json:"endDate"`
	Timezone       string                 `json:"timezone"`
	TotalSales     int                    `json:"totalSales"`
	TotalRevenue   decimal.Decimal        `json:"totalRevenue"`
	TotalVAT       decimal.Decimal        `json:"totalVAT"`
	TotalDiscount  decimal.Decimal        `json:"totalDiscount"`
	TotalCOGS      decimal.Decimal        `json:"totalCOGS"`
	Profit         decimal.Decimal        `json:"profit"`
	DailyBreakdown map[string]DailyBucket `json:"dailyBreakdown"`
}

type InventoryItem struct {
	ProductID         string `json:"productId"`
	Name              string `json:"name"`
	Category          string `json:"category"`
	StockQuantity     int    `json:"stockQuantity"`
	LowStockThreshold int    `json:"lowStockThreshold"`
}

type CategoryRollup struct {
	Category     string          `json:"category"`
	ProductCount int             `json:"productCount"`
	StockValue   decimal.Decimal `json:"stockValue"`
}

type InventoryReport struct {
	TotalProducts   int              `json:"totalProducts"`
	TotalStockValue decimal.Decimal  `json:"totalStockValue"`
	LowStock        []InventoryItem  `json:"lowStock"`
	OutOfStock      []InventoryItem  `json:"outOfStock"`
	Categories      []CategoryRollup `json:"categories"`
}

type ProductRanking struct {
	Rank          int             `json:"rank"`
	ProductID     string          `json:"productId"`
	ProductName   string          `json:"productName"`
	TotalQuantity int             `json:"totalQuantity"`
	TotalRevenue  decimal.Decimal `json:"totalRevenue"`
	Occurrences   int             `json:"occurrences"`
}

type TopProductsReport struct {
	StartDate string           `json:"startDate,omitempty"`
	EndDate   string           `json:"endDate,omitempty"`
	Limit     int              `json:"limit"`
	Products  []ProductRanking `json:"products"`
}

type TrendGranularity string

const (
	GroupByDay   TrendGranularity = "day"
	GroupByWeek  TrendGranularity = "week"
	GroupByMonth TrendGranularity = "month"
)

func (g TrendGranularity) Valid() bool {
	switch g {
	case GroupByDay, GroupByWeek, GroupByMonth:
		return true
	}
	return false
}

type TrendBucket struct {
	Period    string          `json:"period"`
	Revenue   decimal.Decimal `json:"revenue"`
	SaleCount int             `json:"saleCount"`
}

type RevenueTrends struct {
	StartDate string           `json:"startDate"`
	EndDate   string           `json:"endDate"`
	GroupBy   TrendGranularity `json:"groupBy"`
	Timezone  string           `json:"timezone"`
	Buckets   []TrendBucket    `json:"buckets"`
}
