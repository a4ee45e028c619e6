package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/inventory"
	"salesledger/backend/internal/pricing"
	"salesledger/backend/internal/store"
	"salesledger/backend/internal/xid"
)

// Store keeps everything in process memory. Write transactions hold the
// store-wide lock, so they are serialized against each other and against
// readers.
type Store struct {
	mu            sync.RWMutex
	products      map[string]domain.Product
	sales         map[string]domain.Sale
	saleNumbers   map[string]string
	stockHistory  []domain.StockHistory
	deliveryTxIDs map[string]struct{}
	users         map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:      make(map[string]domain.Product),
		sales:         make(map[string]domain.Sale),
		saleNumbers:   make(map[string]string),
		deliveryTxIDs: make(map[string]struct{}),
		users:         make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo users and a small hardware catalog.
// Passwords come from SEED_ADMIN_PASSWORD, SEED_STAFF_PASSWORD and
// SEED_SUPPLIER_PASSWORD, with dev defaults when unset.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()

	accounts := []struct {
		username string
		envKey   string
		fallback string
		role     domain.Role
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"staff", "SEED_STAFF_PASSWORD", "staff123", domain.RoleStaff},
		{"supplier", "SEED_SUPPLIER_PASSWORD", "supplier123", domain.RoleSupplier},
	}
	now := time.Now().UTC()
	for _, acc := range accounts {
		password := os.Getenv(acc.envKey)
		if password == "" {
			password = acc.fallback
			logger.Warn("using default dev credential", zap.String("username", acc.username), zap.String("env", acc.envKey))
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", acc.username), zap.Error(err))
		}
		s.users[acc.username] = domain.UserAccount{
			Username:  acc.username,
			Password:  string(hash),
			Role:      acc.role,
			Active:    true,
			CreatedAt: now,
		}
	}

	catalog := []struct {
		name     string
		category string
		price    string
		markup   string
		stock    int
	}{
		{"Claw Hammer 16oz", "hand tools", "250", "30", 24},
		{"Common Wire Nails 2in (1kg)", "fasteners", "85", "25", 120},
		{"Portland Cement 40kg", "masonry", "240", "12", 60},
		{"Latex Paint White 4L", "paint", "520", "20", 18},
		{"PVC Pipe 1/2in x 3m", "plumbing", "95", "35", 40},
		{"Electrical Tape", "electrical", "28", "40", 75},
		{"Paint Brush 2in", "paint", "45", "50", 6},
		{"Sandpaper Assorted", "", "12", "60", 0},
	}
	for _, item := range catalog {
		p := domain.Product{
			ID:                xid.New(""),
			Name:              item.name,
			Category:          item.category,
			StockQuantity:     item.stock,
			LowStockThreshold: domain.ProductDefaults.LowStockThreshold,
			IsActive:          true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if _, err := pricing.RecordChange(&p, decimal.RequireFromString(item.price), decimal.RequireFromString(item.markup), now); err != nil {
			logger.Fatal("seed product price", zap.String("product", item.name), zap.Error(err))
		}
		s.products[p.ID] = p
	}
	return s
}

func (s *Store) ListProducts(_ context.Context, filter store.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.IsActive && !filter.IncludeInactive {
			continue
		}
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
	}
	clone := cloneProduct(p)
	return &clone, nil
}

func (s *Store) ListPriceHistory(_ context.Context, productID string) ([]domain.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	history := pricing.CloneHistory(p.PricingHistory)
	if history == nil {
		history = []domain.PriceSnapshot{}
	}
	return history, nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", id, domain.ErrNotFound)
	}
	clone := cloneSale(sale)
	return &clone, nil
}

func (s *Store) MaxSaleSequence(_ context.Context, dayKey string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var highest int64
	for number := range s.saleNumbers {
		if seq, ok := xid.SaleSequence(number, dayKey); ok && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, int, error) {
	s.mu.RLock()
	matched := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if sale.IsVoid && !filter.IncludeVoid {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		matched = append(matched, cloneSale(sale))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []domain.Sale{}, total, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *Store) ListStockHistory(_ context.Context, filter store.StockHistoryFilter) ([]domain.StockHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.StockHistory, 0)
	for i := len(s.stockHistory) - 1; i >= 0; i-- {
		entry := s.stockHistory[i]
		if filter.ProductID != "" && entry.ProductID != filter.ProductID {
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) FindUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
	}
	return &user, nil
}

// PutUser adds or replaces an account.
func (s *Store) PutUser(user domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(strings.TrimSpace(user.Username))] = user
}

// WithTx stages every write in tx and publishes them only when fn succeeds.
// fn must not call back into the Store's read methods.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:        s,
		products: make(map[string]*domain.Product),
		sales:    make(map[string]*domain.Sale),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	s        *Store
	products map[string]*domain.Product
	sales    map[string]*domain.Sale
	history  []domain.StockHistory
}

func (tx *memTx) product(id string) *domain.Product {
	if p, ok := tx.products[id]; ok {
		return p
	}
	p, ok := tx.s.products[id]
	if !ok {
		return nil
	}
	staged := cloneProduct(p)
	tx.products[id] = &staged
	return &staged
}

func (tx *memTx) sale(id string) *domain.Sale {
	if sale, ok := tx.sales[id]; ok {
		return sale
	}
	sale, ok := tx.s.sales[id]
	if !ok {
		return nil
	}
	staged := cloneSale(sale)
	tx.sales[id] = &staged
	return &staged
}

func (tx *memTx) ReserveAndDecrement(_ context.Context, productID string, quantity int) error {
	p := tx.product(productID)
	left, err := inventory.Reserve(p, productID, quantity)
	if err != nil {
		return err
	}
	p.StockQuantity = left
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) Increment(_ context.Context, productID string, quantity int) error {
	p := tx.product(productID)
	stock, err := inventory.Restore(p, productID, quantity)
	if err != nil {
		return err
	}
	p.StockQuantity = stock
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (tx *memTx) GetProductForUpdate(_ context.Context, id string) (*domain.Product, error) {
	p := tx.product(id)
	if p == nil {
		return nil, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
	}
	clone := cloneProduct(*p)
	return &clone, nil
}

func (tx *memTx) InsertProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" {
		return fmt.Errorf("%w: product id required", domain.ErrInvalidRequest)
	}
	if tx.product(product.ID) != nil {
		return fmt.Errorf("%w: product %s already exists", domain.ErrInvalidRequest, product.ID)
	}
	staged := cloneProduct(product)
	tx.products[product.ID] = &staged
	return nil
}

func (tx *memTx) SaveProduct(_ context.Context, product domain.Product, appended *domain.PriceSnapshot) error {
	p := tx.product(product.ID)
	if p == nil {
		return fmt.Errorf("product %s: %w", product.ID, domain.ErrNotFound)
	}
	p.Name = product.Name
	p.Category = product.Category
	p.Price = product.Price
	p.MarkupPercentage = product.MarkupPercentage
	p.SellingPrice = product.SellingPrice
	p.LowStockThreshold = product.LowStockThreshold
	p.IsActive = product.IsActive
	p.UpdatedAt = product.UpdatedAt
	if appended != nil {
		p.PricingHistory = append(pricing.CloneHistory(p.PricingHistory), *appended)
	}
	return nil
}

func (tx *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, taken := tx.s.saleNumbers[sale.SaleNumber]; taken {
		return store.ErrDuplicateSaleNumber
	}
	for _, staged := range tx.sales {
		if staged.SaleNumber == sale.SaleNumber && staged.ID != sale.ID {
			return store.ErrDuplicateSaleNumber
		}
	}
	if tx.sale(sale.ID) != nil {
		return fmt.Errorf("%w: sale %s already exists", domain.ErrInvalidRequest, sale.ID)
	}
	staged := cloneSale(sale)
	tx.sales[sale.ID] = &staged
	return nil
}

func (tx *memTx) GetSaleForUpdate(_ context.Context, id string) (*domain.Sale, error) {
	sale := tx.sale(id)
	if sale == nil {
		return nil, fmt.Errorf("sale %s: %w", id, domain.ErrNotFound)
	}
	clone := cloneSale(*sale)
	return &clone, nil
}

func (tx *memTx) MarkSaleVoid(_ context.Context, id string, voidedAt time.Time, voidedBy string, reason string) error {
	sale := tx.sale(id)
	if sale == nil {
		return fmt.Errorf("sale %s: %w", id, domain.ErrNotFound)
	}
	if sale.IsVoid {
		return domain.ErrAlreadyVoid
	}
	at := voidedAt.UTC()
	sale.IsVoid = true
	sale.VoidedAt = &at
	sale.VoidedBy = voidedBy
	sale.VoidReason = reason
	return nil
}

func (tx *memTx) InsertStockHistory(_ context.Context, entry domain.StockHistory) error {
	if _, taken := tx.s.deliveryTxIDs[entry.TransactionID]; taken {
		return store.ErrDuplicateDelivery
	}
	for _, staged := range tx.history {
		if staged.TransactionID == entry.TransactionID {
			return store.ErrDuplicateDelivery
		}
	}
	tx.history = append(tx.history, entry)
	return nil
}

func (tx *memTx) commit() {
	for id, p := range tx.products {
		tx.s.products[id] = *p
	}
	for id, sale := range tx.sales {
		tx.s.sales[id] = *sale
		tx.s.saleNumbers[sale.SaleNumber] = id
	}
	for _, entry := range tx.history {
		tx.s.stockHistory = append(tx.s.stockHistory, entry)
		tx.s.deliveryTxIDs[entry.TransactionID] = struct{}{}
	}
}

func cloneProduct(p domain.Product) domain.Product {
	p.PricingHistory = pricing.CloneHistory(p.PricingHistory)
	return p
}

func cloneSale(sale domain.Sale) domain.Sale {
	clone := sale
	clone.Items = append([]domain.SaleItem(nil), sale.Items...)
	if sale.Customer != nil {
		customer := *sale.Customer
		clone.Customer = &customer
	}
	if sale.VoidedAt != nil {
		at := *sale.VoidedAt
		clone.VoidedAt = &at
	}
	return clone
}
