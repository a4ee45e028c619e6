package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/store"
	"salesledger/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, mapError(err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return mapError(err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const productColumns = `id, name, category, price, markup_percentage, selling_price, stock_quantity, low_stock_threshold, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.Name, &p.Category, &p.Price, &p.MarkupPercentage, &p.SellingPrice,
		&p.StockQuantity, &p.LowStockThreshold, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, filter store.ProductFilter) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if !filter.IncludeInactive {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, mapError(err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return loadProduct(ctx, s.db, id, false)
}

func (s *Store) ListPriceHistory(ctx context.Context, productID string) ([]domain.PriceSnapshot, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, mapError(err)
	}
	if !exists {
		return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	return loadPriceHistory(ctx, s.db, productID)
}

func loadProduct(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, mapError(err)
	}

	history, err := loadPriceHistory(ctx, q, id)
	if err != nil {
		return nil, err
	}
	p.PricingHistory = history
	return &p, nil
}

func loadPriceHistory(ctx context.Context, q queryer, productID string) ([]domain.PriceSnapshot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT base_price, markup_percentage, updated_at
		FROM product_price_history
		WHERE product_id = $1
		ORDER BY id
	`, productID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	history := make([]domain.PriceSnapshot, 0, 4)
	for rows.Next() {
		var entry domain.PriceSnapshot
		if err := rows.Scan(&entry.BasePrice, &entry.MarkupPercentage, &entry.UpdatedAt); err != nil {
			return nil, mapError(err)
		}
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return history, nil
}

const saleColumns = `id, sale_number, customer_name, customer_email, customer_phone, subtotal, discount, tax, total,
	payment_method, cashier, is_void, voided_at, voided_by, void_reason, created_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		sale                 domain.Sale
		name, email, phone   sql.NullString
		voidedAt             sql.NullTime
		voidedBy, voidReason sql.NullString
	)
	err := row.Scan(
		&sale.ID, &sale.SaleNumber, &name, &email, &phone,
		&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.Total,
		&sale.PaymentMethod, &sale.Cashier, &sale.IsVoid, &voidedAt, &voidedBy, &voidReason, &sale.CreatedAt,
	)
	if err != nil {
		return domain.Sale{}, err
	}
	customer := &domain.Customer{Name: name.String, Email: email.String, Phone: phone.String}
	if !customer.IsZero() {
		sale.Customer = customer
	}
	if voidedAt.Valid {
		at := voidedAt.Time
		sale.VoidedAt = &at
	}
	sale.VoidedBy = voidedBy.String
	sale.VoidReason = voidReason.String
	return sale, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return loadSale(ctx, s.db, id, false)
}

func loadSale(ctx context.Context, q queryer, id string, forUpdate bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	sale, err := scanSale(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sale %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, mapError(err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price, subtotal
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, id)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, mapError(err)
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return &sale, nil
}

// MaxSaleSequence orders by length first so sequences past six digits still
// sort above shorter ones.
func (s *Store) MaxSaleSequence(ctx context.Context, dayKey string) (int64, error) {
	prefix := xid.SaleNumberPrefix(dayKey)
	var number string
	err := s.db.QueryRowContext(ctx, `
		SELECT sale_number
		FROM sales
		WHERE sale_number LIKE $1
		ORDER BY length(sale_number) DESC, sale_number DESC
		LIMIT 1
	`, prefix+"%").Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, mapError(err)
	}
	seq, ok := xid.SaleSequence(number, dayKey)
	if !ok {
		return 0, fmt.Errorf("malformed sale number %q", number)
	}
	return seq, nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, int, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if !filter.IncludeVoid {
		where = append(where, `is_void = false`)
	}
	if filter.From != nil {
		args = append(args, filter.From.UTC())
		where = append(where, fmt.Sprintf(`created_at >= $%d`, len(args)))
	}
	if filter.To != nil {
		args = append(args, filter.To.UTC())
		where = append(where, fmt.Sprintf(`created_at < $%d`, len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = ` WHERE ` + strings.Join(where, ` AND `)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`+clause, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	query := `SELECT ` + saleColumns + ` FROM sales` + clause + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	sales := make([]domain.Sale, 0, 64)
	index := make(map[string]int)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			rows.Close()
			return nil, 0, mapError(err)
		}
		index[sale.ID] = len(sales)
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, 0, mapError(err)
	}
	rows.Close()

	if len(sales) == 0 {
		return sales, total, nil
	}

	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	itemRows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, product_name, quantity, unit_price, subtotal
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, ids)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			saleID string
			item   domain.SaleItem
		)
		if err := itemRows.Scan(&saleID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, 0, mapError(err)
		}
		if i, ok := index[saleID]; ok {
			sales[i].Items = append(sales[i].Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, 0, mapError(err)
	}
	return sales, total, nil
}

func (s *Store) ListStockHistory(ctx context.Context, filter store.StockHistoryFilter) ([]domain.StockHistory, error) {
	query := `
		SELECT id, transaction_id, product_id, stock_quantity, date_delivered, total_cost, added_by, created_at
		FROM stock_history`
	args := make([]any, 0, 2)
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		query += ` WHERE product_id = $1`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := make([]domain.StockHistory, 0, 32)
	for rows.Next() {
		var entry domain.StockHistory
		if err := rows.Scan(&entry.ID, &entry.TransactionID, &entry.ProductID, &entry.StockQuantity,
			&entry.DateDelivered, &entry.TotalCost, &entry.AddedBy, &entry.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) FindUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", username, domain.ErrNotFound)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &user, nil
}

// WithTx runs fn inside a SERIALIZABLE transaction. Rows touched through tx
// are additionally locked with SELECT ... FOR UPDATE.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return mapError(err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return mapError(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError translates driver failures into the domain's transient errors and
// leaves everything else untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %w", domain.ErrConflict, err)
		case "57P01", "57P02", "57P03", "53300":
			return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC()
}
