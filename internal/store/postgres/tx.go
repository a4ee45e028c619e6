package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/inventory"
	"salesledger/backend/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) lockStock(ctx context.Context, productID string) (*domain.Product, error) {
	p := domain.Product{ID: productID}
	err := t.tx.QueryRowContext(ctx, `SELECT stock_quantity, is_active FROM products WHERE id = $1 FOR UPDATE`, productID).
		Scan(&p.StockQuantity, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (t *pgTx) setStock(ctx context.Context, productID string, stock int) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE products SET stock_quantity = $2, updated_at = now() WHERE id = $1`, productID, stock)
	return mapError(err)
}

func (t *pgTx) ReserveAndDecrement(ctx context.Context, productID string, quantity int) error {
	p, err := t.lockStock(ctx, productID)
	if err != nil {
		return err
	}
	left, err := inventory.Reserve(p, productID, quantity)
	if err != nil {
		return err
	}
	return t.setStock(ctx, productID, left)
}

func (t *pgTx) Increment(ctx context.Context, productID string, quantity int) error {
	p, err := t.lockStock(ctx, productID)
	if err != nil {
		return err
	}
	stock, err := inventory.Restore(p, productID, quantity)
	if err != nil {
		return err
	}
	return t.setStock(ctx, productID, stock)
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, id string) (*domain.Product, error) {
	return loadProduct(ctx, t.tx, id, true)
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (
			id, name, category, price, markup_percentage, selling_price,
			stock_quantity, low_stock_threshold, is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		product.ID, product.Name, product.Category, product.Price, product.MarkupPercentage, product.SellingPrice,
		product.StockQuantity, product.LowStockThreshold, product.IsActive, product.CreatedAt.UTC(), product.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err, "") {
		return fmt.Errorf("%w: product %s already exists", domain.ErrInvalidRequest, product.ID)
	}
	if err != nil {
		return mapError(err)
	}

	for i := range product.PricingHistory {
		if err := t.insertPriceHistory(ctx, product.ID, product.PricingHistory[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) SaveProduct(ctx context.Context, product domain.Product, appended *domain.PriceSnapshot) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, markup_percentage = $5, selling_price = $6,
			low_stock_threshold = $7, is_active = $8, updated_at = $9
		WHERE id = $1
	`,
		product.ID, product.Name, product.Category, product.Price, product.MarkupPercentage, product.SellingPrice,
		product.LowStockThreshold, product.IsActive, product.UpdatedAt.UTC(),
	)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 0 {
		return fmt.Errorf("product %s: %w", product.ID, domain.ErrNotFound)
	}
	if appended == nil {
		return nil
	}
	return t.insertPriceHistory(ctx, product.ID, *appended)
}

func (t *pgTx) insertPriceHistory(ctx context.Context, productID string, entry domain.PriceSnapshot) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO product_price_history (product_id, base_price, markup_percentage, updated_at)
		VALUES ($1, $2, $3, $4)
	`, productID, entry.BasePrice, entry.MarkupPercentage, entry.UpdatedAt.UTC())
	return mapError(err)
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	var name, email, phone string
	if sale.Customer != nil {
		name, email, phone = sale.Customer.Name, sale.Customer.Email, sale.Customer.Phone
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_number, customer_name, customer_email, customer_phone,
			subtotal, discount, tax, total, payment_method, cashier,
			is_void, voided_at, voided_by, void_reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		sale.ID, sale.SaleNumber, nullIfEmpty(name), nullIfEmpty(email), nullIfEmpty(phone),
		sale.Subtotal, sale.Discount, sale.Tax, sale.Total, string(sale.PaymentMethod), sale.Cashier,
		sale.IsVoid, nullTime(sale.VoidedAt), nullIfEmpty(sale.VoidedBy), nullIfEmpty(sale.VoidReason), sale.CreatedAt.UTC(),
	)
	if isUniqueViolation(err, "sales_sale_number_key") {
		return store.ErrDuplicateSaleNumber
	}
	if err != nil {
		return mapError(err)
	}

	for i, item := range sale.Items {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, sale.ID, i+1, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (t *pgTx) GetSaleForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	return loadSale(ctx, t.tx, id, true)
}

func (t *pgTx) MarkSaleVoid(ctx context.Context, id string, voidedAt time.Time, voidedBy string, reason string) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE sales
		SET is_void = true, voided_at = $2, voided_by = $3, void_reason = $4
		WHERE id = $1 AND is_void = false
	`, id, voidedAt.UTC(), voidedBy, reason)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if affected == 1 {
		return nil
	}

	var isVoid bool
	err = t.tx.QueryRowContext(ctx, `SELECT is_void FROM sales WHERE id = $1`, id).Scan(&isVoid)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sale %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return mapError(err)
	}
	return domain.ErrAlreadyVoid
}

func (t *pgTx) InsertStockHistory(ctx context.Context, entry domain.StockHistory) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_history (id, transaction_id, product_id, stock_quantity, date_delivered, total_cost, added_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.TransactionID, entry.ProductID, entry.StockQuantity, entry.DateDelivered.UTC(), entry.TotalCost, entry.AddedBy, entry.CreatedAt.UTC())
	if isUniqueViolation(err, "stock_history_transaction_id_key") {
		return store.ErrDuplicateDelivery
	}
	return mapError(err)
}
