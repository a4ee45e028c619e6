package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"salesledger/backend/internal/authz"
	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/pricing"
	"salesledger/backend/internal/store"
	"salesledger/backend/internal/xid"
)

const defaultDeliveryListLimit = 100

// ListProducts returns the active catalog. Product managers may include
// inactive products.
func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	actor, err := s.authorize(ctx, authz.OpViewCatalog)
	if err != nil {
		return nil, err
	}
	filter := store.ProductFilter{
		IncludeInactive: includeInactive && authz.Allowed(actor.Role, authz.OpManageProducts),
	}
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := s.authorize(ctx, authz.OpViewCatalog); err != nil {
		return domain.Product{}, err
	}
	p, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := s.authorize(ctx, authz.OpManageProducts)
	if err != nil {
		return domain.Product{}, err
	}

	fields, err := req.WithDefaults()
	if err != nil {
		return domain.Product{}, err
	}

	now := s.now().UTC()
	product := domain.Product{
		ID:                xid.New(""),
		Name:              fields.Name,
		Category:          fields.Category,
		StockQuantity:     fields.StockQuantity,
		LowStockThreshold: fields.LowStockThreshold,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, err := pricing.RecordChange(&product, fields.Price, fields.MarkupPercentage, now); err != nil {
		return domain.Product{}, err
	}

	err = s.runTx(ctx, "create_product", func(ctx context.Context, tx store.Tx) error {
		return tx.InsertProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateReports(ctx)

	s.logger.Info("product created",
		zap.String("product_id", product.ID),
		zap.String("name", product.Name),
		zap.String("price", product.Price.String()),
		zap.Int("stock", product.StockQuantity),
		zap.String("actor", actor.Username),
	)
	return product, nil
}

// UpdateProduct applies a partial update. A price or markup change appends to
// the product's pricing history; resubmitting the current values does not.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := s.authorize(ctx, authz.OpManageProducts)
	if err != nil {
		return domain.Product{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", domain.ErrInvalidRequest)
	}

	var (
		updated  domain.Product
		appended *domain.PriceSnapshot
	)
	err = s.runTx(ctx, "update_product", func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetProductForUpdate(ctx, id)
		if err != nil {
			return err
		}
		p := *current

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return fmt.Errorf("%w: product name cannot be empty", domain.ErrInvalidRequest)
			}
			p.Name = name
		}
		if req.Category != nil {
			p.Category = strings.TrimSpace(*req.Category)
		}
		if req.LowStockThreshold != nil {
			if *req.LowStockThreshold < 0 {
				return fmt.Errorf("%w: low stock threshold must be >= 0", domain.ErrInvalidAmount)
			}
			p.LowStockThreshold = *req.LowStockThreshold
		}
		if req.IsActive != nil {
			p.IsActive = *req.IsActive
		}

		now := s.now().UTC()
		price := pricing.Current(p)
		appended, err = pricing.RecordChange(&p,
			req.Price.Or(price.BasePrice),
			req.MarkupPercentage.Or(price.MarkupPercentage),
			now,
		)
		if err != nil {
			return err
		}
		p.UpdatedAt = now

		if err := tx.SaveProduct(ctx, p, appended); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateReports(ctx)

	fields := []zap.Field{zap.String("product_id", updated.ID), zap.String("actor", actor.Username)}
	if appended != nil {
		fields = append(fields,
			zap.String("base_price", appended.BasePrice.String()),
			zap.String("markup", appended.MarkupPercentage.String()),
		)
		s.logger.Info("product price changed", fields...)
	} else {
		s.logger.Info("product updated", fields...)
	}
	return updated, nil
}

func (s *Service) ListPriceHistory(ctx context.Context, productID string) ([]domain.PriceSnapshot, error) {
	if _, err := s.authorize(ctx, authz.OpViewCatalog); err != nil {
		return nil, err
	}
	return s.repo.ListPriceHistory(ctx, strings.TrimSpace(productID))
}

// RecordDelivery logs received stock and adds it to the product in the same
// transaction.
func (s *Service) RecordDelivery(ctx context.Context, req domain.DeliveryRequest) (domain.StockHistory, error) {
	actor, err := s.authorize(ctx, authz.OpRecordDelivery)
	if err != nil {
		return domain.StockHistory{}, err
	}
	if req.StockQuantity < 1 {
		return domain.StockHistory{}, fmt.Errorf("%w: delivered quantity must be at least 1", domain.ErrInvalidAmount)
	}
	if req.TotalCost.IsNegative() {
		return domain.StockHistory{}, fmt.Errorf("%w: total cost must be >= 0", domain.ErrInvalidAmount)
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return domain.StockHistory{}, fmt.Errorf("%w: product id is required", domain.ErrInvalidRequest)
	}

	now := s.now().UTC()
	entry := domain.StockHistory{
		ID:            xid.New(""),
		TransactionID: strings.TrimSpace(req.TransactionID),
		ProductID:     productID,
		StockQuantity: req.StockQuantity,
		DateDelivered: now,
		TotalCost:     pricing.Normalize(req.TotalCost),
		AddedBy:       actor.Username,
		CreatedAt:     now,
	}
	if entry.TransactionID == "" {
		entry.TransactionID = xid.New("DLV")
	}
	if req.DateDelivered != nil && !req.DateDelivered.IsZero() {
		entry.DateDelivered = req.DateDelivered.UTC()
	}

	err = s.runTx(ctx, "record_delivery", func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetProductForUpdate(ctx, productID); err != nil {
			return err
		}
		if err := tx.Increment(ctx, productID, req.StockQuantity); err != nil {
			return err
		}
		return tx.InsertStockHistory(ctx, entry)
	})
	if errors.Is(err, store.ErrDuplicateDelivery) {
		return domain.StockHistory{}, fmt.Errorf("%w: delivery %s was already recorded", domain.ErrInvalidRequest, entry.TransactionID)
	}
	if err != nil {
		return domain.StockHistory{}, err
	}
	s.invalidateReports(ctx)

	s.logger.Info("delivery recorded",
		zap.String("transaction_id", entry.TransactionID),
		zap.String("product_id", productID),
		zap.Int("quantity", entry.StockQuantity),
		zap.String("actor", actor.Username),
	)
	return entry, nil
}

func (s *Service) ListDeliveries(ctx context.Context, productID string, limit int) ([]domain.StockHistory, error) {
	if _, err := s.authorize(ctx, authz.OpRecordDelivery); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = defaultDeliveryListLimit
	}
	return s.repo.ListStockHistory(ctx, store.StockHistoryFilter{
		ProductID: strings.TrimSpace(productID),
		Limit:     limit,
	})
}
