package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"salesledger/backend/internal/authz"
	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/inventory"
	"salesledger/backend/internal/pricing"
	"salesledger/backend/internal/report"
	"salesledger/backend/internal/store"
	"salesledger/backend/internal/xid"
)

const (
	maxSaleNumberAttempts = 5
	defaultSaleListLimit  = 50
	maxSaleListLimit      = 200
	defaultVoidReason     = "unspecified"
)

type ListSalesQuery struct {
	StartDate   string
	EndDate     string
	IncludeVoid bool
	Limit       int
	Offset      int
}

// CreateSale prices the requested lines at the current selling price,
// decrements stock and records the sale, all in one transaction.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	actor, err := s.authorize(ctx, authz.OpCreateSale)
	if err != nil {
		return domain.Sale{}, err
	}

	lines, err := saleLines(req.Items)
	if err != nil {
		return domain.Sale{}, err
	}
	if !req.PaymentMethod.Valid() {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %q", domain.ErrInvalidRequest, req.PaymentMethod)
	}
	discount := pricing.Normalize(req.Discount)
	tax := pricing.Normalize(req.Tax)
	if discount.IsNegative() || tax.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: discount and tax must be >= 0", domain.ErrInvalidAmount)
	}
	var customer *domain.Customer
	if !req.Customer.IsZero() {
		c := *req.Customer
		customer = &c
	}

	now := s.now().UTC()
	draft := domain.Sale{
		ID:            xid.New(""),
		Customer:      customer,
		Discount:      discount,
		Tax:           tax,
		PaymentMethod: req.PaymentMethod,
		Cashier:       actor.Username,
		CreatedAt:     now,
	}

	var sale domain.Sale
	for attempt := 1; ; attempt++ {
		draft.SaleNumber, err = s.nextSaleNumber(ctx, now)
		if err != nil {
			return domain.Sale{}, err
		}

		sale, err = s.commitSale(ctx, draft, lines)
		if !errors.Is(err, store.ErrDuplicateSaleNumber) {
			break
		}
		if attempt == maxSaleNumberAttempts {
			return domain.Sale{}, fmt.Errorf("%w: could not allocate a unique sale number", domain.ErrConflict)
		}
		s.logger.Warn("sale number taken, regenerating", zap.String("sale_number", draft.SaleNumber))
		s.reseedSequence(ctx, now)
	}
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateReports(ctx)
	s.metrics.SaleCreated(string(sale.PaymentMethod))
	s.logger.Info("sale created",
		zap.String("sale_id", sale.ID),
		zap.String("sale_number", sale.SaleNumber),
		zap.String("total", sale.Total.String()),
		zap.String("payment_method", string(sale.PaymentMethod)),
		zap.Int("lines", len(sale.Items)),
		zap.String("cashier", actor.Username),
	)
	return sale, nil
}

func (s *Service) commitSale(ctx context.Context, draft domain.Sale, lines []inventory.Line) (domain.Sale, error) {
	var sale domain.Sale
	err := s.runTx(ctx, "create_sale", func(ctx context.Context, tx store.Tx) error {
		sale = draft
		sale.Items = make([]domain.SaleItem, 0, len(lines))
		subtotal := decimal.Zero

		// Rows are locked in product id order; items keep the request order.
		demand := inventory.Demand(lines)
		locked := make(map[string]*domain.Product, len(demand))
		for _, line := range demand {
			p, err := tx.GetProductForUpdate(ctx, line.ProductID)
			if err != nil {
				return err
			}
			if _, err := inventory.Reserve(p, line.ProductID, line.Quantity); err != nil {
				return err
			}
			locked[line.ProductID] = p
		}

		for _, line := range lines {
			p := locked[line.ProductID]
			unit := pricing.Current(*p).SellingPrice
			item := domain.SaleItem{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    line.Quantity,
				UnitPrice:   unit,
				Subtotal:    unit.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2),
			}
			sale.Items = append(sale.Items, item)
			subtotal = subtotal.Add(item.Subtotal)
		}

		sale.Subtotal = subtotal
		sale.Total = subtotal.Sub(sale.Discount).Add(sale.Tax)
		if sale.Total.IsNegative() {
			return fmt.Errorf("%w: discount %s exceeds subtotal plus tax", domain.ErrInvalidAmount, sale.Discount)
		}

		for _, line := range demand {
			if err := tx.ReserveAndDecrement(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		return tx.InsertSale(ctx, sale)
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

// VoidSale reverses a sale once. The supervisor code must match before any
// stock moves.
func (s *Service) VoidSale(ctx context.Context, saleID string, req domain.VoidSaleRequest) (domain.Sale, error) {
	actor, err := s.authorize(ctx, authz.OpVoidSale)
	if err != nil {
		return domain.Sale{}, err
	}
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, fmt.Errorf("%w: sale id is required", domain.ErrInvalidRequest)
	}
	code := strings.TrimSpace(req.SupervisorCode)
	if code == "" {
		return domain.Sale{}, fmt.Errorf("%w: supervisor code is required", domain.ErrUnauthorized)
	}
	if s.supervisor == nil || !s.supervisor.VerifySupervisorCode(code) {
		s.logger.Warn("void rejected: bad supervisor code",
			zap.String("sale_id", saleID),
			zap.String("actor", actor.Username),
		)
		return domain.Sale{}, fmt.Errorf("%w: invalid supervisor code", domain.ErrUnauthorized)
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultVoidReason
	}

	var voided domain.Sale
	err = s.runTx(ctx, "void_sale", func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.IsVoid {
			return fmt.Errorf("sale %s: %w", sale.SaleNumber, domain.ErrAlreadyVoid)
		}
		for _, line := range inventory.DemandForSale(sale.Items) {
			if err := tx.Increment(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		at := s.now().UTC()
		if err := tx.MarkSaleVoid(ctx, sale.ID, at, actor.Username, reason); err != nil {
			return err
		}
		voided = *sale
		voided.IsVoid = true
		voided.VoidedAt = &at
		voided.VoidedBy = actor.Username
		voided.VoidReason = reason
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateReports(ctx)
	s.metrics.SaleVoided()
	s.logger.Info("sale voided",
		zap.String("sale_id", voided.ID),
		zap.String("sale_number", voided.SaleNumber),
		zap.String("reason", reason),
		zap.String("actor", actor.Username),
	)
	return voided, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	if _, err := s.authorize(ctx, authz.OpGetSale); err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.FindSaleByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, q ListSalesQuery) (domain.SaleListResponse, error) {
	if _, err := s.authorize(ctx, authz.OpListSales); err != nil {
		return domain.SaleListResponse{}, err
	}
	window, err := report.ParseOptionalWindow(q.StartDate, q.EndDate, s.loc)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	if q.Offset < 0 {
		return domain.SaleListResponse{}, fmt.Errorf("%w: offset must be >= 0", domain.ErrInvalidRequest)
	}
	limit := q.Limit
	switch {
	case limit < 1:
		limit = defaultSaleListLimit
	case limit > maxSaleListLimit:
		limit = maxSaleListLimit
	}

	from, to := window.Bounds()
	sales, total, err := s.repo.ListSales(ctx, store.SaleFilter{
		From:        from,
		To:          to,
		IncludeVoid: q.IncludeVoid,
		Limit:       limit,
		Offset:      q.Offset,
	})
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return domain.SaleListResponse{Sales: sales, Total: total, Limit: limit, Offset: q.Offset}, nil
}

func saleLines(items []domain.SaleItemRequest) ([]inventory.Line, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: a sale needs at least one item", domain.ErrInvalidRequest)
	}
	lines := make([]inventory.Line, 0, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: product id is required", domain.ErrInvalidRequest)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for %s must be at least 1", domain.ErrInvalidAmount, id)
		}
		lines = append(lines, inventory.Line{ProductID: id, Quantity: item.Quantity})
	}
	return inventory.Merge(lines), nil
}

func (s *Service) nextSaleNumber(ctx context.Context, at time.Time) (string, error) {
	day := at.In(s.loc)
	key := xid.DayKey(day)
	seq, err := s.sequence.Next(ctx, key)
	if err != nil {
		s.logger.Warn("sale sequence unavailable, using local counter", zap.Error(err))
		if seq, err = s.fallbackSeq.Next(ctx, key); err != nil {
			return "", fmt.Errorf("%w: sale number sequence: %v", domain.ErrUnavailable, err)
		}
	}
	return xid.SaleNumber(day, seq), nil
}

type sequenceSeeder interface {
	Seed(ctx context.Context, day string, floor int64) error
}

// reseedSequence moves the counters past the highest sale number already
// stored for the day. Failed sales burn numbers, so the day's sale count can
// sit below numbers that are taken.
func (s *Service) reseedSequence(ctx context.Context, at time.Time) {
	key := xid.DayKey(at.In(s.loc))
	highest, err := s.repo.MaxSaleSequence(ctx, key)
	if err != nil {
		s.logger.Warn("reseed sale sequence", zap.Error(err))
		return
	}
	if seeder, ok := s.sequence.(sequenceSeeder); ok {
		if err := seeder.Seed(ctx, key, highest); err != nil {
			s.logger.Warn("reseed shared sale sequence", zap.Error(err))
		}
	}
	_ = s.fallbackSeq.Seed(ctx, key, highest)
}
