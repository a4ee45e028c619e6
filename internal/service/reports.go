package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"salesledger/backend/internal/authz"
	"salesledger/backend/internal/domain"
	"salesledger/backend/internal/report"
	"salesledger/backend/internal/store"
)

// reportBuildTimeout bounds a shared report build once it no longer follows
// the cancellation of the request that started it.
const reportBuildTimeout = 30 * time.Second

func (s *Service) SalesReport(ctx context.Context, startDate, endDate string) (domain.SalesReport, error) {
	if _, err := s.authorize(ctx, authz.OpViewReports); err != nil {
		return domain.SalesReport{}, err
	}
	window, err := report.ParseWindow(startDate, endDate, s.loc)
	if err != nil {
		return domain.SalesReport{}, err
	}

	params := window.Start + ":" + window.End
	return cachedReport(ctx, s, "sales", params, func(ctx context.Context) (domain.SalesReport, error) {
		sales, products, err := s.loadReportInputs(ctx, &window, true)
		if err != nil {
			return domain.SalesReport{}, err
		}
		byID := make(map[string]domain.Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}
		return report.Sales(window, sales, byID, s.loc), nil
	})
}

func (s *Service) InventoryReport(ctx context.Context) (domain.InventoryReport, error) {
	if _, err := s.authorize(ctx, authz.OpViewReports); err != nil {
		return domain.InventoryReport{}, err
	}
	return cachedReport(ctx, s, "inventory", "all", func(ctx context.Context) (domain.InventoryReport, error) {
		products, err := s.repo.ListProducts(ctx, store.ProductFilter{})
		if err != nil {
			return domain.InventoryReport{}, err
		}
		return report.Inventory(products), nil
	})
}

// TopProducts ranks products over the optional date range; without dates it
// covers every sale.
func (s *Service) TopProducts(ctx context.Context, startDate, endDate string, limit int) (domain.TopProductsReport, error) {
	if _, err := s.authorize(ctx, authz.OpViewReports); err != nil {
		return domain.TopProductsReport{}, err
	}
	window, err := report.ParseOptionalWindow(startDate, endDate, s.loc)
	if err != nil {
		return domain.TopProductsReport{}, err
	}
	limit = report.NormalizeLimit(limit)

	out := domain.TopProductsReport{Limit: limit}
	params := fmt.Sprintf("all:%d", limit)
	if window != nil {
		out.StartDate, out.EndDate = window.Start, window.End
		params = fmt.Sprintf("%s:%s:%d", window.Start, window.End, limit)
	}
	return cachedReport(ctx, s, "top-products", params, func(ctx context.Context) (domain.TopProductsReport, error) {
		sales, _, err := s.loadReportInputs(ctx, window, false)
		if err != nil {
			return domain.TopProductsReport{}, err
		}
		out.Products = report.TopProducts(window, sales, limit)
		return out, nil
	})
}

func (s *Service) RevenueTrends(ctx context.Context, startDate, endDate string, groupBy domain.TrendGranularity) (domain.RevenueTrends, error) {
	if _, err := s.authorize(ctx, authz.OpViewReports); err != nil {
		return domain.RevenueTrends{}, err
	}
	if groupBy == "" {
		groupBy = domain.GroupByDay
	}
	if !groupBy.Valid() {
		return domain.RevenueTrends{}, fmt.Errorf("%w: groupBy must be day, week or month", domain.ErrInvalidRequest)
	}
	window, err := report.ParseWindow(startDate, endDate, s.loc)
	if err != nil {
		return domain.RevenueTrends{}, err
	}

	params := fmt.Sprintf("%s:%s:%s", window.Start, window.End, groupBy)
	return cachedReport(ctx, s, "revenue-trends", params, func(ctx context.Context) (domain.RevenueTrends, error) {
		sales, _, err := s.loadReportInputs(ctx, &window, false)
		if err != nil {
			return domain.RevenueTrends{}, err
		}
		buckets, err := report.Trends(window, sales, groupBy, s.loc)
		if err != nil {
			return domain.RevenueTrends{}, err
		}
		return domain.RevenueTrends{
			StartDate: window.Start,
			EndDate:   window.End,
			GroupBy:   groupBy,
			Timezone:  s.loc.String(),
			Buckets:   buckets,
		}, nil
	})
}

// loadReportInputs fetches the window's committed sales and, when asked, the
// full catalog including inactive products, concurrently.
func (s *Service) loadReportInputs(ctx context.Context, window *report.Window, withProducts bool) ([]domain.Sale, []domain.Product, error) {
	var (
		sales    []domain.Sale
		products []domain.Product
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		from, to := window.Bounds()
		var err error
		sales, _, err = s.repo.ListSales(gctx, store.SaleFilter{From: from, To: to})
		return err
	})
	if withProducts {
		g.Go(func() error {
			var err error
			products, err = s.repo.ListProducts(gctx, store.ProductFilter{IncludeInactive: true})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sales, products, nil
}

// cachedReport serves a report from the cache under the current write
// generation, collapsing concurrent misses for the same key into one build.
// Cache failures only cost a rebuild.
func cachedReport[T any](ctx context.Context, s *Service, name, params string, build func(context.Context) (T, error)) (T, error) {
	var zero T

	useCache := s.reportTTL > 0
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		s.logger.Warn("report cache generation", zap.String("report", name), zap.Error(err))
		useCache = false
	}
	key := fmt.Sprintf("%s:g%d:%s", name, gen, params)

	if useCache {
		var cached T
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("report cache read", zap.String("key", key), zap.Error(err))
		}
		s.metrics.ReportCache(name, hit)
		if hit {
			return cached, nil
		}
	}

	// The shared build is detached from any one caller; each caller stops
	// waiting on its own ctx.
	result := s.reports.DoChan(key, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportBuildTimeout)
		defer cancel()

		out, err := build(buildCtx)
		if err != nil {
			return nil, err
		}
		if useCache {
			if err := s.cache.Set(buildCtx, key, out, s.reportTTL); err != nil {
				s.logger.Warn("report cache write", zap.String("key", key), zap.Error(err))
			}
		}
		return out, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
