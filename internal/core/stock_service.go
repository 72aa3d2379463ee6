package core

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// ProductCache caches product listing pages per tenant branch. Get reports a
// miss as a nil page and returns the branch generation it looked at. Set must
// pass that generation back so a page read before an Invalidate stays unreachable.
type ProductCache interface {
	Get(ctx context.Context, filter ProductFilter) (page *ProductPage, generation int64, err error)
	Set(ctx context.Context, filter ProductFilter, generation int64, page *ProductPage) error
	Invalidate(ctx context.Context, tenantID, branchID string) error
}

// ProductSearcher answers free-text product queries with ordered product ids.
type ProductSearcher interface {
	Search(ctx context.Context, filter ProductFilter) (ids []string, total int, err error)
}

// StockService answers product and movement queries.
type StockService interface {
	ListProducts(ctx context.Context, filter ProductFilter) (*ProductPage, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error)
	NegativeStock(ctx context.Context, limit int) ([]Product, error)
}

type stockService struct {
	store    Store
	cache    ProductCache
	searcher ProductSearcher
	logger   *zap.Logger
}

// NewStockService builds a StockService. cache and searcher are optional.
func NewStockService(store Store, cache ProductCache, searcher ProductSearcher, logger *zap.Logger) StockService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &stockService{store: store, cache: cache, searcher: searcher, logger: logger}
}

func (s *stockService) ListProducts(ctx context.Context, filter ProductFilter) (*ProductPage, error) {
	if filter.TenantID == "" || filter.BranchID == "" {
		return nil, unauthorized("unauthorized")
	}
	filter.Search = strings.TrimSpace(filter.Search)
	filter.StoreID = strings.TrimSpace(filter.StoreID)
	filter.Page, filter.PageSize = NormalizePage(filter.Page, filter.PageSize)

	cacheable := false
	var generation int64
	if s.cache != nil {
		page, gen, err := s.cache.Get(ctx, filter)
		if err != nil {
			s.logger.Warn("product cache read failed", zap.Error(err))
		} else if page != nil {
			return page, nil
		} else {
			cacheable, generation = true, gen
		}
	}

	var page *ProductPage
	if filter.Search != "" && s.searcher != nil {
		p, err := s.searchProducts(ctx, filter)
		if err != nil {
			s.logger.Warn("product search failed, falling back to store", zap.String("query", filter.Search), zap.Error(err))
		} else {
			page = p
		}
	}
	if page == nil {
		products, total, err := s.store.ListProducts(ctx, filter)
		if err != nil {
			return nil, persistence("failed to list products", err)
		}
		page = &ProductPage{Products: products, Total: total}
	}

	if cacheable {
		if err := s.cache.Set(ctx, filter, generation, page); err != nil {
			s.logger.Warn("product cache write failed", zap.Error(err))
		}
	}
	return page, nil
}

func (s *stockService) searchProducts(ctx context.Context, filter ProductFilter) (*ProductPage, error) {
	ids, total, err := s.searcher.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &ProductPage{Products: []Product{}, Total: total}, nil
	}
	products, err := s.store.GetProductsByIDs(ctx, filter.TenantID, filter.BranchID, ids)
	if err != nil {
		return nil, err
	}

	// Keep the relevance order of the search hits. The index lags the store, so
	// hits that are gone or no longer match are dropped from the page and the total.
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	ordered := make([]Product, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok || (filter.NegativeOnly && p.Quantity >= 0) {
			total--
			continue
		}
		ordered = append(ordered, p)
	}
	return &ProductPage{Products: ordered, Total: max(total, len(ordered))}, nil
}

func (s *stockService) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error) {
	if filter.TenantID == "" || filter.BranchID == "" {
		return nil, 0, unauthorized("unauthorized")
	}
	filter.Page, filter.PageSize = NormalizePage(filter.Page, filter.PageSize)
	movements, total, err := s.store.ListMovements(ctx, filter)
	if err != nil {
		return nil, 0, persistence("failed to list stock movements", err)
	}
	return movements, total, nil
}

func (s *stockService) NegativeStock(ctx context.Context, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = maxPageSize
	}
	products, err := s.store.ListNegativeStock(ctx, limit)
	if err != nil {
		return nil, persistence("failed to list negative stock", err)
	}
	return products, nil
}
