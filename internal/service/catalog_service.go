package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/andresuchdata/shopledger/internal/cache"
	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/importer"
	"github.com/andresuchdata/shopledger/internal/repository"
	"github.com/andresuchdata/shopledger/internal/store"
	"github.com/rs/zerolog/log"
)

var (
	ErrBillNotFound  = errors.New("bill not found")
	ErrInvalidStatus = errors.New("invalid bill status")
)

// ProductItem is a product as listed on the catalog screen.
type ProductItem struct {
	domain.Product
	DisplayName string `json:"displayName"`
}

type CatalogService struct {
	repo      repository.CatalogRepository
	importer  *importer.Importer
	analytics cache.AnalyticsCache
}

func NewCatalogService(repo repository.CatalogRepository, imp *importer.Importer, analytics cache.AnalyticsCache) *CatalogService {
	if analytics == nil {
		analytics = cache.NewNoopAnalyticsCache()
	}
	return &CatalogService{repo: repo, importer: imp, analytics: analytics}
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]ProductItem, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]ProductItem, 0, len(products))
	for _, p := range products {
		items = append(items, ProductItem{Product: p, DisplayName: p.DisplayName()})
	}
	return items, nil
}

// ListBills returns bills newest first, optionally narrowed to one status.
func (s *CatalogService) ListBills(ctx context.Context, status string) ([]domain.Bill, error) {
	var want domain.BillStatus
	if status != "" {
		parsed, ok := domain.ParseBillStatus(status)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
		want = parsed
	}

	bills, err := s.repo.ListBills(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Bill, 0, len(bills))
	for _, b := range bills {
		if want != "" && statusOf(b) != want {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date > out[j].Date
	})
	return out, nil
}

// GetBill returns the bill and the products that reference it.
func (s *CatalogService) GetBill(ctx context.Context, id string) (*domain.BillDetail, error) {
	bill, err := s.findBill(ctx, id)
	if err != nil {
		return nil, err
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	detail := &domain.BillDetail{Bill: *bill, Products: []domain.Product{}}
	for _, p := range products {
		if p.BillRef() == id {
			detail.Products = append(detail.Products, p)
		}
	}
	return detail, nil
}

func (s *CatalogService) UpdateBillStatus(ctx context.Context, id, label string) (*domain.Bill, error) {
	status, ok := domain.ParseBillStatus(label)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, label)
	}

	if err := s.repo.UpdateBill(ctx, id, map[string]any{"status": string(status)}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBillNotFound
		}
		return nil, fmt.Errorf("failed to update bill %s: %w", id, err)
	}
	s.invalidateAnalytics(ctx)

	return s.findBill(ctx, id)
}

// DeleteBill clears the bill's product references and then deletes it. It
// returns how many products were unlinked.
func (s *CatalogService) DeleteBill(ctx context.Context, id string) (int, error) {
	if _, err := s.findBill(ctx, id); err != nil {
		return 0, err
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, p := range products {
		if p.BillRef() != id {
			continue
		}
		if err := s.repo.ClearProductBillID(ctx, p.ID); err != nil {
			return cleared, fmt.Errorf("failed to unlink product %s: %w", p.ID, err)
		}
		cleared++
	}

	if err := s.repo.DeleteBill(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return cleared, fmt.Errorf("failed to delete bill %s: %w", id, err)
	}
	s.invalidateAnalytics(ctx)

	log.Info().Str("bill_id", id).Int("products_unlinked", cleared).Msg("bill deleted")
	return cleared, nil
}

// ImportProducts loads products from a CSV or XLSX stream.
func (s *CatalogService) ImportProducts(ctx context.Context, r io.Reader, format importer.Format, dryRun bool) (*importer.Result, error) {
	if s.importer == nil {
		return nil, errors.New("product import is not configured")
	}
	result, err := s.importer.Import(ctx, r, format, dryRun)
	if result != nil && result.Imported > 0 && !dryRun {
		s.invalidateAnalytics(ctx)
	}
	return result, err
}

func (s *CatalogService) findBill(ctx context.Context, id string) (*domain.Bill, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrBillNotFound
	}
	bills, err := s.repo.ListBills(ctx)
	if err != nil {
		return nil, err
	}
	for i := range bills {
		if bills[i].ID == id {
			return &bills[i], nil
		}
	}
	return nil, ErrBillNotFound
}

func (s *CatalogService) invalidateAnalytics(ctx context.Context) {
	if err := s.analytics.InvalidateAll(ctx); err != nil {
		log.Warn().Err(err).Msg("catalog: cache invalidate analytics failed")
	}
}

// statusOf treats a missing status as active.
func statusOf(b domain.Bill) domain.BillStatus {
	if b.Status == "" {
		return domain.BillStatusActive
	}
	return b.Status
}
