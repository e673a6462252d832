package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/andresuchdata/shopledger/internal/cache"
	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/repository"
	"github.com/andresuchdata/shopledger/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrInvalidFilter = errors.New("invalid analytics filter")

type AnalyticsService struct {
	repo     repository.CatalogRepository
	cache    cache.AnalyticsCache
	debounce time.Duration
}

func NewAnalyticsService(repo repository.CatalogRepository, cacheImpl cache.AnalyticsCache) *AnalyticsService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopAnalyticsCache()
	}
	return &AnalyticsService{repo: repo, cache: cacheImpl, debounce: invalidateDebounce}
}

// VendorSummaries rolls bills up per vendor, largest total first.
func (s *AnalyticsService) VendorSummaries(ctx context.Context, filter domain.AnalyticsFilter) ([]domain.VendorSummary, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}

	if summaries, ok, err := s.cache.GetVendorSummaries(ctx, filter); err == nil && ok {
		return summaries, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("analytics: cache get vendor summaries failed")
	}

	bills, err := s.repo.ListBills(ctx)
	if err != nil {
		return nil, err
	}
	summaries := summarizeVendors(bills, filter)

	if err := s.cache.SetVendorSummaries(ctx, filter, summaries); err != nil {
		log.Warn().Err(err).Msg("analytics: cache set vendor summaries failed")
	}
	return summaries, nil
}

func normalizeFilter(f domain.AnalyticsFilter) (domain.AnalyticsFilter, error) {
	if f.Status != "" {
		status, ok := domain.ParseBillStatus(string(f.Status))
		if !ok {
			return f, fmt.Errorf("%w: unknown status %q", ErrInvalidFilter, f.Status)
		}
		f.Status = status
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return f, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidFilter, d)
		}
	}
	if f.From != "" && f.To != "" && f.From > f.To {
		return f, fmt.Errorf("%w: from is after to", ErrInvalidFilter)
	}
	return f, nil
}

func summarizeVendors(bills []domain.Bill, filter domain.AnalyticsFilter) []domain.VendorSummary {
	type acc struct {
		summary domain.VendorSummary
		amount  decimal.Decimal
		profit  decimal.Decimal
	}
	byVendor := make(map[string]*acc)

	for _, b := range bills {
		status := statusOf(b)
		if filter.Status != "" && status != filter.Status {
			continue
		}
		date := billDay(b.Date)
		if filter.From != "" && date < filter.From {
			continue
		}
		if filter.To != "" && date > filter.To {
			continue
		}

		vendor := strings.TrimSpace(b.Vendor)
		if vendor == "" {
			vendor = domain.UnknownVendor
		}
		a, ok := byVendor[vendor]
		if !ok {
			a = &acc{summary: domain.VendorSummary{Vendor: vendor, ByStatus: map[domain.BillStatus]int{}}}
			byVendor[vendor] = a
		}
		a.summary.BillCount++
		a.summary.ProductCount += b.ProductCount
		a.summary.ByStatus[status]++
		a.amount = a.amount.Add(finiteDecimal(b.TotalAmount))
		a.profit = a.profit.Add(finiteDecimal(b.TotalProfit))
	}

	out := make([]domain.VendorSummary, 0, len(byVendor))
	for _, a := range byVendor {
		a.summary.TotalAmount = a.amount.Round(2).InexactFloat64()
		a.summary.TotalProfit = a.profit.Round(2).InexactFloat64()
		out = append(out, a.summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalAmount != out[j].TotalAmount {
			return out[i].TotalAmount > out[j].TotalAmount
		}
		return out[i].Vendor < out[j].Vendor
	})
	return out
}

// billDay cuts a stored date down to YYYY-MM-DD so RFC 3339 timestamps
// compare with the filter bounds.
// finiteDecimal counts NaN and ±Inf as zero; the validator reports them.
func finiteDecimal(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func billDay(date string) string {
	if len(date) >= len(time.DateOnly) {
		return date[:len(time.DateOnly)]
	}
	return date
}

const invalidateDebounce = 2 * time.Second

// Watch drops cached summaries whenever products or bills change, so writes
// made outside this process are reflected. Bursts of changes are coalesced
// into one invalidation. The returned function stops watching.
func (s *AnalyticsService) Watch(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	changed := make(chan struct{}, 1)
	signal := func(store.Change) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	var stops []func()
	stopAll := func() {
		cancel()
		for _, stop := range stops {
			stop()
		}
	}
	for _, c := range []store.Collection{store.Products, store.Bills} {
		stop, err := s.repo.Subscribe(ctx, c, signal)
		if err != nil {
			stopAll()
			return nil, fmt.Errorf("failed to watch %s: %w", c, err)
		}
		stops = append(stops, stop)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.debounce):
			}
			if err := s.cache.InvalidateAll(ctx); err != nil {
				log.Warn().Err(err).Msg("analytics: cache invalidate on change failed")
			}
		}
	}()

	return stopAll, nil
}
