package migration

import (
	"context"

	"github.com/andresuchdata/shopledger/internal/domain"
)

// Group partitions products by normalized bill number. Products without a
// usable bill number become orphans. Keys keep first-seen order.
func Group(products []domain.Product) *domain.GroupingResult {
	result := &domain.GroupingResult{
		Groups:        make(map[string][]domain.Product),
		Keys:          make([]string, 0),
		Orphans:       make([]domain.Product, 0),
		TotalProducts: len(products),
	}

	for _, p := range products {
		key := domain.NormalizeBillNumber(p.BillNumber)
		if key == "" {
			result.Orphans = append(result.Orphans, p)
			continue
		}
		if _, seen := result.Groups[key]; !seen {
			result.Keys = append(result.Keys, key)
		}
		result.Groups[key] = append(result.Groups[key], p)
	}

	result.GroupCount = len(result.Keys)
	return result
}

// LoadGroups reads the product collection and groups it.
func (e *Engine) LoadGroups(ctx context.Context) (*domain.GroupingResult, error) {
	products, err := e.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return Group(products), nil
}
