package migration

import (
	"context"
	"fmt"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/rs/zerolog/log"
)

// RewriteReferences points every product of a successfully created group at
// its new bill. Products of failed groups are left untouched.
func (e *Engine) RewriteReferences(ctx context.Context, grouping *domain.GroupingResult, synthesis *domain.SynthesisResult, progress ProgressFunc) *domain.RewriteResult {
	result := &domain.RewriteResult{Errors: make([]domain.ItemError, 0)}

	total := 0
	for _, key := range grouping.Keys {
		if _, ok := synthesis.CreatedBills[key]; ok {
			total += len(grouping.Groups[key])
		}
	}

	done := 0
	for _, key := range grouping.Keys {
		billID, ok := synthesis.CreatedBills[key]
		if !ok {
			continue
		}
		for _, p := range grouping.Groups[key] {
			if err := e.repo.SetProductBillID(ctx, p.ID, billID); err != nil {
				log.Warn().Err(err).Str("product_id", p.ID).Str("bill_id", billID).Msg("migration: product reference update failed")
				result.ErrorCount++
				result.Errors = append(result.Errors, domain.ItemError{ID: p.ID, Error: err.Error()})
			} else {
				result.SuccessCount++
			}
			done++
			progress.report(done, total, fmt.Sprintf("Linking product %d of %d", done, total))
		}
	}

	return result
}
