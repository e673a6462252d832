package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/store"
	"github.com/rs/zerolog/log"
)

// estimatedPerItem is the rough cost of one store write, used for previews.
const estimatedPerItem = 50 * time.Millisecond

// PreviewRollback counts what ExecuteRollback would touch. Available is
// false when there are no bills to roll back.
func (e *Engine) PreviewRollback(ctx context.Context) (*domain.RollbackPreview, error) {
	s, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	preview := &domain.RollbackPreview{
		Available:     len(s.bills) > 0,
		BillsToDelete: len(s.bills),
	}
	for _, p := range s.products {
		if p.HasBill() {
			preview.ProductsToUpdate++
		} else {
			preview.ProductsAlreadyOrphaned++
		}
	}
	preview.EstimatedDuration = time.Duration(preview.ProductsToUpdate+preview.BillsToDelete) * estimatedPerItem

	preview.Risks = []string{
		fmt.Sprintf("%d bill(s) will be permanently deleted", preview.BillsToDelete),
		fmt.Sprintf("%d product(s) will lose their bill reference; bill numbers are kept", preview.ProductsToUpdate),
		"The rollback is not atomic: an interrupted run leaves a partial state that a re-run completes",
		"Bill status, vendor and notes edited after migration are lost",
	}
	if preview.ProductsAlreadyOrphaned > 0 {
		preview.Risks = append(preview.Risks,
			fmt.Sprintf("%d product(s) already have no bill reference and are left unchanged", preview.ProductsAlreadyOrphaned))
	}
	return preview, nil
}

// ExecuteRollback clears billId on every linked product (0-50%) and then
// deletes every bill (50-100%). Item failures are counted and skipped;
// deleting a bill that is already gone is treated as done.
func (e *Engine) ExecuteRollback(ctx context.Context, onProgress PercentFunc) (*domain.RollbackResult, error) {
	start := time.Now()

	s, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	result := &domain.RollbackResult{Errors: make([]domain.ItemError, 0)}

	var linked []domain.Product
	for _, p := range s.products {
		if p.HasBill() {
			linked = append(linked, p)
		}
	}

	onProgress.report(0, "Clearing product bill references")
	for i, p := range linked {
		if err := e.repo.ClearProductBillID(ctx, p.ID); err != nil {
			log.Warn().Err(err).Str("product_id", p.ID).Msg("rollback: clearing bill reference failed")
			result.ProductUpdateErrors++
			result.Errors = append(result.Errors, domain.ItemError{ID: p.ID, Error: err.Error()})
		} else {
			result.ProductsUpdated++
		}
		onProgress.report(phasePercent(0, i+1, len(linked)), fmt.Sprintf("Clearing product %d of %d", i+1, len(linked)))
	}
	onProgress.report(50, "Deleting bills")

	for i, b := range s.bills {
		err := e.repo.DeleteBill(ctx, b.ID)
		switch {
		case err == nil:
			result.BillsDeleted++
		case errors.Is(err, store.ErrNotFound):
			log.Debug().Str("bill_id", b.ID).Msg("rollback: bill already deleted")
		default:
			log.Warn().Err(err).Str("bill_id", b.ID).Msg("rollback: bill delete failed")
			result.BillDeleteErrors++
			result.Errors = append(result.Errors, domain.ItemError{ID: b.ID, Error: err.Error()})
		}
		onProgress.report(phasePercent(50, i+1, len(s.bills)), fmt.Sprintf("Deleting bill %d of %d", i+1, len(s.bills)))
	}
	onProgress.report(100, "Rollback finished")

	result.TotalErrors = result.ProductUpdateErrors + result.BillDeleteErrors
	result.Duration = time.Since(start)
	return result, nil
}

// phasePercent maps done/total into the half of the scale starting at base.
func phasePercent(base float64, done, total int) float64 {
	if total == 0 {
		return base + 50
	}
	return base + 50*float64(done)/float64(total)
}
