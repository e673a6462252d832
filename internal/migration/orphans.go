package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/rs/zerolog/log"
)

// OrphanBillPrefix prefixes the bill number of placeholder bills.
const OrphanBillPrefix = "ORPHAN-"

// BuildOrphanBill derives the placeholder bill for a product with no bill
// number. The product id keeps placeholder bill numbers unique.
func BuildOrphanBill(p domain.Product, now time.Time) domain.Bill {
	bill := BuildBill([]domain.Product{p}, now)
	bill.BillNumber = OrphanBillPrefix + p.ID
	bill.Source = domain.BillSourceOrphan
	bill.Notes = fmt.Sprintf("Placeholder bill for %q, which had no bill number", p.DisplayName())
	if strings.TrimSpace(bill.Vendor) == "" {
		bill.Vendor = domain.UnknownVendor
	}
	return bill
}

// HandleOrphans creates one placeholder bill per orphaned product and links
// the product to it.
func (e *Engine) HandleOrphans(ctx context.Context, orphans []domain.Product, progress ProgressFunc) *domain.OrphanResult {
	result := &domain.OrphanResult{UpdateResults: make([]domain.OrphanUpdate, 0, len(orphans))}

	total := len(orphans)
	for i, p := range orphans {
		update := domain.OrphanUpdate{ProductID: p.ID}

		warnNonFinite([]domain.Product{p}, OrphanBillPrefix+p.ID)
		billID, err := e.repo.CreateBill(ctx, BuildOrphanBill(p, e.now()))
		if err != nil {
			log.Warn().Err(err).Str("product_id", p.ID).Msg("migration: placeholder bill create failed")
			update.Error = err.Error()
		} else {
			result.BillsCreated++
			update.BillID = billID
			if err := e.repo.SetProductBillID(ctx, p.ID, billID); err != nil {
				log.Warn().Err(err).Str("product_id", p.ID).Str("bill_id", billID).Msg("migration: orphan reference update failed")
				update.Error = err.Error()
			}
		}

		if update.Error != "" {
			result.ErrorCount++
		} else {
			result.SuccessCount++
		}
		result.UpdateResults = append(result.UpdateResults, update)

		progress.report(i+1, total, fmt.Sprintf("Handling orphaned product %d of %d", i+1, total))
	}

	return result
}
