package migration

import (
	"context"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/rs/zerolog/log"
)

// Remediate applies the deterministic repairs for the fixable issues in
// report against the current state of the store:
//
//   - invalid_bill_id: the dangling reference is cleared (billId = null) on
//     every listed product that still points at the missing bill.
//   - bill_total_mismatch: totalAmount, totalProfit and productCount are
//     recomputed from the bill's current products and written back.
//
// An issue counts as fixed only if at least one write happened; issues whose
// state is already correct are reported as already resolved, so a second
// call with the same report writes nothing. Every other issue type passes
// through to UnfixedIssues unchanged.
func (e *Engine) Remediate(ctx context.Context, report *domain.ValidationReport) (*domain.RemediationResult, error) {
	result := &domain.RemediationResult{
		FixedIssues:     make(domain.Findings, 0),
		UnfixedIssues:   make(domain.Findings, 0),
		AlreadyResolved: make(domain.Findings, 0),
		Errors:          make([]domain.ItemError, 0),
	}
	if report == nil {
		result.Success = true
		return result, nil
	}

	s, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	for _, issue := range report.Issues {
		var writes, failures int
		switch f := issue.(type) {
		case domain.InvalidBillID:
			writes, failures = e.clearDangling(ctx, s, f, result)
		case domain.BillTotalMismatch:
			writes, failures = e.recomputeTotals(ctx, s, f, result)
		default:
			// missing_bill_id, duplicate_bill_numbers and empty_bill need a
			// re-run or a human decision.
			result.UnfixedIssues = append(result.UnfixedIssues, issue)
			continue
		}

		result.Writes += writes
		switch {
		case failures > 0:
			result.UnfixedIssues = append(result.UnfixedIssues, issue)
		case writes > 0:
			result.FixedIssues = append(result.FixedIssues, issue)
		default:
			result.AlreadyResolved = append(result.AlreadyResolved, issue)
		}
	}

	result.Success = len(result.UnfixedIssues) == 0
	return result, nil
}

func (e *Engine) clearDangling(ctx context.Context, s *snapshot, f domain.InvalidBillID, result *domain.RemediationResult) (writes, failures int) {
	for _, ref := range f.References {
		p, ok := s.productByID[ref.ProductID]
		if !ok || p.BillRef() != ref.BillID {
			continue
		}
		if _, exists := s.billByID[ref.BillID]; exists {
			continue
		}
		if err := e.repo.ClearProductBillID(ctx, ref.ProductID); err != nil {
			log.Warn().Err(err).Str("product_id", ref.ProductID).Msg("remediation: clearing dangling bill reference failed")
			result.Errors = append(result.Errors, domain.ItemError{ID: ref.ProductID, Error: err.Error()})
			failures++
			continue
		}
		writes++
	}
	return writes, failures
}

func (e *Engine) recomputeTotals(ctx context.Context, s *snapshot, f domain.BillTotalMismatch, result *domain.RemediationResult) (writes, failures int) {
	for _, m := range f.Mismatches {
		bill, ok := s.billByID[m.BillID]
		if !ok {
			continue
		}
		linked := s.byBill[bill.ID]
		if len(linked) == 0 {
			result.Errors = append(result.Errors, domain.ItemError{ID: bill.ID, Error: "bill has no products; left for review"})
			failures++
			continue
		}
		if _, ok := e.checkTotal(bill, linked); ok {
			continue
		}

		t := sumProducts(linked)
		fields := map[string]any{
			"totalAmount":  money(t.amount),
			"totalProfit":  money(t.profit),
			"productCount": t.count,
		}
		current, finite := toDecimal(bill.TotalAmount)
		if !finite || !e.withinTolerance(t.amount, current) {
			if err := e.repo.UpdateBill(ctx, bill.ID, fields); err != nil {
				log.Warn().Err(err).Str("bill_id", bill.ID).Msg("remediation: bill total update failed")
				result.Errors = append(result.Errors, domain.ItemError{ID: bill.ID, Error: err.Error()})
				failures++
				continue
			}
			writes++
		}
		// Product numbers cannot be repaired automatically.
		for _, id := range t.nonFinite {
			result.Errors = append(result.Errors, domain.ItemError{ID: id, Error: "product has a non-finite amount, profit or quantity"})
			failures++
		}
	}
	return writes, failures
}
