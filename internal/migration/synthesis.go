package migration

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const billDateLayout = "2006-01-02"

type totals struct {
	amount decimal.Decimal
	profit decimal.Decimal
	count  int
	// nonFinite lists products whose amount, profit or quantity is NaN or
	// infinite; those values count as zero.
	nonFinite []string
}

// toDecimal converts v, mapping NaN and ±Inf to zero with ok=false.
func toDecimal(v float64) (d decimal.Decimal, ok bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(v), true
}

func sumProducts(products []domain.Product) totals {
	t := totals{amount: decimal.Zero, profit: decimal.Zero, count: len(products)}
	for _, p := range products {
		amount, okAmount := toDecimal(p.TotalAmount)
		profit, okProfit := toDecimal(p.ProfitPerPiece)
		qty, okQty := toDecimal(p.Qty())
		if !okAmount || !okProfit || !okQty {
			t.nonFinite = append(t.nonFinite, p.ID)
		}
		t.amount = t.amount.Add(amount)
		t.profit = t.profit.Add(profit.Mul(qty))
	}
	return t
}

// warnNonFinite logs products whose numbers were counted as zero.
func warnNonFinite(products []domain.Product, key string) {
	for _, id := range sumProducts(products).nonFinite {
		log.Warn().Str("group_key", key).Str("product_id", id).Msg("migration: non-finite product number counted as 0")
	}
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// BuildBill derives the aggregate bill for one product group. The vendor and
// date are the first non-empty values in group order.
func BuildBill(products []domain.Product, now time.Time) domain.Bill {
	t := sumProducts(products)

	bill := domain.Bill{
		Status:       domain.BillStatusActive,
		TotalAmount:  money(t.amount),
		TotalProfit:  money(t.profit),
		ProductCount: t.count,
		Source:       domain.BillSourceGrouped,
		Notes:        fmt.Sprintf("Migrated from %d product(s)", t.count),
		CreatedAt:    now.UTC().Format(time.RFC3339),
	}
	for _, p := range products {
		if bill.BillNumber == "" {
			bill.BillNumber = strings.TrimSpace(p.BillNumber)
		}
		if bill.Vendor == "" {
			bill.Vendor = strings.TrimSpace(p.Vendor)
		}
		if bill.Date == "" {
			bill.Date = strings.TrimSpace(p.Date)
		}
	}
	if bill.Date == "" {
		bill.Date = now.Format(billDateLayout)
	}
	return bill
}

// SynthesizeBills creates one bill per group. A failed create is recorded
// and the remaining groups still run; retrying after a partial failure can
// duplicate bills for groups that already succeeded.
func (e *Engine) SynthesizeBills(ctx context.Context, grouping *domain.GroupingResult, progress ProgressFunc) *domain.SynthesisResult {
	result := &domain.SynthesisResult{
		CreatedBills: make(map[string]string, len(grouping.Keys)),
		Errors:       make([]domain.ItemError, 0),
	}

	total := len(grouping.Keys)
	for i, key := range grouping.Keys {
		warnNonFinite(grouping.Groups[key], key)
		bill := BuildBill(grouping.Groups[key], e.now())

		id, err := e.repo.CreateBill(ctx, bill)
		if err != nil {
			log.Warn().Err(err).Str("group_key", key).Msg("migration: bill create failed")
			result.ErrorCount++
			result.Errors = append(result.Errors, domain.ItemError{ID: key, Error: err.Error()})
		} else {
			result.CreatedBills[key] = id
			result.SuccessCount++
		}

		progress.report(i+1, total, fmt.Sprintf("Creating bill %d of %d", i+1, total))
	}

	return result
}
