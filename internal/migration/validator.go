package migration

import (
	"context"
	"strings"

	"github.com/andresuchdata/shopledger/internal/domain"
)

// snapshot is one fresh read of both collections.
type snapshot struct {
	products    []domain.Product
	bills       []domain.Bill
	billByID    map[string]domain.Bill
	byBill      map[string][]domain.Product
	productByID map[string]domain.Product
}

func (e *Engine) load(ctx context.Context) (*snapshot, error) {
	products, err := e.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	bills, err := e.repo.ListBills(ctx)
	if err != nil {
		return nil, err
	}

	s := &snapshot{
		products:    products,
		bills:       bills,
		billByID:    make(map[string]domain.Bill, len(bills)),
		byBill:      make(map[string][]domain.Product),
		productByID: make(map[string]domain.Product, len(products)),
	}
	for _, b := range bills {
		s.billByID[b.ID] = b
	}
	for _, p := range products {
		s.productByID[p.ID] = p
		if p.HasBill() {
			s.byBill[p.BillRef()] = append(s.byBill[p.BillRef()], p)
		}
	}
	return s, nil
}

// Validate re-reads both collections and checks, in order: missing bill
// references, dangling bill references, bill totals and duplicate bill
// numbers. It never writes.
func (e *Engine) Validate(ctx context.Context) (*domain.ValidationReport, error) {
	s, err := e.load(ctx)
	if err != nil {
		return nil, err
	}

	report := &domain.ValidationReport{
		Issues:    make(domain.Findings, 0),
		Warnings:  make(domain.Findings, 0),
		CheckedAt: e.now().UTC(),
		Summary: domain.ValidationSummary{
			TotalProducts: len(s.products),
			TotalBills:    len(s.bills),
		},
	}

	var missing []string
	var dangling []domain.DanglingReference
	for _, p := range s.products {
		if !p.HasBill() {
			missing = append(missing, p.ID)
			continue
		}
		report.Summary.ProductsWithBillID++
		if _, ok := s.billByID[p.BillRef()]; !ok {
			dangling = append(dangling, domain.DanglingReference{ProductID: p.ID, BillID: p.BillRef()})
		}
	}
	report.Summary.ProductsWithoutBillID = len(missing)

	if len(missing) > 0 {
		report.Issues = append(report.Issues, domain.MissingBillID{ProductIDs: missing})
	}
	if len(dangling) > 0 {
		report.Issues = append(report.Issues, domain.InvalidBillID{References: dangling})
	}

	var mismatches []domain.TotalMismatch
	var empty []string
	for _, b := range s.bills {
		linked := s.byBill[b.ID]
		// Empty bills are a warning left for review, not a total to fix.
		if len(linked) == 0 {
			empty = append(empty, b.ID)
			continue
		}
		if m, ok := e.checkTotal(b, linked); !ok {
			mismatches = append(mismatches, m)
		}
	}
	if len(mismatches) > 0 {
		report.Issues = append(report.Issues, domain.BillTotalMismatch{Mismatches: mismatches})
	}

	if dups := duplicateBillNumbers(s.bills); len(dups) > 0 {
		report.Warnings = append(report.Warnings, domain.DuplicateBillNumbers{Duplicates: dups})
	}
	if len(empty) > 0 {
		report.Warnings = append(report.Warnings, domain.EmptyBill{BillIDs: empty})
	}

	report.IsValid = len(report.Issues) == 0
	return report, nil
}

func duplicateBillNumbers(bills []domain.Bill) []domain.DuplicateGroup {
	byNumber := make(map[string][]string)
	var order []string
	for _, b := range bills {
		key := domain.NormalizeBillNumber(b.BillNumber)
		if key == "" {
			continue
		}
		if _, seen := byNumber[key]; !seen {
			order = append(order, key)
		}
		byNumber[key] = append(byNumber[key], b.ID)
	}

	var dups []domain.DuplicateGroup
	for _, key := range order {
		if ids := byNumber[key]; len(ids) > 1 {
			dups = append(dups, domain.DuplicateGroup{BillNumber: key, BillIDs: ids})
		}
	}
	return dups
}

// checkTotal compares a bill's stored total with the sum of its products.
// Non-finite numbers on either side always count as a mismatch.
func (e *Engine) checkTotal(b domain.Bill, linked []domain.Product) (domain.TotalMismatch, bool) {
	t := sumProducts(linked)
	actual, finite := toDecimal(b.TotalAmount)
	m := domain.TotalMismatch{
		BillID:     b.ID,
		BillNumber: b.BillNumber,
		Field:      "totalAmount",
		Expected:   money(t.amount),
		Actual:     money(actual),
	}
	switch {
	case !finite:
		m.Note = "stored total is not a finite number"
	case len(t.nonFinite) > 0:
		m.Note = "non-finite amounts on products " + strings.Join(t.nonFinite, ", ")
	case e.withinTolerance(t.amount, actual):
		return domain.TotalMismatch{}, true
	default:
		m.Actual = b.TotalAmount
	}
	return m, false
}
