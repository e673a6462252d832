// Package importer loads product rows from CSV and XLSX files into the
// products collection.
package importer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Row is one product line read from a file. Line is 1-based and counts the
// header.
type Row struct {
	Line           int     `validate:"-"`
	ProductName    string  `validate:"max=200"`
	Category       string  `validate:"max=100"`
	Vendor         string  `validate:"max=200"`
	BillNumber     string  `validate:"max=100"`
	TotalQuantity  float64 `validate:"gte=0"`
	Quantity       float64 `validate:"gte=0"`
	PricePerPiece  float64 `validate:"gte=0"`
	MRP            float64 `validate:"gte=0"`
	ProfitPerPiece float64
	TotalAmount    float64 `validate:"gte=0"`
	Date           string  `validate:"omitempty,datetime=2006-01-02"`
}

// RowError reports why one line was not imported.
type RowError struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

type column int

const (
	colProductName column = iota
	colCategory
	colVendor
	colBillNumber
	colTotalQuantity
	colQuantity
	colPricePerPiece
	colMRP
	colProfitPerPiece
	colTotalAmount
	colDate
)

var headerAliases = map[string]column{
	"productname":    colProductName,
	"product":        colProductName,
	"name":           colProductName,
	"category":       colCategory,
	"vendor":         colVendor,
	"supplier":       colVendor,
	"billnumber":     colBillNumber,
	"billno":         colBillNumber,
	"invoice":        colBillNumber,
	"invoicenumber":  colBillNumber,
	"totalquantity":  colTotalQuantity,
	"qty":            colTotalQuantity,
	"quantity":       colQuantity,
	"priceperpiece":  colPricePerPiece,
	"price":          colPricePerPiece,
	"mrp":            colMRP,
	"profitperpiece": colProfitPerPiece,
	"profit":         colProfitPerPiece,
	"totalamount":    colTotalAmount,
	"amount":         colTotalAmount,
	"total":          colTotalAmount,
	"date":           colDate,
}

// ErrNoHeader is returned for files without a recognisable header row.
var ErrNoHeader = errors.New("header row has no known product columns")

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(h)
}

// headerIndex maps each known column to its position in the header.
func headerIndex(header []string) (map[column]int, error) {
	idx := make(map[column]int)
	for i, h := range header {
		col, ok := headerAliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		if _, dup := idx[col]; !dup {
			idx[col] = i
		}
	}
	if len(idx) == 0 {
		return nil, ErrNoHeader
	}
	return idx, nil
}

// parseRow converts raw cells into a Row. Blank lines return ok=false.
func parseRow(line int, cells []string, idx map[column]int) (Row, bool, error) {
	get := func(c column) string {
		i, ok := idx[c]
		if !ok || i >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[i])
	}

	blank := true
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			blank = false
			break
		}
	}
	if blank {
		return Row{}, false, nil
	}

	row := Row{
		Line:        line,
		ProductName: get(colProductName),
		Category:    get(colCategory),
		Vendor:      get(colVendor),
		BillNumber:  get(colBillNumber),
		Date:        get(colDate),
	}

	numbers := []struct {
		col  column
		name string
		dst  *float64
	}{
		{colTotalQuantity, "totalQuantity", &row.TotalQuantity},
		{colQuantity, "quantity", &row.Quantity},
		{colPricePerPiece, "pricePerPiece", &row.PricePerPiece},
		{colMRP, "mrp", &row.MRP},
		{colProfitPerPiece, "profitPerPiece", &row.ProfitPerPiece},
		{colTotalAmount, "totalAmount", &row.TotalAmount},
	}
	for _, n := range numbers {
		v, err := parseNumber(get(n.col))
		if err != nil {
			return Row{}, true, fmt.Errorf("%s: %w", n.name, err)
		}
		*n.dst = v
	}

	if get(colTotalAmount) == "" && row.PricePerPiece > 0 {
		qty := row.TotalQuantity
		if qty == 0 {
			qty = row.Quantity
		}
		row.TotalAmount = decimal.NewFromFloat(row.PricePerPiece).
			Mul(decimal.NewFromFloat(qty)).
			Round(2).
			InexactFloat64()
	}
	return row, true, nil
}

// parseNumber accepts thousands separators and a leading currency symbol.
func parseNumber(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	raw = strings.TrimLeft(raw, "$€£₹ ")
	raw = strings.ReplaceAll(raw, ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	return v, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// Product converts a validated row into the domain type.
func (r Row) Product() domain.Product {
	return domain.Product{
		ProductName:    r.ProductName,
		Category:       r.Category,
		Vendor:         r.Vendor,
		BillNumber:     r.BillNumber,
		TotalQuantity:  r.TotalQuantity,
		Quantity:       r.Quantity,
		PricePerPiece:  r.PricePerPiece,
		MRP:            r.MRP,
		ProfitPerPiece: r.ProfitPerPiece,
		TotalAmount:    r.TotalAmount,
		Date:           r.Date,
	}
}
