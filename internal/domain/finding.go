package domain

import (
	"encoding/json"
	"fmt"
)

type FindingType string

const (
	FindingMissingBillID        FindingType = "missing_bill_id"
	FindingInvalidBillID        FindingType = "invalid_bill_id"
	FindingBillTotalMismatch    FindingType = "bill_total_mismatch"
	FindingDuplicateBillNumbers FindingType = "duplicate_bill_numbers"
	FindingEmptyBill            FindingType = "empty_bill"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// SeverityOf maps a finding type to its severity.
func SeverityOf(t FindingType) Severity {
	switch t {
	case FindingMissingBillID, FindingInvalidBillID:
		return SeverityHigh
	case FindingBillTotalMismatch, FindingDuplicateBillNumbers:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// IsAutoFixable reports whether the remediator has a deterministic repair
// for the finding type.
func IsAutoFixable(t FindingType) bool {
	return t == FindingBillTotalMismatch || t == FindingInvalidBillID
}

// Finding is one validator result. The set of implementations is closed:
// MissingBillID, InvalidBillID, BillTotalMismatch, DuplicateBillNumbers and
// EmptyBill.
type Finding interface {
	Type() FindingType
	Count() int
	Message() string
	envelope() findingJSON
}

// MissingBillID lists products that carry no bill reference.
type MissingBillID struct {
	ProductIDs []string
}

// DanglingReference is a product pointing at a bill that does not exist.
type DanglingReference struct {
	ProductID string `json:"productId"`
	BillID    string `json:"billId"`
}

// InvalidBillID lists products whose bill reference does not resolve.
type InvalidBillID struct {
	References []DanglingReference
}

// TotalMismatch is one bill whose stored total differs from its products.
type TotalMismatch struct {
	BillID     string  `json:"billId"`
	BillNumber string  `json:"billNumber"`
	Field      string  `json:"field"`
	Expected   float64 `json:"expected"`
	// Actual is 0 when the stored value is not a finite number; Note says
	// so, as it does for linked products with non-finite amounts.
	Actual float64 `json:"actual"`
	Note   string  `json:"note,omitempty"`
}

// BillTotalMismatch lists bills whose totalAmount is out of tolerance.
type BillTotalMismatch struct {
	Mismatches []TotalMismatch
}

// DuplicateGroup is a set of bills sharing one normalized bill number.
type DuplicateGroup struct {
	BillNumber string   `json:"billNumber"`
	BillIDs    []string `json:"billIds"`
}

// DuplicateBillNumbers lists bill numbers used by more than one bill.
type DuplicateBillNumbers struct {
	Duplicates []DuplicateGroup
}

// EmptyBill lists bills no product references.
type EmptyBill struct {
	BillIDs []string
}

func (MissingBillID) Type() FindingType        { return FindingMissingBillID }
func (InvalidBillID) Type() FindingType        { return FindingInvalidBillID }
func (BillTotalMismatch) Type() FindingType    { return FindingBillTotalMismatch }
func (DuplicateBillNumbers) Type() FindingType { return FindingDuplicateBillNumbers }
func (EmptyBill) Type() FindingType            { return FindingEmptyBill }

func (f MissingBillID) Count() int        { return len(f.ProductIDs) }
func (f InvalidBillID) Count() int        { return len(f.References) }
func (f BillTotalMismatch) Count() int    { return len(f.Mismatches) }
func (f DuplicateBillNumbers) Count() int { return len(f.Duplicates) }
func (f EmptyBill) Count() int            { return len(f.BillIDs) }

func (f MissingBillID) Message() string {
	return fmt.Sprintf("%d product(s) have no bill reference", f.Count())
}

func (f InvalidBillID) Message() string {
	return fmt.Sprintf("%d product(s) reference a bill that does not exist", f.Count())
}

func (f BillTotalMismatch) Message() string {
	return fmt.Sprintf("%d bill(s) have a total that does not match their products", f.Count())
}

func (f DuplicateBillNumbers) Message() string {
	return fmt.Sprintf("%d bill number(s) are used by more than one bill", f.Count())
}

func (f EmptyBill) Message() string {
	return fmt.Sprintf("%d bill(s) have no products", f.Count())
}

// ProductIDs of an InvalidBillID finding, in report order.
func (f InvalidBillID) ProductIDs() []string {
	ids := make([]string, 0, len(f.References))
	for _, ref := range f.References {
		ids = append(ids, ref.ProductID)
	}
	return ids
}

type findingJSON struct {
	Type       FindingType         `json:"type"`
	Severity   Severity            `json:"severity"`
	Message    string              `json:"message"`
	Count      int                 `json:"count"`
	ProductIDs []string            `json:"productIds,omitempty"`
	References []DanglingReference `json:"references,omitempty"`
	Mismatches []TotalMismatch     `json:"mismatches,omitempty"`
	Duplicates []DuplicateGroup    `json:"duplicates,omitempty"`
	BillIDs    []string            `json:"billIds,omitempty"`
}

func header(f Finding) findingJSON {
	return findingJSON{
		Type:     f.Type(),
		Severity: SeverityOf(f.Type()),
		Message:  f.Message(),
		Count:    f.Count(),
	}
}

func (f MissingBillID) envelope() findingJSON {
	out := header(f)
	out.ProductIDs = f.ProductIDs
	return out
}

func (f InvalidBillID) envelope() findingJSON {
	out := header(f)
	out.ProductIDs = f.ProductIDs()
	out.References = f.References
	return out
}

func (f BillTotalMismatch) envelope() findingJSON {
	out := header(f)
	out.Mismatches = f.Mismatches
	return out
}

func (f DuplicateBillNumbers) envelope() findingJSON {
	out := header(f)
	out.Duplicates = f.Duplicates
	return out
}

func (f EmptyBill) envelope() findingJSON {
	out := header(f)
	out.BillIDs = f.BillIDs
	return out
}

// Findings is an ordered list of findings that serialises as a JSON array of
// type-tagged objects.
type Findings []Finding

func (fs Findings) MarshalJSON() ([]byte, error) {
	out := make([]findingJSON, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.envelope())
	}
	return json.Marshal(out)
}

func (fs *Findings) UnmarshalJSON(data []byte) error {
	var raw []findingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	decoded := make(Findings, 0, len(raw))
	for _, r := range raw {
		switch r.Type {
		case FindingMissingBillID:
			decoded = append(decoded, MissingBillID{ProductIDs: r.ProductIDs})
		case FindingInvalidBillID:
			decoded = append(decoded, InvalidBillID{References: r.References})
		case FindingBillTotalMismatch:
			decoded = append(decoded, BillTotalMismatch{Mismatches: r.Mismatches})
		case FindingDuplicateBillNumbers:
			decoded = append(decoded, DuplicateBillNumbers{Duplicates: r.Duplicates})
		case FindingEmptyBill:
			decoded = append(decoded, EmptyBill{BillIDs: r.BillIDs})
		default:
			return fmt.Errorf("unknown finding type %q", r.Type)
		}
	}
	*fs = decoded
	return nil
}

// Types returns the finding types in list order.
func (fs Findings) Types() []FindingType {
	types := make([]FindingType, 0, len(fs))
	for _, f := range fs {
		types = append(types, f.Type())
	}
	return types
}

// Find returns the first finding of the given type.
func (fs Findings) Find(t FindingType) (Finding, bool) {
	for _, f := range fs {
		if f.Type() == t {
			return f, true
		}
	}
	return nil, false
}
