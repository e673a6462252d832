package domain

import "strings"

// UnnamedProduct is shown for products saved without a name.
const UnnamedProduct = "Unnamed Product"

// Product is a purchased item line from the shop's products collection.
type Product struct {
	ID             string  `json:"id" mapstructure:"id"`
	ProductName    string  `json:"productName,omitempty" mapstructure:"productName"`
	Category       string  `json:"category,omitempty" mapstructure:"category"`
	Vendor         string  `json:"vendor,omitempty" mapstructure:"vendor"`
	BillNumber     string  `json:"billNumber,omitempty" mapstructure:"billNumber"`
	BillID         *string `json:"billId" mapstructure:"billId"`
	TotalQuantity  float64 `json:"totalQuantity,omitempty" mapstructure:"totalQuantity"`
	Quantity       float64 `json:"quantity,omitempty" mapstructure:"quantity"`
	PricePerPiece  float64 `json:"pricePerPiece,omitempty" mapstructure:"pricePerPiece"`
	MRP            float64 `json:"mrp,omitempty" mapstructure:"mrp"`
	ProfitPerPiece float64 `json:"profitPerPiece,omitempty" mapstructure:"profitPerPiece"`
	TotalAmount    float64 `json:"totalAmount" mapstructure:"totalAmount"`
	Date           string  `json:"date,omitempty" mapstructure:"date"`
}

// DisplayName returns the product name or the unnamed sentinel.
func (p Product) DisplayName() string {
	if name := strings.TrimSpace(p.ProductName); name != "" {
		return name
	}
	return UnnamedProduct
}

// Qty is totalQuantity when set, quantity otherwise.
func (p Product) Qty() float64 {
	if p.TotalQuantity != 0 {
		return p.TotalQuantity
	}
	return p.Quantity
}

// HasBill reports whether the product carries a non-empty bill reference.
func (p Product) HasBill() bool {
	return p.BillID != nil && *p.BillID != ""
}

// BillRef returns the referenced bill id, or "" when unset.
func (p Product) BillRef() string {
	if p.BillID == nil {
		return ""
	}
	return *p.BillID
}

// NormalizeBillNumber trims and case-folds a free-text bill number so that
// "b1 " and "B1" land in the same group.
func NormalizeBillNumber(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
