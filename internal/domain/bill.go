package domain

import (
	"strings"
	"time"
)

type BillStatus string

const (
	BillStatusActive   BillStatus = "active"
	BillStatusPaid     BillStatus = "paid"
	BillStatusArchived BillStatus = "archived"
	BillStatusReturned BillStatus = "returned"
)

var billStatuses = map[string]BillStatus{
	"active":   BillStatusActive,
	"paid":     BillStatusPaid,
	"archived": BillStatusArchived,
	"returned": BillStatusReturned,
}

// ParseBillStatus returns the status for a given label (case-insensitive).
func ParseBillStatus(label string) (BillStatus, bool) {
	status, ok := billStatuses[strings.ToLower(strings.TrimSpace(label))]
	return status, ok
}

// UnknownVendor labels bills whose products carry no vendor.
const UnknownVendor = "Unknown"

// BillSource records which migration phase produced a bill.
type BillSource string

const (
	BillSourceGrouped BillSource = "grouped"
	BillSourceOrphan  BillSource = "orphan"
)

// Bill aggregates the products that share a bill number.
type Bill struct {
	ID           string     `json:"id" mapstructure:"id"`
	BillNumber   string     `json:"billNumber" mapstructure:"billNumber"`
	Vendor       string     `json:"vendor" mapstructure:"vendor"`
	Date         string     `json:"date" mapstructure:"date"`
	Status       BillStatus `json:"status" mapstructure:"status"`
	TotalAmount  float64    `json:"totalAmount" mapstructure:"totalAmount"`
	TotalProfit  float64    `json:"totalProfit" mapstructure:"totalProfit"`
	ProductCount int        `json:"productCount" mapstructure:"productCount"`
	Notes        string     `json:"notes,omitempty" mapstructure:"notes"`
	Source       BillSource `json:"source,omitempty" mapstructure:"source"`
	CreatedAt    string     `json:"createdAt,omitempty" mapstructure:"createdAt"`
}

// Fields renders the bill as a document body, without its id.
func (b Bill) Fields() map[string]any {
	status := b.Status
	if status == "" {
		status = BillStatusActive
	}
	createdAt := b.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	}
	fields := map[string]any{
		"billNumber":   b.BillNumber,
		"vendor":       b.Vendor,
		"date":         b.Date,
		"status":       string(status),
		"totalAmount":  b.TotalAmount,
		"totalProfit":  b.TotalProfit,
		"productCount": b.ProductCount,
		"source":       string(b.Source),
		"createdAt":    createdAt,
	}
	if b.Notes != "" {
		fields["notes"] = b.Notes
	}
	return fields
}

// VendorSummary is the per-vendor roll-up shown on the analytics dashboard.
type VendorSummary struct {
	Vendor       string             `json:"vendor"`
	BillCount    int                `json:"billCount"`
	ProductCount int                `json:"productCount"`
	TotalAmount  float64            `json:"totalAmount"`
	TotalProfit  float64            `json:"totalProfit"`
	ByStatus     map[BillStatus]int `json:"byStatus"`
}

// BillDetail is a bill together with the products that reference it.
type BillDetail struct {
	Bill     Bill      `json:"bill"`
	Products []Product `json:"products"`
}

// AnalyticsFilter narrows the vendor roll-up. From and To bound the bill
// date inclusively and use the YYYY-MM-DD layout.
type AnalyticsFilter struct {
	Status BillStatus `form:"status" json:"status,omitempty"`
	From   string     `form:"from" json:"from,omitempty"`
	To     string     `form:"to" json:"to,omitempty"`
}

// IsZero reports whether the filter selects every bill.
func (f AnalyticsFilter) IsZero() bool {
	return f == AnalyticsFilter{}
}
