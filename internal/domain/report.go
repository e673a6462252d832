package domain

import "time"

// ValidationSummary holds the counts gathered while validating.
type ValidationSummary struct {
	TotalProducts         int `json:"totalProducts"`
	TotalBills            int `json:"totalBills"`
	ProductsWithBillID    int `json:"productsWithBillId"`
	ProductsWithoutBillID int `json:"productsWithoutBillId"`
}

// ValidationReport is the integrity validator's output. Warnings never
// affect IsValid.
type ValidationReport struct {
	IsValid   bool              `json:"isValid"`
	Issues    Findings          `json:"issues"`
	Warnings  Findings          `json:"warnings"`
	Summary   ValidationSummary `json:"summary"`
	CheckedAt time.Time         `json:"checkedAt"`
}

// IssueCount is the number of findings that make the report invalid.
func (r *ValidationReport) IssueCount() int {
	if r == nil {
		return 0
	}
	return len(r.Issues)
}

// RemediationResult is the issue remediator's output.
type RemediationResult struct {
	Success         bool        `json:"success"`
	FixedIssues     Findings    `json:"fixedIssues"`
	UnfixedIssues   Findings    `json:"unfixedIssues"`
	AlreadyResolved Findings    `json:"alreadyResolved"`
	Writes          int         `json:"writes"`
	Errors          []ItemError `json:"errors,omitempty"`
}

// ValidationRunResult is the standalone validate (and optionally fix) pass.
type ValidationRunResult struct {
	Initial     *ValidationReport  `json:"initial"`
	Remediation *RemediationResult `json:"remediation,omitempty"`
	Final       *ValidationReport  `json:"final"`
}
