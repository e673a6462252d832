package domain

import "time"

// RunStatus is the state of one orchestration path.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunState is what the dashboards observe while a run is in flight.
type RunState struct {
	Status      RunStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	CurrentStep string     `json:"currentStep"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
}

// ItemError is a per-item failure recovered inside a phase.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// GroupingResult partitions products by normalized bill number.
type GroupingResult struct {
	Groups        map[string][]Product `json:"groupedProducts"`
	Keys          []string             `json:"groupKeys"`
	Orphans       []Product            `json:"orphanedProducts"`
	TotalProducts int                  `json:"totalProducts"`
	GroupCount    int                  `json:"groupCount"`
}

// SynthesisResult maps each group key to the id of the bill created for it.
type SynthesisResult struct {
	CreatedBills map[string]string `json:"createdBills"`
	SuccessCount int               `json:"successCount"`
	ErrorCount   int               `json:"errorCount"`
	Errors       []ItemError       `json:"errors"`
}

// RewriteResult counts product reference updates.
type RewriteResult struct {
	SuccessCount int         `json:"successCount"`
	ErrorCount   int         `json:"errorCount"`
	Errors       []ItemError `json:"errors"`
}

// OrphanUpdate records the placeholder bill created for one orphan.
type OrphanUpdate struct {
	ProductID string `json:"productId"`
	BillID    string `json:"billId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OrphanResult counts placeholder bills and their reference updates.
type OrphanResult struct {
	SuccessCount  int            `json:"successCount"`
	ErrorCount    int            `json:"errorCount"`
	BillsCreated  int            `json:"billsCreated"`
	UpdateResults []OrphanUpdate `json:"updateResults"`
}

// MigrationPhases holds the nested phase results of one migration run.
type MigrationPhases struct {
	Grouping   *GroupingResult   `json:"grouping,omitempty"`
	Synthesis  *SynthesisResult  `json:"synthesis,omitempty"`
	Rewrite    *RewriteResult    `json:"rewrite,omitempty"`
	Orphans    *OrphanResult     `json:"orphans,omitempty"`
	Validation *ValidationReport `json:"validation,omitempty"`
}

// MigrationErrors counts per-item failures by phase.
type MigrationErrors struct {
	Synthesis int `json:"synthesis"`
	Rewrite   int `json:"rewrite"`
	Orphans   int `json:"orphans"`
}

// Total sums all phase error counts.
func (e MigrationErrors) Total() int {
	return e.Synthesis + e.Rewrite + e.Orphans
}

// MigrationResult summarises one migration run.
type MigrationResult struct {
	ProductsProcessed       int             `json:"productsProcessed"`
	GroupsFound             int             `json:"groupsFound"`
	OrphansFound            int             `json:"orphansFound"`
	BillsCreatedFromGroups  int             `json:"billsCreatedFromGroups"`
	BillsCreatedFromOrphans int             `json:"billsCreatedFromOrphans"`
	ProductsUpdated         int             `json:"productsUpdated"`
	Errors                  MigrationErrors `json:"errors"`
	FlaggedForReview        bool            `json:"flaggedForReview"`
	Phases                  MigrationPhases `json:"phases"`
	Duration                time.Duration   `json:"duration"`
}

// BillsCreated is the total number of bills written by the run.
func (r *MigrationResult) BillsCreated() int {
	return r.BillsCreatedFromGroups + r.BillsCreatedFromOrphans
}

// RollbackPreview describes what a rollback would touch.
type RollbackPreview struct {
	Available               bool          `json:"available"`
	BillsToDelete           int           `json:"billsToDelete"`
	ProductsToUpdate        int           `json:"productsToUpdate"`
	ProductsAlreadyOrphaned int           `json:"productsAlreadyOrphaned"`
	EstimatedDuration       time.Duration `json:"estimatedDuration"`
	Risks                   []string      `json:"risks"`
}

// RollbackResult summarises an executed rollback.
type RollbackResult struct {
	ProductsUpdated     int           `json:"productsUpdated"`
	ProductUpdateErrors int           `json:"productUpdateErrors"`
	BillsDeleted        int           `json:"billsDeleted"`
	BillDeleteErrors    int           `json:"billDeleteErrors"`
	TotalErrors         int           `json:"totalErrors"`
	Errors              []ItemError   `json:"errors,omitempty"`
	Duration            time.Duration `json:"duration"`
}
