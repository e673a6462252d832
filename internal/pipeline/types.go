package pipeline

import (
	"errors"
	"time"
)

// Kind names one of the three orchestration paths.
type Kind string

const (
	KindMigration  Kind = "migration"
	KindValidation Kind = "validation"
	KindRollback   Kind = "rollback"
)

var (
	// ErrRunInProgress is returned when another run holds the guard.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrNotIdle is returned when starting a tracker that has not been reset.
	ErrNotIdle = errors.New("run is not idle; reset it first")
	// ErrNothingToRollback is returned when a rollback finds no bills.
	ErrNothingToRollback = errors.New("nothing to roll back: no bills exist")
)

// Migration progress bands, in percent.
const (
	bandGroupingEnd   = 10
	bandSynthesisEnd  = 40
	bandRewriteEnd    = 70
	bandOrphansEnd    = 90
	bandValidationEnd = 100
)

// RunRecord is the persisted summary of one finished run.
type RunRecord struct {
	ID           int64      `json:"id" db:"id"`
	Kind         Kind       `json:"kind" db:"kind"`
	Status       string     `json:"status" db:"status"`
	StartedAt    time.Time  `json:"startedAt" db:"started_at"`
	CompletedAt  *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	ErrorMessage string     `json:"errorMessage,omitempty" db:"error_message"`
	ItemErrors   int        `json:"itemErrors" db:"item_errors"`
}

// ParseKind returns the kind named by s.
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(s); k {
	case KindMigration, KindValidation, KindRollback:
		return k, true
	}
	return "", false
}
