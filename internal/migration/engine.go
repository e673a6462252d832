// Package migration regroups flat shop products into bills, keeps the two
// collections consistent and can undo the whole transformation.
package migration

import (
	"time"

	"github.com/andresuchdata/shopledger/internal/repository"
	"github.com/shopspring/decimal"
)

// DefaultTolerance is the smallest currency unit; bill totals closer than
// this to the sum of their products are considered equal.
const DefaultTolerance = 0.01

// ProgressFunc is called after each item of a per-item phase.
type ProgressFunc func(done, total int, step string)

// PercentFunc receives an overall percentage in [0, 100].
type PercentFunc func(percent float64, step string)

func (f ProgressFunc) report(done, total int, step string) {
	if f != nil {
		f(done, total, step)
	}
}

func (f PercentFunc) report(percent float64, step string) {
	if f != nil {
		f(percent, step)
	}
}

// Engine runs the migration phases against a catalog. It holds no state
// between calls.
type Engine struct {
	repo      repository.CatalogRepository
	tolerance decimal.Decimal
	now       func() time.Time
}

type Option func(*Engine)

// WithTolerance sets the bill total tolerance. Non-positive values keep the
// default.
func WithTolerance(tolerance float64) Option {
	return func(e *Engine) {
		if tolerance > 0 {
			e.tolerance = decimal.NewFromFloat(tolerance)
		}
	}
}

// WithClock overrides the clock used for bill dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(repo repository.CatalogRepository, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		tolerance: decimal.NewFromFloat(DefaultTolerance),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tolerance returns the configured bill total tolerance.
func (e *Engine) Tolerance() float64 {
	return e.tolerance.InexactFloat64()
}

func (e *Engine) withinTolerance(expected, actual decimal.Decimal) bool {
	return expected.Sub(actual).Abs().LessThanOrEqual(e.tolerance)
}
