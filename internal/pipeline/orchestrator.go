package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/migration"
	"github.com/rs/zerolog/log"
)

// Orchestrator sequences the engine phases for the three orchestration paths
// and reports their progress through one Tracker each. A single Guard is
// shared by all paths: migration, validation and rollback never overlap.
type Orchestrator struct {
	engine  *migration.Engine
	guard   Guard
	history History

	migration  *Tracker
	validation *Tracker
	rollback   *Tracker
}

type Option func(*Orchestrator)

func WithGuard(g Guard) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.guard = g
		}
	}
}

func WithHistory(h History) Option {
	return func(o *Orchestrator) {
		o.history = h
	}
}

func NewOrchestrator(engine *migration.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:     engine,
		guard:      NewLocalGuard(),
		migration:  NewTracker(KindMigration),
		validation: NewTracker(KindValidation),
		rollback:   NewTracker(KindRollback),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Tracker returns the tracker of one path, or nil for an unknown kind.
func (o *Orchestrator) Tracker(kind Kind) *Tracker {
	switch kind {
	case KindMigration:
		return o.migration
	case KindValidation:
		return o.validation
	case KindRollback:
		return o.rollback
	}
	return nil
}

// Reset returns a finished path to idle.
func (o *Orchestrator) Reset(kind Kind) error {
	t := o.Tracker(kind)
	if t == nil {
		return fmt.Errorf("unknown run kind %q", kind)
	}
	return t.Reset()
}

// History returns recent finished runs, newest first.
func (o *Orchestrator) History(ctx context.Context, kind Kind, limit int) ([]RunRecord, error) {
	if o.history == nil {
		return []RunRecord{}, nil
	}
	return o.history.Recent(ctx, kind, limit)
}

// begin takes the guard and moves the tracker to running.
func (o *Orchestrator) begin(ctx context.Context, kind Kind, step string) (func(), error) {
	release, err := o.guard.Acquire(ctx, kind)
	if err != nil {
		return nil, err
	}
	if err := o.Tracker(kind).Start(step); err != nil {
		release()
		return nil, err
	}
	log.Info().Str("kind", string(kind)).Msg("run started")
	return release, nil
}

// end records the outcome on the tracker and in the history.
func (o *Orchestrator) end(ctx context.Context, kind Kind, result any, itemErrors int, runErr error) {
	t := o.Tracker(kind)
	if runErr != nil {
		log.Error().Err(runErr).Str("kind", string(kind)).Msg("run failed")
		t.Fail(runErr)
	} else {
		log.Info().Str("kind", string(kind)).Int("item_errors", itemErrors).Msg("run completed")
		t.Complete(result)
	}

	if o.history == nil {
		return
	}
	state := t.State()
	rec := &RunRecord{
		Kind:         kind,
		Status:       string(state.Status),
		CompletedAt:  state.EndTime,
		ErrorMessage: state.Error,
		ItemErrors:   itemErrors,
	}
	if state.StartTime != nil {
		rec.StartedAt = *state.StartTime
	}
	if err := o.history.Record(ctx, rec); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("failed to record run history")
	}
}

// recoverRun fails the run instead of leaving its tracker running when the
// engine panics.
func (o *Orchestrator) recoverRun(ctx context.Context, kind Kind, err *error) {
	r := recover()
	if r == nil {
		return
	}
	*err = fmt.Errorf("%s panicked: %v", kind, r)
	o.end(ctx, kind, nil, 0, *err)
}

// band maps per-item progress into [from, to] of the overall scale.
func band(t *Tracker, from, to float64) migration.ProgressFunc {
	return func(done, total int, step string) {
		if total == 0 {
			t.Progress(to, step)
			return
		}
		t.Progress(from+(to-from)*float64(done)/float64(total), step)
	}
}

// RunMigration executes grouping, synthesis, rewrite, orphan handling and
// validation in order. A phase error aborts the run; per-item errors do not.
func (o *Orchestrator) RunMigration(ctx context.Context) (*domain.MigrationResult, error) {
	release, err := o.begin(ctx, KindMigration, "Starting migration")
	if err != nil {
		return nil, err
	}
	defer release()
	return o.migrate(ctx)
}

// StartMigration begins a migration in the background. Guard and state
// errors are returned before anything runs; done, if set, receives the
// outcome. The run is not cancelled with ctx.
func (o *Orchestrator) StartMigration(ctx context.Context, done func(*domain.MigrationResult, error)) error {
	release, err := o.begin(ctx, KindMigration, "Starting migration")
	if err != nil {
		return err
	}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer release()
		result, err := o.migrate(runCtx)
		if done != nil {
			done(result, err)
		}
	}()
	return nil
}

func (o *Orchestrator) migrate(ctx context.Context) (_ *domain.MigrationResult, err error) {
	defer o.recoverRun(ctx, KindMigration, &err)
	start := time.Now()
	t := o.migration
	result := &domain.MigrationResult{}

	t.Progress(0, "Grouping products by bill number")
	grouping, err := o.engine.LoadGroups(ctx)
	if err != nil {
		err = fmt.Errorf("grouping failed: %w", err)
		o.end(ctx, KindMigration, nil, 0, err)
		return nil, err
	}
	result.Phases.Grouping = grouping
	result.ProductsProcessed = grouping.TotalProducts
	result.GroupsFound = grouping.GroupCount
	result.OrphansFound = len(grouping.Orphans)
	t.Progress(bandGroupingEnd, fmt.Sprintf("Found %d bill group(s) and %d orphaned product(s)", grouping.GroupCount, len(grouping.Orphans)))

	synth := o.engine.SynthesizeBills(ctx, grouping, band(t, bandGroupingEnd, bandSynthesisEnd))
	result.Phases.Synthesis = synth
	result.BillsCreatedFromGroups = synth.SuccessCount
	result.Errors.Synthesis = synth.ErrorCount

	rewrite := o.engine.RewriteReferences(ctx, grouping, synth, band(t, bandSynthesisEnd, bandRewriteEnd))
	result.Phases.Rewrite = rewrite
	result.ProductsUpdated = rewrite.SuccessCount
	result.Errors.Rewrite = rewrite.ErrorCount

	orphans := o.engine.HandleOrphans(ctx, grouping.Orphans, band(t, bandRewriteEnd, bandOrphansEnd))
	result.Phases.Orphans = orphans
	result.BillsCreatedFromOrphans = orphans.BillsCreated
	result.ProductsUpdated += orphans.SuccessCount
	result.Errors.Orphans = orphans.ErrorCount

	t.Progress(bandOrphansEnd, "Validating migrated data")
	report, err := o.engine.Validate(ctx)
	if err != nil {
		err = fmt.Errorf("validation failed: %w", err)
		o.end(ctx, KindMigration, nil, result.Errors.Total(), err)
		return nil, err
	}
	result.Phases.Validation = report
	t.Progress(bandValidationEnd, "Validation finished")

	result.FlaggedForReview = result.Errors.Total() > 0 || !report.IsValid
	result.Duration = time.Since(start)

	log.Info().
		Int("products", result.ProductsProcessed).
		Int("bills_created", result.BillsCreated()).
		Int("products_updated", result.ProductsUpdated).
		Int("errors", result.Errors.Total()).
		Bool("valid", report.IsValid).
		Dur("duration", result.Duration).
		Msg("migration finished")

	o.end(ctx, KindMigration, result, result.Errors.Total(), nil)
	return result, nil
}

// RunValidation validates the store and, when fix is set and the report has
// issues, remediates them and validates again.
func (o *Orchestrator) RunValidation(ctx context.Context, fix bool) (*domain.ValidationRunResult, error) {
	release, err := o.begin(ctx, KindValidation, "Starting validation")
	if err != nil {
		return nil, err
	}
	defer release()
	return o.validate(ctx, fix)
}

// StartValidation is the background form of RunValidation.
func (o *Orchestrator) StartValidation(ctx context.Context, fix bool, done func(*domain.ValidationRunResult, error)) error {
	release, err := o.begin(ctx, KindValidation, "Starting validation")
	if err != nil {
		return err
	}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer release()
		result, err := o.validate(runCtx, fix)
		if done != nil {
			done(result, err)
		}
	}()
	return nil
}

func (o *Orchestrator) validate(ctx context.Context, fix bool) (_ *domain.ValidationRunResult, err error) {
	defer o.recoverRun(ctx, KindValidation, &err)
	t := o.validation

	t.Progress(0, "Checking products and bills")
	initial, err := o.engine.Validate(ctx)
	if err != nil {
		err = fmt.Errorf("validation failed: %w", err)
		o.end(ctx, KindValidation, nil, 0, err)
		return nil, err
	}
	result := &domain.ValidationRunResult{Initial: initial, Final: initial}

	if !fix || initial.IsValid {
		o.end(ctx, KindValidation, result, 0, nil)
		return result, nil
	}

	t.Progress(50, fmt.Sprintf("Fixing %d issue type(s)", len(initial.Issues)))
	remediation, err := o.engine.Remediate(ctx, initial)
	if err != nil {
		err = fmt.Errorf("remediation failed: %w", err)
		o.end(ctx, KindValidation, nil, 0, err)
		return nil, err
	}
	result.Remediation = remediation

	t.Progress(75, "Re-validating after fixes")
	final, err := o.engine.Validate(ctx)
	if err != nil {
		err = fmt.Errorf("re-validation failed: %w", err)
		o.end(ctx, KindValidation, nil, len(remediation.Errors), err)
		return nil, err
	}
	result.Final = final

	o.end(ctx, KindValidation, result, len(remediation.Errors), nil)
	return result, nil
}

// Remediate applies the fixes for a report obtained earlier. It takes the
// guard but leaves the validation tracker untouched.
func (o *Orchestrator) Remediate(ctx context.Context, report *domain.ValidationReport) (*domain.RemediationResult, error) {
	release, err := o.guard.Acquire(ctx, KindValidation)
	if err != nil {
		return nil, err
	}
	defer release()
	return o.engine.Remediate(ctx, report)
}

// PreviewRollback is read-only and does not take the guard.
func (o *Orchestrator) PreviewRollback(ctx context.Context) (*domain.RollbackPreview, error) {
	return o.engine.PreviewRollback(ctx)
}

// RunRollback clears every product reference and deletes every bill. It
// returns ErrNothingToRollback, without touching the tracker, when no bills
// exist.
func (o *Orchestrator) RunRollback(ctx context.Context) (*domain.RollbackResult, error) {
	release, err := o.beginRollback(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return o.roll(ctx)
}

// StartRollback is the background form of RunRollback.
func (o *Orchestrator) StartRollback(ctx context.Context, done func(*domain.RollbackResult, error)) error {
	release, err := o.beginRollback(ctx)
	if err != nil {
		return err
	}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		defer release()
		result, err := o.roll(runCtx)
		if done != nil {
			done(result, err)
		}
	}()
	return nil
}

func (o *Orchestrator) beginRollback(ctx context.Context) (func(), error) {
	release, err := o.guard.Acquire(ctx, KindRollback)
	if err != nil {
		return nil, err
	}
	preview, err := o.engine.PreviewRollback(ctx)
	if err != nil {
		release()
		return nil, fmt.Errorf("rollback preview failed: %w", err)
	}
	if !preview.Available {
		release()
		return nil, ErrNothingToRollback
	}
	if err := o.rollback.Start("Starting rollback"); err != nil {
		release()
		return nil, err
	}
	log.Info().Int("bills", preview.BillsToDelete).Int("products", preview.ProductsToUpdate).Msg("rollback started")
	return release, nil
}

func (o *Orchestrator) roll(ctx context.Context) (_ *domain.RollbackResult, err error) {
	defer o.recoverRun(ctx, KindRollback, &err)
	result, err := o.engine.ExecuteRollback(ctx, o.rollback.Progress)
	if err != nil {
		err = fmt.Errorf("rollback failed: %w", err)
		o.end(ctx, KindRollback, nil, 0, err)
		return nil, err
	}
	o.end(ctx, KindRollback, result, result.TotalErrors, nil)
	return result, nil
}
