package service

import (
	"context"
	"errors"
	"time"

	"github.com/andresuchdata/shopledger/internal/cache"
	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/pipeline"
	"github.com/andresuchdata/shopledger/internal/storage"
	"github.com/rs/zerolog/log"
)

// ErrArchiveDisabled is returned by the archive calls when no object store
// is configured.
var ErrArchiveDisabled = errors.New("report archive is not configured")

// ErrNoReport is returned by Remediate when no validation report is known.
var ErrNoReport = errors.New("no validation report available; run a validation first")

const afterRunTimeout = 30 * time.Second

// MigrationService fronts the orchestrator. After each run it caches the
// final state, archives the result and drops cached analytics.
type MigrationService struct {
	orch      *pipeline.Orchestrator
	reports   cache.ReportCache
	analytics cache.AnalyticsCache
	archiver  *storage.Archiver
}

func NewMigrationService(orch *pipeline.Orchestrator, reports cache.ReportCache, analytics cache.AnalyticsCache, archiver *storage.Archiver) *MigrationService {
	if reports == nil {
		reports = cache.NewNoopReportCache()
	}
	if analytics == nil {
		analytics = cache.NewNoopAnalyticsCache()
	}
	return &MigrationService{
		orch:      orch,
		reports:   reports,
		analytics: analytics,
		archiver:  archiver,
	}
}

func (s *MigrationService) RunMigration(ctx context.Context) (*domain.MigrationResult, error) {
	result, err := s.orch.RunMigration(ctx)
	s.afterMigration(result, err)
	return result, err
}

// StartMigration returns once the run has been admitted.
func (s *MigrationService) StartMigration(ctx context.Context) error {
	return s.orch.StartMigration(ctx, s.afterMigration)
}

func (s *MigrationService) afterMigration(result *domain.MigrationResult, err error) {
	var report *domain.ValidationReport
	if result != nil {
		report = result.Phases.Validation
	}
	s.afterRun(pipeline.KindMigration, result, report, true, err)
}

func (s *MigrationService) RunValidation(ctx context.Context, fix bool) (*domain.ValidationRunResult, error) {
	result, err := s.orch.RunValidation(ctx, fix)
	s.afterValidation(result, err)
	return result, err
}

func (s *MigrationService) StartValidation(ctx context.Context, fix bool) error {
	return s.orch.StartValidation(ctx, fix, s.afterValidation)
}

func (s *MigrationService) afterValidation(result *domain.ValidationRunResult, err error) {
	var report *domain.ValidationReport
	wrote := false
	if result != nil {
		report = result.Final
		wrote = result.Remediation != nil && result.Remediation.Writes > 0
	}
	s.afterRun(pipeline.KindValidation, result, report, wrote, err)
}

// Remediate fixes the issues of report, or of the latest cached report when
// report is nil.
func (s *MigrationService) Remediate(ctx context.Context, report *domain.ValidationReport) (*domain.RemediationResult, error) {
	if report == nil {
		cached, ok, err := s.reports.GetLatestReport(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("migration: cache get latest report failed")
		}
		if !ok {
			return nil, ErrNoReport
		}
		report = cached
	}

	result, err := s.orch.Remediate(ctx, report)
	if err != nil {
		return nil, err
	}
	if result.Writes > 0 {
		s.invalidateAnalytics(ctx)
	}
	return result, nil
}

func (s *MigrationService) PreviewRollback(ctx context.Context) (*domain.RollbackPreview, error) {
	return s.orch.PreviewRollback(ctx)
}

func (s *MigrationService) RunRollback(ctx context.Context) (*domain.RollbackResult, error) {
	result, err := s.orch.RunRollback(ctx)
	s.afterRollback(result, err)
	return result, err
}

func (s *MigrationService) StartRollback(ctx context.Context) error {
	return s.orch.StartRollback(ctx, s.afterRollback)
}

func (s *MigrationService) afterRollback(result *domain.RollbackResult, err error) {
	s.afterRun(pipeline.KindRollback, result, nil, true, err)
}

// State is the live state of one path.
func (s *MigrationService) State(kind pipeline.Kind) domain.RunState {
	return s.orch.Tracker(kind).State()
}

// LastRun returns the cached final state of the last run of kind, which
// survives restarts when redis is configured.
func (s *MigrationService) LastRun(ctx context.Context, kind pipeline.Kind) (*cache.CachedRunState, bool, error) {
	return s.reports.GetRunState(ctx, string(kind))
}

func (s *MigrationService) LatestReport(ctx context.Context) (*domain.ValidationReport, bool, error) {
	return s.reports.GetLatestReport(ctx)
}

func (s *MigrationService) Subscribe(kind pipeline.Kind, fn pipeline.Observer) func() {
	return s.orch.Tracker(kind).Subscribe(fn)
}

func (s *MigrationService) Reset(kind pipeline.Kind) error {
	return s.orch.Reset(kind)
}

func (s *MigrationService) History(ctx context.Context, kind pipeline.Kind, limit int) ([]pipeline.RunRecord, error) {
	return s.orch.History(ctx, kind, limit)
}

func (s *MigrationService) ListArchives(ctx context.Context, kind string) ([]storage.ObjectInfo, error) {
	if s.archiver == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archiver.List(ctx, kind)
}

func (s *MigrationService) GetArchive(ctx context.Context, key string) ([]byte, error) {
	if s.archiver == nil {
		return nil, ErrArchiveDisabled
	}
	return s.archiver.Get(ctx, key)
}

// afterRun runs detached from the request so background runs are handled
// the same way as synchronous ones. Failures here are logged only.
func (s *MigrationService) afterRun(kind pipeline.Kind, result any, report *domain.ValidationReport, mutated bool, runErr error) {
	if rejected(runErr) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), afterRunTimeout)
	defer cancel()

	if err := s.reports.SetRunState(ctx, string(kind), s.orch.Tracker(kind).State()); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("migration: cache set run state failed")
	}
	if runErr != nil {
		return
	}

	if report != nil {
		if err := s.reports.SetLatestReport(ctx, report); err != nil {
			log.Warn().Err(err).Msg("migration: cache set latest report failed")
		}
	}
	if mutated {
		s.invalidateAnalytics(ctx)
	}
	if s.archiver != nil {
		if _, err := s.archiver.Archive(ctx, string(kind), result); err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("migration: archive failed")
		}
	}
}

// rejected reports errors returned before a run started.
func rejected(err error) bool {
	return errors.Is(err, pipeline.ErrRunInProgress) ||
		errors.Is(err, pipeline.ErrNotIdle) ||
		errors.Is(err, pipeline.ErrNothingToRollback)
}

func (s *MigrationService) invalidateAnalytics(ctx context.Context) {
	if err := s.analytics.InvalidateAll(ctx); err != nil {
		log.Warn().Err(err).Msg("migration: cache invalidate analytics failed")
	}
}
