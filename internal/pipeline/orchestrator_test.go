package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/migration"
	"github.com/andresuchdata/shopledger/internal/repository"
	"github.com/andresuchdata/shopledger/internal/store"
)

func newOrchestrator(t *testing.T, records ...store.Record) (*Orchestrator, *store.MemoryStore, *MemoryHistory) {
	t.Helper()
	s := store.NewMemoryStore()
	for _, rec := range records {
		if _, err := s.Create(context.Background(), store.Products, rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	history := NewMemoryHistory()
	engine := migration.NewEngine(repository.NewCatalogRepository(s))
	return NewOrchestrator(engine, WithHistory(history)), s, history
}

func sampleProducts() []store.Record {
	return []store.Record{
		{"id": "p1", "vendor": "Acme", "billNumber": "B1", "totalAmount": 100.0, "profitPerPiece": 10.0, "totalQuantity": 2.0},
		{"id": "p2", "billNumber": "b1", "totalAmount": 200.0, "profitPerPiece": 5.0, "totalQuantity": 4.0},
		{"id": "p3", "totalAmount": 50.0},
	}
}

func TestLocalGuardExclusive(t *testing.T) {
	g := NewLocalGuard()
	release, err := g.Acquire(context.Background(), KindMigration)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := g.Acquire(context.Background(), KindRollback); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	release()
	release()

	again, err := g.Acquire(context.Background(), KindRollback)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	again()
}

func TestRunMigration(t *testing.T) {
	o, s, history := newOrchestrator(t, sampleProducts()...)

	var progress []float64
	o.Tracker(KindMigration).Subscribe(func(st domain.RunState) {
		if st.Status == domain.RunStatusRunning {
			progress = append(progress, st.Progress)
		}
	})

	result, err := o.RunMigration(context.Background())
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if result.ProductsProcessed != 3 || result.GroupsFound != 1 || result.OrphansFound != 1 {
		t.Fatalf("unexpected counts %+v", result)
	}
	if result.BillsCreated() != 2 || result.ProductsUpdated != 3 || result.Errors.Total() != 0 {
		t.Fatalf("unexpected writes %+v", result)
	}
	if result.FlaggedForReview || !result.Phases.Validation.IsValid {
		t.Fatalf("expected a clean run")
	}
	if s.Len(store.Bills) != 2 {
		t.Fatalf("expected 2 bills, got %d", s.Len(store.Bills))
	}

	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("progress went backwards: %v", progress)
		}
	}
	state := o.Tracker(KindMigration).State()
	if state.Status != domain.RunStatusCompleted || state.Progress != 100 {
		t.Fatalf("unexpected final state %+v", state)
	}

	runs, _ := o.History(context.Background(), KindMigration, 5)
	if len(runs) != 1 || runs[0].Status != string(domain.RunStatusCompleted) {
		t.Fatalf("unexpected history %+v", runs)
	}
	if _, err := history.Recent(context.Background(), KindRollback, 5); err != nil {
		t.Fatalf("history: %v", err)
	}

	if _, err := o.RunMigration(context.Background()); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("expected ErrNotIdle before reset, got %v", err)
	}
}

type failingStore struct {
	*store.MemoryStore
}

func (failingStore) GetAll(context.Context, store.Collection) ([]store.Record, error) {
	return nil, errors.New("connection refused")
}

func TestRunMigrationPhaseFailure(t *testing.T) {
	engine := migration.NewEngine(repository.NewCatalogRepository(failingStore{store.NewMemoryStore()}))
	o := NewOrchestrator(engine)

	if _, err := o.RunMigration(context.Background()); err == nil {
		t.Fatalf("expected phase error")
	}
	state := o.Tracker(KindMigration).State()
	if state.Status != domain.RunStatusFailed || state.Error == "" {
		t.Fatalf("unexpected state %+v", state)
	}
	if err := o.Reset(KindMigration); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestStartMigrationRejectsConcurrentRun(t *testing.T) {
	o, _, _ := newOrchestrator(t, sampleProducts()...)

	release, err := o.guard.Acquire(context.Background(), KindValidation)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := o.StartMigration(context.Background(), nil); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if o.Tracker(KindMigration).State().Status != domain.RunStatusIdle {
		t.Fatalf("rejected start must leave the tracker idle")
	}
	release()

	done := make(chan error, 1)
	if err := o.StartMigration(context.Background(), func(_ *domain.MigrationResult, err error) { done <- err }); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("background run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("background migration did not finish")
	}
}

func TestRunValidationWithFix(t *testing.T) {
	o, s, _ := newOrchestrator(t,
		store.Record{"id": "p1", "billId": "ghost", "totalAmount": 5.0},
		store.Record{"id": "p2", "billId": "b1", "totalAmount": 4.0},
	)
	if _, err := s.Create(context.Background(), store.Bills, store.Record{"id": "b1", "billNumber": "X", "totalAmount": 9.0}); err != nil {
		t.Fatalf("seed bill: %v", err)
	}

	result, err := o.RunValidation(context.Background(), true)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Initial.IsValid || result.Remediation == nil || result.Remediation.Writes != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, ok := result.Final.Issues.Find(domain.FindingInvalidBillID); ok {
		t.Fatalf("dangling reference should be fixed")
	}
	if _, ok := result.Final.Issues.Find(domain.FindingBillTotalMismatch); ok {
		t.Fatalf("total should be fixed")
	}
	// the product lost its dangling reference and is now simply unlinked
	if _, ok := result.Final.Issues.Find(domain.FindingMissingBillID); !ok {
		t.Fatalf("expected missing bill id after clearing")
	}
}

func TestRunValidationWithoutFixDoesNotWrite(t *testing.T) {
	o, s, _ := newOrchestrator(t)
	if _, err := s.Create(context.Background(), store.Bills, store.Record{"id": "b1", "totalAmount": 9.0}); err != nil {
		t.Fatalf("seed bill: %v", err)
	}

	result, err := o.RunValidation(context.Background(), false)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Remediation != nil || result.Final != result.Initial {
		t.Fatalf("expected report only, got %+v", result)
	}
	records, _ := s.GetAll(context.Background(), store.Bills)
	if records[0]["totalAmount"] != 9.0 {
		t.Fatalf("validation without fix must not write")
	}
}

func TestRunRollback(t *testing.T) {
	o, s, _ := newOrchestrator(t, sampleProducts()...)

	if _, err := o.RunRollback(context.Background()); !errors.Is(err, ErrNothingToRollback) {
		t.Fatalf("expected ErrNothingToRollback, got %v", err)
	}
	if o.Tracker(KindRollback).State().Status != domain.RunStatusIdle {
		t.Fatalf("unavailable rollback must not start the tracker")
	}

	if _, err := o.RunMigration(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	result, err := o.RunRollback(context.Background())
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if result.BillsDeleted != 2 || result.ProductsUpdated != 3 || result.TotalErrors != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if s.Len(store.Bills) != 0 {
		t.Fatalf("expected bills removed")
	}
	if st := o.Tracker(KindRollback).State(); st.Status != domain.RunStatusCompleted {
		t.Fatalf("unexpected state %+v", st)
	}
}

// panickingStore panics on reads once armed.
type panickingStore struct {
	*store.MemoryStore
	armed bool
}

func (s *panickingStore) GetAll(ctx context.Context, c store.Collection) ([]store.Record, error) {
	if s.armed {
		panic("corrupt collection")
	}
	return s.MemoryStore.GetAll(ctx, c)
}

func TestEnginePanicFailsRun(t *testing.T) {
	s := &panickingStore{MemoryStore: store.NewMemoryStore(), armed: true}
	history := NewMemoryHistory()
	o := NewOrchestrator(migration.NewEngine(repository.NewCatalogRepository(s)), WithHistory(history))
	ctx := context.Background()

	if _, err := o.RunMigration(ctx); err == nil {
		t.Fatalf("expected migration error")
	}
	if _, err := o.RunValidation(ctx, false); err == nil {
		t.Fatalf("expected validation error")
	}
	for _, kind := range []Kind{KindMigration, KindValidation} {
		st := o.Tracker(kind).State()
		if st.Status != domain.RunStatusFailed || st.Error == "" {
			t.Fatalf("%s: expected failed state, got %+v", kind, st)
		}
		if err := o.Reset(kind); err != nil {
			t.Fatalf("%s: reset after panic: %v", kind, err)
		}
	}

	runs, _ := history.Recent(ctx, KindMigration, 5)
	if len(runs) != 1 || runs[0].Status != string(domain.RunStatusFailed) {
		t.Fatalf("expected failed run in history, got %+v", runs)
	}

	// The guard was released, so a later run is admitted.
	s.armed = false
	if _, err := o.RunMigration(ctx); err != nil {
		t.Fatalf("migration after panic: %v", err)
	}
}

func TestBackgroundPanicFailsRun(t *testing.T) {
	s := &panickingStore{MemoryStore: store.NewMemoryStore(), armed: true}
	o := NewOrchestrator(migration.NewEngine(repository.NewCatalogRepository(s)))

	done := make(chan error, 1)
	if err := o.StartMigration(context.Background(), func(_ *domain.MigrationResult, err error) { done <- err }); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected error from panicking run")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("background run did not finish")
	}
	if st := o.Tracker(KindMigration).State(); st.Status != domain.RunStatusFailed {
		t.Fatalf("expected failed state, got %+v", st)
	}
}
