package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/repository"
	"github.com/andresuchdata/shopledger/internal/store"
)

var errInjected = errors.New("injected failure")

// flakyStore fails selected writes so per-item isolation can be observed.
type flakyStore struct {
	*store.MemoryStore
	failCreate func(c store.Collection, data store.Record) bool
	failUpdate func(c store.Collection, id string) bool
	failDelete func(c store.Collection, id string) bool
	failGetAll bool
}

func (s *flakyStore) GetAll(ctx context.Context, c store.Collection) ([]store.Record, error) {
	if s.failGetAll {
		return nil, errInjected
	}
	return s.MemoryStore.GetAll(ctx, c)
}

func (s *flakyStore) Create(ctx context.Context, c store.Collection, data store.Record) (string, error) {
	if s.failCreate != nil && s.failCreate(c, data) {
		return "", errInjected
	}
	return s.MemoryStore.Create(ctx, c, data)
}

func (s *flakyStore) Update(ctx context.Context, c store.Collection, id string, partial store.Record) error {
	if s.failUpdate != nil && s.failUpdate(c, id) {
		return errInjected
	}
	return s.MemoryStore.Update(ctx, c, id, partial)
}

func (s *flakyStore) Delete(ctx context.Context, c store.Collection, id string) error {
	if s.failDelete != nil && s.failDelete(c, id) {
		return errInjected
	}
	return s.MemoryStore.Delete(ctx, c, id)
}

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestEngine(s store.DocumentStore) (*Engine, repository.CatalogRepository) {
	repo := repository.NewCatalogRepository(s)
	return NewEngine(repo, WithClock(func() time.Time { return fixedNow })), repo
}

func seedProducts(t *testing.T, s store.DocumentStore, records ...store.Record) {
	t.Helper()
	for _, rec := range records {
		if _, err := s.Create(context.Background(), store.Products, rec); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}
}

// scenarioProducts is the B1 + orphan example: B1 totals 300 with profit 40,
// the orphan totals 50.
func scenarioProducts() []store.Record {
	return []store.Record{
		{"id": "p1", "productName": "Rice", "vendor": "Acme", "billNumber": "B1", "totalAmount": 100.0, "profitPerPiece": 10.0, "totalQuantity": 2.0},
		{"id": "p2", "productName": "Oil", "billNumber": "B1", "totalAmount": 200.0, "profitPerPiece": 5.0, "totalQuantity": 4.0},
		{"id": "p3", "productName": "Salt", "billNumber": "", "totalAmount": 50.0},
	}
}

// runAll performs the migration phases in order, the way the orchestrator does.
func runAll(t *testing.T, e *Engine) (*domain.GroupingResult, *domain.SynthesisResult, *domain.RewriteResult, *domain.OrphanResult) {
	t.Helper()
	ctx := context.Background()
	grouping, err := e.LoadGroups(ctx)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	synth := e.SynthesizeBills(ctx, grouping, nil)
	rewrite := e.RewriteReferences(ctx, grouping, synth, nil)
	orphans := e.HandleOrphans(ctx, grouping.Orphans, nil)
	return grouping, synth, rewrite, orphans
}
