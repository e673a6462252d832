package migration

import (
	"context"
	"fmt"
	"testing"

	"github.com/andresuchdata/shopledger/internal/store"
)

func TestRollbackRestoresGrouping(t *testing.T) {
	s := store.NewMemoryStore()
	seedProducts(t, s,
		store.Record{"id": "p1", "billNumber": "B1", "totalAmount": 1.0},
		store.Record{"id": "p2", "billNumber": "b1 ", "totalAmount": 2.0},
		store.Record{"id": "p3", "billNumber": "B2", "totalAmount": 3.0},
		store.Record{"id": "p4", "totalAmount": 4.0},
	)
	e, repo := newTestEngine(s)
	ctx := context.Background()

	before, err := e.LoadGroups(ctx)
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	runAll(t, e)

	preview, err := e.PreviewRollback(ctx)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !preview.Available || preview.BillsToDelete != 3 || preview.ProductsToUpdate != 4 || preview.ProductsAlreadyOrphaned != 0 {
		t.Fatalf("unexpected preview %+v", preview)
	}
	if preview.EstimatedDuration <= 0 || len(preview.Risks) == 0 {
		t.Fatalf("expected estimate and risks, got %+v", preview)
	}

	var percents []float64
	result, err := e.ExecuteRollback(ctx, func(p float64, step string) { percents = append(percents, p) })
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if result.ProductsUpdated != 4 || result.BillsDeleted != 3 || result.TotalErrors != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress went backwards: %v", percents)
		}
	}
	if percents[len(percents)-1] != 100 {
		t.Fatalf("expected final progress 100, got %v", percents)
	}

	bills, _ := repo.ListBills(ctx)
	if len(bills) != 0 {
		t.Fatalf("expected no bills, got %d", len(bills))
	}
	after, err := e.LoadGroups(ctx)
	if err != nil {
		t.Fatalf("regroup: %v", err)
	}
	if fmt.Sprint(after.Keys) != fmt.Sprint(before.Keys) || len(after.Orphans) != len(before.Orphans) {
		t.Fatalf("expected grouping %v/%d, got %v/%d", before.Keys, len(before.Orphans), after.Keys, len(after.Orphans))
	}
	for _, key := range before.Keys {
		if len(after.Groups[key]) != len(before.Groups[key]) {
			t.Fatalf("group %s changed size", key)
		}
	}

	empty, _ := e.PreviewRollback(ctx)
	if empty.Available {
		t.Fatalf("expected nothing left to roll back")
	}
}

func TestRollbackCountsFailures(t *testing.T) {
	s := &flakyStore{MemoryStore: store.NewMemoryStore()}
	seedBill(t, s.MemoryStore, store.Record{"id": "b1", "billNumber": "A"})
	seedBill(t, s.MemoryStore, store.Record{"id": "b2", "billNumber": "B"})
	seedProducts(t, s.MemoryStore,
		store.Record{"id": "p1", "billId": "b1"},
		store.Record{"id": "p2", "billId": "b2"},
		store.Record{"id": "p3"},
	)
	s.failUpdate = func(c store.Collection, id string) bool { return id == "p1" }
	s.failDelete = func(c store.Collection, id string) bool { return id == "b2" }
	e, _ := newTestEngine(s)

	preview, _ := e.PreviewRollback(context.Background())
	if preview.ProductsAlreadyOrphaned != 1 {
		t.Fatalf("unexpected preview %+v", preview)
	}

	result, err := e.ExecuteRollback(context.Background(), nil)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if result.ProductsUpdated != 1 || result.ProductUpdateErrors != 1 || result.BillsDeleted != 1 || result.BillDeleteErrors != 1 || result.TotalErrors != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Errors) != 2 || result.Errors[0].ID != "p1" || result.Errors[1].ID != "b2" {
		t.Fatalf("unexpected errors %v", result.Errors)
	}
}

func TestPhasePercent(t *testing.T) {
	cases := []struct {
		base        float64
		done, total int
		want        float64
	}{
		{0, 0, 4, 0},
		{0, 2, 4, 25},
		{0, 4, 4, 50},
		{50, 1, 2, 75},
		{50, 0, 0, 100},
	}
	for _, tc := range cases {
		if got := phasePercent(tc.base, tc.done, tc.total); got != tc.want {
			t.Fatalf("phasePercent(%v,%d,%d) = %v, want %v", tc.base, tc.done, tc.total, got, tc.want)
		}
	}
}
