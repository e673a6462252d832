package repository

import (
	"context"
	"testing"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/store"
)

func TestListProductsDecodesLooseRecords(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	// Values as they arrive from JSON-ish stores: strings for numbers, ints, nulls.
	if _, err := s.Create(ctx, store.Products, store.Record{
		"id":             "p1",
		"productName":    "Rice",
		"billNumber":     "B1",
		"billId":         nil,
		"totalQuantity":  "4",
		"profitPerPiece": 2,
		"totalAmount":    120.5,
		"unknownField":   true,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	repo := NewCatalogRepository(s)
	products, err := repo.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected 1 product got %d", len(products))
	}
	p := products[0]
	if p.ID != "p1" || p.TotalQuantity != 4 || p.ProfitPerPiece != 2 || p.TotalAmount != 120.5 {
		t.Fatalf("unexpected decode %+v", p)
	}
	if p.BillID != nil {
		t.Fatalf("expected nil bill id, got %v", *p.BillID)
	}
}

func TestBillRoundTripAndReferenceUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewCatalogRepository(store.NewMemoryStore())

	billID, err := repo.CreateBill(ctx, domain.Bill{BillNumber: "B1", Vendor: "Acme", TotalAmount: 300, TotalProfit: 40, ProductCount: 2})
	if err != nil {
		t.Fatalf("create bill: %v", err)
	}
	productID, err := repo.CreateProduct(ctx, domain.Product{ProductName: "Tea", BillNumber: "B1", TotalAmount: 300})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	bills, err := repo.ListBills(ctx)
	if err != nil {
		t.Fatalf("list bills: %v", err)
	}
	if bills[0].ID != billID || bills[0].Status != domain.BillStatusActive || bills[0].ProductCount != 2 {
		t.Fatalf("unexpected bill %+v", bills[0])
	}

	if err := repo.SetProductBillID(ctx, productID, billID); err != nil {
		t.Fatalf("set bill id: %v", err)
	}
	products, _ := repo.ListProducts(ctx)
	if products[0].BillRef() != billID {
		t.Fatalf("expected bill reference %s, got %q", billID, products[0].BillRef())
	}

	if err := repo.ClearProductBillID(ctx, productID); err != nil {
		t.Fatalf("clear bill id: %v", err)
	}
	products, _ = repo.ListProducts(ctx)
	if products[0].HasBill() {
		t.Fatalf("expected reference cleared")
	}
	if products[0].BillNumber != "B1" {
		t.Fatalf("bill number must survive clearing, got %q", products[0].BillNumber)
	}
}
