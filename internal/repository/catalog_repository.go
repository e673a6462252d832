package repository

import (
	"context"
	"fmt"

	"github.com/andresuchdata/shopledger/internal/domain"
	"github.com/andresuchdata/shopledger/internal/store"
	"github.com/mitchellh/mapstructure"
)

// CatalogRepository is the typed view of the products and bills collections.
type CatalogRepository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListBills(ctx context.Context) ([]domain.Bill, error)
	CreateProduct(ctx context.Context, p domain.Product) (string, error)
	CreateBill(ctx context.Context, b domain.Bill) (string, error)
	UpdateProduct(ctx context.Context, id string, fields map[string]any) error
	UpdateBill(ctx context.Context, id string, fields map[string]any) error
	DeleteBill(ctx context.Context, id string) error
	SetProductBillID(ctx context.Context, productID, billID string) error
	ClearProductBillID(ctx context.Context, productID string) error
	Subscribe(ctx context.Context, c store.Collection, fn func(store.Change)) (func(), error)
}

type DocumentCatalog struct {
	store store.DocumentStore
}

var _ CatalogRepository = (*DocumentCatalog)(nil)

func NewCatalogRepository(s store.DocumentStore) *DocumentCatalog {
	return &DocumentCatalog{store: s}
}

func (r *DocumentCatalog) ListProducts(ctx context.Context) ([]domain.Product, error) {
	records, err := r.store.GetAll(ctx, store.Products)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}

	products := make([]domain.Product, 0, len(records))
	for _, rec := range records {
		var p domain.Product
		if err := decodeRecord(rec, &p); err != nil {
			return nil, fmt.Errorf("failed to decode product %s: %w", rec.ID(), err)
		}
		products = append(products, p)
	}
	return products, nil
}

func (r *DocumentCatalog) ListBills(ctx context.Context) ([]domain.Bill, error) {
	records, err := r.store.GetAll(ctx, store.Bills)
	if err != nil {
		return nil, fmt.Errorf("failed to query bills: %w", err)
	}

	bills := make([]domain.Bill, 0, len(records))
	for _, rec := range records {
		var b domain.Bill
		if err := decodeRecord(rec, &b); err != nil {
			return nil, fmt.Errorf("failed to decode bill %s: %w", rec.ID(), err)
		}
		bills = append(bills, b)
	}
	return bills, nil
}

func (r *DocumentCatalog) CreateProduct(ctx context.Context, p domain.Product) (string, error) {
	return r.store.Create(ctx, store.Products, ProductRecord(p))
}

func (r *DocumentCatalog) CreateBill(ctx context.Context, b domain.Bill) (string, error) {
	return r.store.Create(ctx, store.Bills, b.Fields())
}

func (r *DocumentCatalog) UpdateProduct(ctx context.Context, id string, fields map[string]any) error {
	return r.store.Update(ctx, store.Products, id, fields)
}

func (r *DocumentCatalog) UpdateBill(ctx context.Context, id string, fields map[string]any) error {
	return r.store.Update(ctx, store.Bills, id, fields)
}

func (r *DocumentCatalog) DeleteBill(ctx context.Context, id string) error {
	return r.store.Delete(ctx, store.Bills, id)
}

func (r *DocumentCatalog) SetProductBillID(ctx context.Context, productID, billID string) error {
	return r.store.Update(ctx, store.Products, productID, store.Record{"billId": billID})
}

// ClearProductBillID nulls the reference and leaves billNumber untouched.
func (r *DocumentCatalog) ClearProductBillID(ctx context.Context, productID string) error {
	return r.store.Update(ctx, store.Products, productID, store.Record{"billId": nil})
}

func (r *DocumentCatalog) Subscribe(ctx context.Context, c store.Collection, fn func(store.Change)) (func(), error) {
	return r.store.Subscribe(ctx, c, fn)
}

func decodeRecord(rec store.Record, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]any(rec))
}

// ProductRecord renders a product as a document body. A new product carries
// an explicit null billId.
func ProductRecord(p domain.Product) store.Record {
	rec := store.Record{
		"productName":    p.ProductName,
		"category":       p.Category,
		"vendor":         p.Vendor,
		"billNumber":     p.BillNumber,
		"totalQuantity":  p.TotalQuantity,
		"quantity":       p.Quantity,
		"pricePerPiece":  p.PricePerPiece,
		"mrp":            p.MRP,
		"profitPerPiece": p.ProfitPerPiece,
		"totalAmount":    p.TotalAmount,
		"billId":         nil,
	}
	if p.BillID != nil {
		rec["billId"] = *p.BillID
	}
	if p.Date != "" {
		rec["date"] = p.Date
	}
	if p.ID != "" {
		rec[store.IDField] = p.ID
	}
	return rec
}
