package importer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresuchdata/shopledger/internal/store"
	"github.com/xuri/excelize/v2"
)

const sampleCSV = "\ufeffProduct Name,Vendor,Bill No,Qty,Price,MRP,Profit,Total Amount,Date\n" +
	"Rice,Acme,B1,\"1,000\",2.5,3,0.5,,2024-03-01\n" +
	"Tea,Acme,B1,2,10,12,2,20,2024-03-01\n" +
	",,,,,,,,\n" +
	"Bad,Acme,B2,x,1,1,0,1,\n" +
	"Neg,Acme,B2,1,-1,1,0,1,\n" +
	"Late,Acme,B3,1,1,1,0,1,01/03/2024\n"

// plainStore hides CreateMany so the per-row path is used.
type plainStore struct {
	store.DocumentStore
}

func TestImportCSV(t *testing.T) {
	tests := []struct {
		name  string
		store func(*store.MemoryStore) store.DocumentStore
	}{
		{"bulk", func(s *store.MemoryStore) store.DocumentStore { return s }},
		{"per row", func(s *store.MemoryStore) store.DocumentStore { return plainStore{s} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemoryStore()
			im := New(tt.store(mem), WithBatchSize(1))

			result, err := im.Import(context.Background(), strings.NewReader(sampleCSV), FormatCSV, false)
			if err != nil {
				t.Fatalf("import: %v", err)
			}
			if result.Imported != 2 || len(result.IDs) != 2 || result.RowsRead != 5 {
				t.Fatalf("unexpected result %+v", result)
			}

			lines := map[int]bool{}
			for _, e := range result.Errors {
				lines[e.Line] = true
			}
			for _, want := range []int{5, 6, 7} {
				if !lines[want] {
					t.Fatalf("expected an error on line %d, got %+v", want, result.Errors)
				}
			}

			records, err := mem.GetAll(context.Background(), store.Products)
			if err != nil {
				t.Fatalf("get all: %v", err)
			}
			if len(records) != 2 {
				t.Fatalf("expected 2 products, got %d", len(records))
			}
			rice := records[0]
			if rice["productName"] != "Rice" || rice["totalQuantity"] != 1000.0 || rice["totalAmount"] != 2500.0 {
				t.Fatalf("unexpected product %+v", rice)
			}
			if v, ok := rice["billId"]; !ok || v != nil {
				t.Fatalf("new products must carry a null billId, got %+v", rice)
			}
		})
	}
}

func TestImportDryRunDoesNotWrite(t *testing.T) {
	mem := store.NewMemoryStore()
	result, err := New(mem).Import(context.Background(), strings.NewReader(sampleCSV), FormatCSV, true)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !result.DryRun || result.Imported != 2 || len(result.IDs) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if mem.Len(store.Products) != 0 {
		t.Fatalf("dry run wrote %d products", mem.Len(store.Products))
	}
}

func TestImportRejectsUnknownHeader(t *testing.T) {
	_, err := New(store.NewMemoryStore()).Import(context.Background(), strings.NewReader("foo,bar\n1,2\n"), FormatCSV, false)
	if err != ErrNoHeader {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
}

func TestImportFileXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetList()[0]
	rows := [][]any{
		{"product_name", "category", "supplier", "invoice", "quantity", "price_per_piece", "total"},
		{"Sugar", "Grocery", "Beta", "INV-9", 3, 12.5, 37.5},
		{"Salt", "Grocery", "Beta", "INV-9", 1, 4, 4},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "products.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	mem := store.NewMemoryStore()
	result, err := New(mem).ImportFile(context.Background(), path, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Format != FormatXLSX || result.Imported != 2 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	records, _ := mem.GetAll(context.Background(), store.Products)
	if records[0]["vendor"] != "Beta" || records[0]["billNumber"] != "INV-9" || records[0]["quantity"] != 3.0 {
		t.Fatalf("unexpected product %+v", records[0])
	}
}

func TestFormatFromPath(t *testing.T) {
	if _, err := FormatFromPath("stock.txt"); err == nil {
		t.Fatalf("expected error for .txt")
	}
	if f, _ := FormatFromPath(filepath.Join(os.TempDir(), "A.CSV")); f != FormatCSV {
		t.Fatalf("expected csv, got %q", f)
	}
}

func TestImportRejectsNonFiniteNumbers(t *testing.T) {
	const csv = "Product Name,Bill No,Qty,Price,Profit,Total Amount\n" +
		"A,B1,1,1,NaN,1\n" +
		"B,B1,1,Inf,0,\n" +
		"C,B1,-Infinity,1,0,1\n" +
		"D,B1,1,1,0,1e400\n" +
		"E,B1,1,2,0.5,\n"

	mem := store.NewMemoryStore()
	result, err := New(mem).Import(context.Background(), strings.NewReader(csv), FormatCSV, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if result.Imported != 1 || len(result.Errors) != 4 {
		t.Fatalf("expected one import and four line errors, got %+v", result)
	}
	for i, e := range result.Errors {
		if e.Line != i+2 {
			t.Fatalf("expected error on line %d, got %+v", i+2, e)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"", 0, false},
		{"$1,250.50", 1250.5, false},
		{"₹ 12", 12, false},
		{"NaN", 0, true},
		{"+Inf", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseNumber(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("parseNumber(%q) = %v, %v", tt.in, got, err)
		}
	}
}
