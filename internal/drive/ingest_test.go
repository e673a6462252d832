package drive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/andresuchdata/shopledger/internal/importer"
	"github.com/andresuchdata/shopledger/internal/store"
)

type fakeSource struct {
	folders map[string]string
	files   map[string][]*File
	content map[string]string
}

func (f *fakeSource) ListFiles(_ context.Context, folderID string) ([]*File, error) {
	return f.files[folderID], nil
}

func (f *fakeSource) Download(_ context.Context, fileID string) (io.ReadCloser, error) {
	body, ok := f.content[fileID]
	if !ok {
		return nil, errors.New("403 forbidden")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeSource) FindFolderByPath(_ context.Context, path string) (string, error) {
	id, ok := f.folders[path]
	if !ok {
		return "", ErrFolderNotFound
	}
	return id, nil
}

// storeImporter adapts the product importer to ProductImporter.
type storeImporter struct {
	im *importer.Importer
}

func (s storeImporter) ImportProducts(ctx context.Context, r io.Reader, format importer.Format, dryRun bool) (*importer.Result, error) {
	return s.im.Import(ctx, r, format, dryRun)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		folders: map[string]string{"shop/stock": "f1"},
		files: map[string][]*File{
			"f1": {
				{ID: "a", Name: "march.csv"},
				{ID: "b", Name: "notes.txt"},
				{ID: "c", Name: "april.csv"},
				{ID: "d", Name: "locked.csv"},
			},
		},
		content: map[string]string{
			"a": "name,bill number,total\nRice,B1,10\n",
			"c": "name,bill number,total\nTea,B2,4\nSalt,B2,-1\n",
		},
	}
}

func TestIngestFolderByPath(t *testing.T) {
	s := store.NewMemoryStore()
	ing := NewIngester(newFakeSource(), storeImporter{importer.New(s)}, "")

	results, err := ing.Ingest(context.Background(), IngestRequest{FolderPath: "shop/stock"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 importable files, got %d", len(results))
	}

	byName := map[string]FileResult{}
	for _, r := range results {
		byName[r.File.Name] = r
	}
	if r := byName["march.csv"]; r.Error != "" || r.Result.Imported != 1 {
		t.Fatalf("unexpected march result %+v", r)
	}
	if r := byName["april.csv"]; r.Result.Imported != 1 || len(r.Result.Errors) != 1 {
		t.Fatalf("unexpected april result %+v", r.Result)
	}
	if r := byName["locked.csv"]; r.Error == "" {
		t.Fatalf("expected a download error for locked.csv")
	}
	if s.Len(store.Products) != 2 {
		t.Fatalf("expected 2 products, got %d", s.Len(store.Products))
	}
}

func TestIngestUnknownFolder(t *testing.T) {
	ing := NewIngester(newFakeSource(), storeImporter{importer.New(store.NewMemoryStore())}, "")
	if _, err := ing.Ingest(context.Background(), IngestRequest{FolderPath: "nope"}); !errors.Is(err, ErrFolderNotFound) {
		t.Fatalf("expected ErrFolderNotFound, got %v", err)
	}
}

func TestEscapeQuery(t *testing.T) {
	if got := escapeQuery(`Bob's \ sheets`); got != `Bob\'s \\ sheets` {
		t.Fatalf("unexpected escape %q", got)
	}
}

func TestIngestDefaultFolder(t *testing.T) {
	ing := NewIngester(newFakeSource(), storeImporter{importer.New(store.NewMemoryStore())}, "f1")
	files, err := ing.Files(context.Background(), IngestRequest{})
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("expected the default folder's 3 sheets, got %d", len(files))
	}
}
