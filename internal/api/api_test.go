package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andresuchdata/shopledger/internal/api/middleware"
	"github.com/andresuchdata/shopledger/internal/drive"
	"github.com/andresuchdata/shopledger/internal/importer"
	"github.com/andresuchdata/shopledger/internal/migration"
	"github.com/andresuchdata/shopledger/internal/pipeline"
	"github.com/andresuchdata/shopledger/internal/repository"
	"github.com/andresuchdata/shopledger/internal/service"
	"github.com/andresuchdata/shopledger/internal/store"
	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, s *store.MemoryStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := repository.NewCatalogRepository(s)
	orch := pipeline.NewOrchestrator(migration.NewEngine(repo), pipeline.WithHistory(pipeline.NewMemoryHistory()))
	services := &Services{
		Catalog:   service.NewCatalogService(repo, importer.New(s), nil),
		Analytics: service.NewAnalyticsService(repo, nil),
		Migration: service.NewMigrationService(orch, nil, nil, nil),
	}
	return NewRouter(services, nil)
}

func do(router *gin.Engine, method, target string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	for _, rec := range []store.Record{
		{"id": "p1", "productName": "Rice", "vendor": "Acme", "billNumber": "B1", "totalAmount": 100.0},
		{"id": "p2", "productName": "Tea", "billNumber": "b1", "totalAmount": 50.0},
	} {
		if _, err := s.Create(ctx, store.Products, rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return s
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	tests := []struct {
		in       []string
		want     []string
		allowAll bool
	}{
		{[]string{"http://a.test, http://b.test", " "}, []string{"http://a.test", "http://b.test"}, false},
		{[]string{"*"}, nil, true},
		{[]string{"http://a.test,*"}, []string{"http://a.test"}, true},
	}
	for _, tt := range tests {
		got, all := normalizeAllowedOrigins(tt.in)
		if all != tt.allowAll || strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Fatalf("normalizeAllowedOrigins(%v) = %v, %v", tt.in, got, all)
		}
	}
}

func TestRequestIDEchoed(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get(middleware.RequestIDHeader) != "abc-123" {
		t.Fatalf("unexpected response %d %v", w.Code, w.Header())
	}

	w = do(router, http.MethodGet, "/health", "")
	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestRunRoutes(t *testing.T) {
	router := newTestRouter(t, seedStore(t))

	steps := []struct {
		method, target string
		want           int
	}{
		{http.MethodPost, "/api/v1/rollback", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/rollback?confirm=true&wait=true", http.StatusConflict},
		{http.MethodPost, "/api/v1/validation/fix", http.StatusConflict},
		{http.MethodPost, "/api/v1/migration?wait=true", http.StatusOK},
		{http.MethodPost, "/api/v1/migration?wait=true", http.StatusConflict},
		{http.MethodGet, "/api/v1/runs/bogus", http.StatusNotFound},
		{http.MethodGet, "/api/v1/archives", http.StatusNotImplemented},
		{http.MethodGet, "/api/v1/rollback/preview", http.StatusOK},
		{http.MethodPost, "/api/v1/runs/migration/reset", http.StatusOK},
	}
	for _, s := range steps {
		if w := do(router, s.method, s.target, ""); w.Code != s.want {
			t.Fatalf("%s %s: got %d want %d (%s)", s.method, s.target, w.Code, s.want, w.Body.String())
		}
	}

	w := do(router, http.MethodGet, "/api/v1/runs/migration/history", "")
	var history struct {
		Runs []pipeline.RunRecord `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil || len(history.Runs) != 1 {
		t.Fatalf("unexpected history %s (%v)", w.Body.String(), err)
	}

	w = do(router, http.MethodPost, "/api/v1/validation?wait=true", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"isValid":true`) {
		t.Fatalf("unexpected validation response %d %s", w.Code, w.Body.String())
	}

	w = do(router, http.MethodGet, "/api/v1/runs/validation/events", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "completed") {
		t.Fatalf("unexpected event stream %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	w = do(router, http.MethodGet, "/api/v1/bills", "")
	if !strings.Contains(w.Body.String(), `"count":1`) {
		t.Fatalf("expected one bill after migration, got %s", w.Body.String())
	}
}

func TestCatalogRoutes(t *testing.T) {
	s := seedStore(t)
	router := newTestRouter(t, s)
	if w := do(router, http.MethodPost, "/api/v1/migration?wait=true", ""); w.Code != http.StatusOK {
		t.Fatalf("migrate: %d %s", w.Code, w.Body.String())
	}

	bills, _ := s.GetAll(context.Background(), store.Bills)
	billURL := "/api/v1/bills/" + bills[0].ID()

	steps := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodGet, billURL, "", http.StatusOK},
		{http.MethodGet, "/api/v1/bills/missing", "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/bills?status=lost", "", http.StatusBadRequest},
		{http.MethodPut, billURL + "/status", `{"status":"bogus"}`, http.StatusBadRequest},
		{http.MethodPut, billURL + "/status", `{}`, http.StatusBadRequest},
		{http.MethodPut, billURL + "/status", `{"status":"paid"}`, http.StatusOK},
		{http.MethodGet, "/api/v1/analytics/vendors?status=paid", "", http.StatusOK},
		{http.MethodGet, "/api/v1/analytics/vendors?from=yesterday", "", http.StatusBadRequest},
		{http.MethodDelete, billURL, "", http.StatusOK},
		{http.MethodDelete, billURL, "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/products", "", http.StatusOK},
	}
	for _, st := range steps {
		if w := do(router, st.method, st.target, st.body); w.Code != st.want {
			t.Fatalf("%s %s: got %d want %d (%s)", st.method, st.target, w.Code, st.want, w.Body.String())
		}
	}

	products, _ := s.GetAll(context.Background(), store.Products)
	for _, p := range products {
		if p["billId"] != nil {
			t.Fatalf("product %s still linked after bill delete", p.ID())
		}
	}
}

func TestImportRoute(t *testing.T) {
	s := store.NewMemoryStore()
	router := newTestRouter(t, s)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "stock.csv")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	part.Write([]byte("name,bill number,total amount\nRice,B1,10\nSalt,B1,2\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("import: %d %s", w.Code, w.Body.String())
	}
	var result importer.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Imported != 2 || s.Len(store.Products) != 2 {
		t.Fatalf("unexpected import %+v", result)
	}
}

type stubDrive struct{}

func (stubDrive) ListFiles(context.Context, string) ([]*drive.File, error) {
	return []*drive.File{{ID: "x", Name: "stock.csv"}, {ID: "y", Name: "readme.md"}}, nil
}

func (stubDrive) Download(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("name,total\nRice,3\n")), nil
}

func (stubDrive) FindFolderByPath(_ context.Context, path string) (string, error) {
	return "", drive.ErrFolderNotFound
}

func TestDriveRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := store.NewMemoryStore()
	repo := repository.NewCatalogRepository(s)
	catalog := service.NewCatalogService(repo, importer.New(s), nil)
	router := NewRouter(&Services{Drive: drive.NewIngester(stubDrive{}, catalog, "root")}, nil)

	w := do(router, http.MethodGet, "/api/v1/drive/files", "")
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "readme.md") {
		t.Fatalf("unexpected listing %d %s", w.Code, w.Body.String())
	}
	if w := do(router, http.MethodGet, "/api/v1/drive/files?path=missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown folder, got %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/api/v1/drive/import", `{"dryRun":false}`); w.Code != http.StatusOK {
		t.Fatalf("import: %d %s", w.Code, w.Body.String())
	}
	if s.Len(store.Products) != 1 {
		t.Fatalf("expected one imported product, got %d", s.Len(store.Products))
	}
}
