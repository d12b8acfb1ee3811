package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
	"github.com/stratumlake/stratum/internal/schema"
	"github.com/stratumlake/stratum/internal/staging"
)

func newTestIngestHandler(t *testing.T) (*IngestHandler, *catalog.Catalog) {
	t.Helper()
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}
	cat := catalog.New(store)
	if err := cat.Create(httptest.NewRequest(http.MethodGet, "/", nil).Context(), model.StreamConfig{Name: "app"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	reg := schema.New(store)
	stagingEngine, err := staging.New(t.TempDir(), "host1", 1<<30)
	if err != nil {
		t.Fatalf("staging.New failed: %v", err)
	}
	t.Cleanup(func() { stagingEngine.Close() })
	return NewIngestHandler(cat, reg, stagingEngine), cat
}

func TestIngestHandler_AppendsNDJSON(t *testing.T) {
	h, _ := newTestIngestHandler(t)

	body := `{"msg":"one"}` + "\n" + `{"msg":"two"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(body))
	req.Header.Set("X-P-Stream", "app")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestHandler_RequiresStreamHeader(t *testing.T) {
	h, _ := newTestIngestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(`{"msg":"one"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIngestHandler_RejectsUnknownStream(t *testing.T) {
	h, _ := newTestIngestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader(`{"msg":"one"}`))
	req.Header.Set("X-P-Stream", "ghost")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestIngestHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newTestIngestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ingest", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
