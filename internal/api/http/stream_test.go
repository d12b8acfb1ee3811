package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stratumlake/stratum/internal/catalog"
	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/objstore"
)

func newTestStreamHandler(t *testing.T) (*StreamHandler, *catalog.Catalog) {
	t.Helper()
	store, err := objstore.NewLocalFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFS failed: %v", err)
	}
	cat := catalog.New(store)
	return NewStreamHandler(cat, nil), cat
}

func TestStreamHandler_CreateGetDelete(t *testing.T) {
	h, _ := newTestStreamHandler(t)

	createReq := httptest.NewRequest(http.MethodPut, "/api/v1/logstream/app", strings.NewReader(`{}`))
	createRec := httptest.NewRecorder()
	h.ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", createRec.Code, createRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/logstream/app", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", getRec.Code)
	}
	var cfg model.StreamConfig
	if err := json.Unmarshal(getRec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Name != "app" {
		t.Errorf("expected stream name 'app', got %q", cfg.Name)
	}

	deleteReq := httptest.NewRequest(http.MethodDelete, "/api/v1/logstream/app", nil)
	deleteRec := httptest.NewRecorder()
	h.ServeHTTP(deleteRec, deleteReq)
	if deleteRec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", deleteRec.Code)
	}

	getAfterDelete := httptest.NewRequest(http.MethodGet, "/api/v1/logstream/app", nil)
	getAfterDeleteRec := httptest.NewRecorder()
	h.ServeHTTP(getAfterDeleteRec, getAfterDelete)
	if getAfterDeleteRec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", getAfterDeleteRec.Code)
	}
}

func TestStreamHandler_CreateRejectsInvalidName(t *testing.T) {
	h, _ := newTestStreamHandler(t)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/logstream/Invalid_Name", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid stream name, got %d", rec.Code)
	}
}

func TestStreamHandler_CreateStaticSchemaStream(t *testing.T) {
	h, cat := newTestStreamHandler(t)

	body := `{
		"static_schema_flag": true,
		"static_schema": {"fields": [{"name": "v", "type": "Float64", "nullable": false}]}
	}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/logstream/metrics", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	cfg, ok := cat.Get("metrics")
	if !ok {
		t.Fatalf("expected stream metrics to exist in the catalog")
	}
	if !cfg.StaticSchemaFlag {
		t.Fatalf("expected StaticSchemaFlag to be threaded through from the request")
	}
	if len(cfg.StaticSchema.Fields) != 1 || cfg.StaticSchema.Fields[0].Name != "v" {
		t.Fatalf("expected StaticSchema to be threaded through from the request, got %+v", cfg.StaticSchema)
	}
}

func TestStreamHandler_List(t *testing.T) {
	h, cat := newTestStreamHandler(t)
	if err := cat.Create(httptest.NewRequest(http.MethodGet, "/", nil).Context(), model.StreamConfig{Name: "app"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logstream", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var streams []model.StreamConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &streams); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(streams) != 1 || streams[0].Name != "app" {
		t.Errorf("expected [app], got %v", streams)
	}
}

func TestStreamHandler_RetentionGetAndUpdate(t *testing.T) {
	h, cat := newTestStreamHandler(t)
	if err := cat.Create(httptest.NewRequest(http.MethodGet, "/", nil).Context(), model.StreamConfig{Name: "app"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updateReq := httptest.NewRequest(http.MethodPut, "/api/v1/logstream/app/retention", strings.NewReader(`{"days":7,"action":"delete"}`))
	updateRec := httptest.NewRecorder()
	h.ServeHTTP(updateRec, updateReq)
	if updateRec.Code != http.StatusOK {
		t.Fatalf("retention update: expected 200, got %d: %s", updateRec.Code, updateRec.Body.String())
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/logstream/app/retention", nil)
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("retention get: expected 200, got %d", getRec.Code)
	}
	var policy model.RetentionPolicy
	if err := json.Unmarshal(getRec.Body.Bytes(), &policy); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if policy.Days != 7 || policy.Action != "delete" {
		t.Errorf("expected {7 delete}, got %+v", policy)
	}
}

func TestStreamHandler_SyncUpsertsIntoCatalog(t *testing.T) {
	h, cat := newTestStreamHandler(t)

	body := `{"name":"app","retention":{"days":14,"action":"delete"}}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/logstream/app/sync", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	cfg, ok := cat.Get("app")
	if !ok {
		t.Fatal("expected stream 'app' to exist after sync")
	}
	if cfg.Retention.Days != 14 {
		t.Errorf("expected retention days 14, got %d", cfg.Retention.Days)
	}
}

func TestStreamHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newTestStreamHandler(t)
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/logstream/app", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
