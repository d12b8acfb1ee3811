package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestQueryHandler_MethodNotAllowed(t *testing.T) {
	h := NewQueryHandler(nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/query", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestQueryHandler_RejectsEmptyQuery(t *testing.T) {
	h := NewQueryHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":""}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestQueryHandler_RejectsInvalidSQL(t *testing.T) {
	h := NewQueryHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":"NOT VALID SQL ((("}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestQueryHandler_RejectsNonSelectStatements(t *testing.T) {
	h := NewQueryHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"query":"DELETE FROM app"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRowsToObjects(t *testing.T) {
	columns := []string{"a", "b"}
	rows := [][]interface{}{
		{1, "x"},
		{2, "y"},
	}
	objs := rowsToObjects(columns, rows)
	if len(objs) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(objs))
	}
	if objs[0]["a"] != 1 || objs[0]["b"] != "x" {
		t.Errorf("unexpected first row: %v", objs[0])
	}
	if objs[1]["a"] != 2 || objs[1]["b"] != "y" {
		t.Errorf("unexpected second row: %v", objs[1])
	}
}
