package convert

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stratumlake/stratum/internal/model"
)

func testSchema() model.Schema {
	return model.Schema{Fields: []model.Field{
		{Name: "timestamp", Type: model.TypeTimestamp},
		{Name: "message", Type: model.TypeUtf8},
		{Name: "level", Type: model.TypeUtf8, Nullable: true},
		{Name: "count", Type: model.TypeInt64},
	}}
}

func TestArtifactWriter_WriteRowsAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.parquet")

	w, err := NewArtifactWriter(path, testSchema(), []string{"timestamp"})
	if err != nil {
		t.Fatalf("NewArtifactWriter failed: %v", err)
	}

	rows := []map[string]interface{}{
		{"timestamp": "2026-08-06T00:00:00Z", "message": "hello", "level": "info", "count": int64(1)},
		{"timestamp": "2026-08-06T00:00:01Z", "message": "world", "level": nil, "count": int64(2)},
	}
	for _, r := range rows {
		if err := w.WriteRow(r); err != nil {
			t.Fatalf("WriteRow failed: %v", err)
		}
	}

	if got := w.RowCount(); got != 2 {
		t.Errorf("expected 2 rows, got %d", got)
	}

	stats := w.Stats()
	if len(stats) != 4 {
		t.Fatalf("expected 4 column stats, got %d", len(stats))
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := os.Stat(w.SidecarPath()); err != nil {
		t.Errorf("expected index sidecar at %s: %v", w.SidecarPath(), err)
	}
}

func TestArtifactWriter_NoIndexedColumnsSkipsSidecar(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact.parquet")

	w, err := NewArtifactWriter(path, testSchema(), nil)
	if err != nil {
		t.Fatalf("NewArtifactWriter failed: %v", err)
	}
	if err := w.WriteRow(map[string]interface{}{"timestamp": "2026-08-06T00:00:00Z", "message": "hi", "level": "info", "count": int64(1)}); err != nil {
		t.Fatalf("WriteRow failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(w.SidecarPath()); !os.IsNotExist(err) {
		t.Errorf("expected no sidecar file when no columns are indexed, got err=%v", err)
	}
}
