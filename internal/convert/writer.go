package convert

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/stratumlake/stratum/internal/model"
)

// RowGroupTargetSize is the target number of rows per Parquet row group.
const RowGroupTargetSize = 256 * 1024

// ArtifactWriter converts decoded staging records into a single Parquet
// artifact, tracking per-column statistics and indexed-column sidecar
// entries as it goes.
type ArtifactWriter struct {
	mu sync.Mutex

	path   string
	file   *os.File
	schema *parquet.Schema
	writer *parquet.Writer

	fields       []model.Field
	indexedCols  map[string]*sidecarBuilder
	colStats     map[string]*columnStatsTracker

	rowsInGroup int
	rowGroupID  int
	totalRows   int64
}

// NewArtifactWriter creates a writer for path using s, compressing with
// Zstd and dictionary-encoding Utf8 columns (set up in buildParquetSchema).
// indexedColumns names every column that gets a sidecar (timestamp plus the
// stream's custom partition fields).
func NewArtifactWriter(path string, s model.Schema, indexedColumns []string) (*ArtifactWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("convert: failed to create artifact %s: %w", path, err)
	}

	schema := buildParquetSchema("record", s)
	writer := parquet.NewWriter(f, schema, parquet.Compression(&parquet.Zstd))

	w := &ArtifactWriter{
		path:        path,
		file:        f,
		schema:      schema,
		writer:      writer,
		fields:      s.Fields,
		indexedCols: make(map[string]*sidecarBuilder),
		colStats:    make(map[string]*columnStatsTracker),
	}

	for _, f := range s.Fields {
		w.colStats[f.Name] = newColumnStatsTracker(f.Name)
	}
	for _, col := range indexedColumns {
		w.indexedCols[col] = newSidecarBuilder(col)
	}

	return w, nil
}

// WriteRow writes one decoded JSON record (already validated against s) to
// the artifact, updating stats and sidecar entries, and rotates the row
// group once RowGroupTargetSize is reached.
func (w *ArtifactWriter) WriteRow(row map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := make(map[string]interface{}, len(row))
	for k, v := range row {
		rec[k] = v
	}
	for _, f := range w.fields {
		if s, ok := row[f.Name].(string); ok && f.Type == model.TypeTimestamp {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return fmt.Errorf("convert: invalid timestamp in column %s: %w", f.Name, err)
			}
			rec[f.Name] = ts.UnixMicro()
		}
	}

	if err := w.writer.Write(rec); err != nil {
		return fmt.Errorf("convert: failed to write row: %w", err)
	}

	for _, f := range w.fields {
		w.colStats[f.Name].Observe(row[f.Name])
	}
	for col, sc := range w.indexedCols {
		if v, ok := row[col]; ok && v != nil {
			sc.Add(fmt.Sprintf("%v", v), w.rowGroupID)
		}
	}

	w.totalRows++
	w.rowsInGroup++
	if w.rowsInGroup >= RowGroupTargetSize {
		if err := w.writer.Flush(); err != nil {
			return fmt.Errorf("convert: failed to flush row group: %w", err)
		}
		w.rowsInGroup = 0
		w.rowGroupID++
	}

	return nil
}

// Stats returns the finalized per-column statistics. Call after Close.
func (w *ArtifactWriter) Stats() []model.ColumnStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]model.ColumnStats, 0, len(w.colStats))
	for _, f := range w.fields {
		out = append(out, w.colStats[f.Name].Finalize())
	}
	return out
}

// RowCount returns the number of rows written so far.
func (w *ArtifactWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalRows
}

// Close flushes and closes the underlying Parquet writer and file, then
// writes every indexed column's entries into the single index sidecar at
// SidecarPath -- the pair the caller uploads alongside the artifact.
func (w *ArtifactWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("convert: failed to close writer: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	if len(w.indexedCols) == 0 {
		return nil
	}
	return flushSidecar(w.SidecarPath(), w.indexedCols)
}

// Path returns the artifact's local staging path.
func (w *ArtifactWriter) Path() string { return w.path }

// SidecarPath returns the local path of the artifact's single index
// sidecar, written by Close.
func (w *ArtifactWriter) SidecarPath() string { return w.path + ".idx.db" }
