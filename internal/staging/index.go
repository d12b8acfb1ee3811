package staging

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Index is the node-local bookkeeping store for StagingFile lifecycle state,
// distinct from the canonical object-store manifest. It survives a restart
// so Recover can cross-check the directory scan against what this process
// last believed about each file, though the filename (and its state suffix)
// remains the source of truth on disk.
type Index struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenIndex opens (creating if absent) the SQLite staging index at dbPath.
func OpenIndex(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("staging: failed to open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	idx := &Index{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS staging_files (
	filename   TEXT PRIMARY KEY,
	stream     TEXT NOT NULL,
	minute     INTEGER NOT NULL,
	fingerprint INTEGER NOT NULL,
	state      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_staging_files_stream ON staging_files(stream);
`
	_, err := idx.db.Exec(schema)
	return err
}

// Upsert records the current state of a staging file by filename.
func (idx *Index) Upsert(filename, stream string, minute int64, fingerprint uint64, state string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec(`
		INSERT INTO staging_files (filename, stream, minute, fingerprint, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		filename, stream, minute, int64(fingerprint), state, time.Now().Unix())
	return err
}

// Remove deletes a filename's bookkeeping row, used once a file is tombstoned.
func (idx *Index) Remove(filename string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, err := idx.db.Exec(`DELETE FROM staging_files WHERE filename = ?`, filename)
	return err
}

// FileState is one row of staging file bookkeeping.
type FileState struct {
	Filename string
	Stream   string
	State    string
}

// ByState returns every recorded filename in the given state.
func (idx *Index) ByState(state string) ([]FileState, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	rows, err := idx.db.Query(`SELECT filename, stream, state FROM staging_files WHERE state = ?`, state)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FileState
	for rows.Next() {
		var fs FileState
		if err := rows.Scan(&fs.Filename, &fs.Stream, &fs.State); err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}
