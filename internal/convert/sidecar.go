package convert

import (
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

// sidecarBuilder accumulates (value, row_group_id) pairs for one indexed
// column across an artifact's row groups. All of an artifact's
// sidecarBuilders are flushed together by flushSidecar into the single
// index sidecar file that pairs one-to-one with the artifact.
type sidecarBuilder struct {
	column string
	rows   []sidecarRow
}

type sidecarRow struct {
	value      string
	rowGroupID int
}

func newSidecarBuilder(column string) *sidecarBuilder {
	return &sidecarBuilder{column: column}
}

func (b *sidecarBuilder) Add(value string, rowGroupID int) {
	b.rows = append(b.rows, sidecarRow{value: value, rowGroupID: rowGroupID})
}

// flushSidecar writes every column's sorted (value, row_group_id) list
// into one fresh SQLite file at path, keyed by column name so a reader
// can look up a single indexed column without scanning the others.
func flushSidecar(path string, cols map[string]*sidecarBuilder) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("convert: failed to open sidecar %s: %w", path, err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS col_index (column_name TEXT, value TEXT, row_group_id INTEGER)`); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO col_index (column_name, value, row_group_id) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}

	for _, col := range sortedColumnNames(cols) {
		b := cols[col]
		sort.Slice(b.rows, func(i, j int) bool { return b.rows[i].value < b.rows[j].value })
		for _, r := range b.rows {
			if _, err := stmt.Exec(col, r.value, r.rowGroupID); err != nil {
				stmt.Close()
				tx.Rollback()
				return err
			}
		}
	}
	stmt.Close()

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_col_index_lookup ON col_index(column_name, value)`); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func sortedColumnNames(cols map[string]*sidecarBuilder) []string {
	names := make([]string, 0, len(cols))
	for col := range cols {
		names = append(names, col)
	}
	sort.Strings(names)
	return names
}
