package queryengine

import (
	"testing"

	"github.com/stratumlake/stratum/internal/query/parser"
)

func selectOf(t *testing.T, sql string) *parser.SelectStatement {
	t.Helper()
	stmt, err := parser.Parse(sql)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", sql, err)
	}
	sel, ok := stmt.(*parser.SelectStatement)
	if !ok {
		t.Fatalf("Parse(%q) did not return a SelectStatement", sql)
	}
	return sel
}

func TestProject_StarExpandsToUnionOfKeys(t *testing.T) {
	sel := selectOf(t, "SELECT * FROM app")
	rows := []map[string]interface{}{
		{"a": int64(1), "b": "x"},
		{"a": int64(2), "c": "y"},
	}

	cols, projected := project(sel.Columns, rows)
	wantCols := []string{"a", "b", "c"}
	if len(cols) != len(wantCols) {
		t.Fatalf("expected columns %v, got %v", wantCols, cols)
	}
	for i, c := range wantCols {
		if cols[i] != c {
			t.Errorf("column %d: got %q, want %q", i, cols[i], c)
		}
	}
	if len(projected) != 2 {
		t.Fatalf("expected 2 projected rows, got %d", len(projected))
	}
	// row 0 has no "c", so it should project as nil.
	if projected[0][2] != nil {
		t.Errorf("expected nil for missing column c on row 0, got %v", projected[0][2])
	}
}

func TestProject_ExplicitColumnsAndAlias(t *testing.T) {
	sel := selectOf(t, "SELECT a, b AS bee FROM app")
	rows := []map[string]interface{}{
		{"a": int64(1), "b": "x"},
	}

	cols, projected := project(sel.Columns, rows)
	if len(cols) != 2 || cols[0] != "a" || cols[1] != "bee" {
		t.Fatalf("expected columns [a bee], got %v", cols)
	}
	if projected[0][0] != int64(1) || projected[0][1] != "x" {
		t.Errorf("unexpected projected row: %v", projected[0])
	}
}

func TestIsCountStar(t *testing.T) {
	cases := []struct {
		sql  string
		want bool
	}{
		{"SELECT COUNT(*) FROM app", true},
		{"SELECT COUNT(status) FROM app", true},
		{"SELECT a, b FROM app", false},
		{"SELECT * FROM app", false},
	}
	for _, tc := range cases {
		sel := selectOf(t, tc.sql)
		got := isCountStar(sel.Columns)
		if got != tc.want {
			t.Errorf("%s: isCountStar = %v, want %v", tc.sql, got, tc.want)
		}
	}
}

func TestSortRows_AscAndDesc(t *testing.T) {
	sel := selectOf(t, "SELECT a FROM app ORDER BY a")
	cols := []string{"a"}
	rows := [][]interface{}{
		{int64(3)},
		{int64(1)},
		{int64(2)},
	}
	sortRows(cols, rows, sel.OrderBy[0])
	want := []int64{1, 2, 3}
	for i, w := range want {
		if rows[i][0] != w {
			t.Errorf("ascending sort: row %d = %v, want %v", i, rows[i][0], w)
		}
	}

	selDesc := selectOf(t, "SELECT a FROM app ORDER BY a DESC")
	rowsDesc := [][]interface{}{
		{int64(3)},
		{int64(1)},
		{int64(2)},
	}
	sortRows(cols, rowsDesc, selDesc.OrderBy[0])
	wantDesc := []int64{3, 2, 1}
	for i, w := range wantDesc {
		if rowsDesc[i][0] != w {
			t.Errorf("descending sort: row %d = %v, want %v", i, rowsDesc[i][0], w)
		}
	}
}

func TestUnionKeys_SortedAndDeduplicated(t *testing.T) {
	rows := []map[string]interface{}{
		{"b": 1, "a": 2},
		{"a": 3, "c": 4},
	}
	keys := unionKeys(rows)
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i, w := range want {
		if keys[i] != w {
			t.Errorf("key %d: got %q, want %q", i, keys[i], w)
		}
	}
}
