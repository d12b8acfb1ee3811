package queryengine

import (
	"sort"

	"github.com/stratumlake/stratum/internal/query/parser"
)

// isCountStar reports whether the column list is exactly COUNT(*) or
// COUNT(col), the only aggregate form this engine evaluates.
func isCountStar(columns []parser.SelectColumn) bool {
	if len(columns) != 1 {
		return false
	}
	agg, ok := columns[0].Expr.(*parser.AggregateExpr)
	if !ok {
		return false
	}
	return agg.Function == "COUNT" || agg.Function == "count"
}

// project resolves the output column names and materializes each row's
// projected values, expanding a bare '*' to every key present in the
// first row (stream schemas are not fixed at query time, so the column
// set is derived from the data rather than a catalog lookup here).
func project(columns []parser.SelectColumn, rows []map[string]interface{}) ([]string, [][]interface{}) {
	names := columnNames(columns, rows)
	keys := append([]string(nil), names...)
	for i, col := range columns {
		if _, star := col.Expr.(*parser.StarExpr); star {
			keys = names
			break
		}
		if ref, ok := col.Expr.(*parser.ColumnRef); ok && i < len(keys) {
			keys[i] = ref.Column
		}
	}

	out := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		values := make([]interface{}, len(names))
		for i := range names {
			values[i] = row[keys[i]]
		}
		out = append(out, values)
	}
	return names, out
}

func columnNames(columns []parser.SelectColumn, rows []map[string]interface{}) []string {
	for _, col := range columns {
		if _, ok := col.Expr.(*parser.StarExpr); ok {
			return unionKeys(rows)
		}
	}

	names := make([]string, 0, len(columns))
	for _, col := range columns {
		if col.Alias != "" {
			names = append(names, col.Alias)
			continue
		}
		if ref, ok := col.Expr.(*parser.ColumnRef); ok {
			names = append(names, ref.Column)
			continue
		}
		names = append(names, col.Expr.String())
	}
	return names
}

func unionKeys(rows []map[string]interface{}) []string {
	seen := make(map[string]bool)
	var names []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}

func sortRows(cols []string, rows [][]interface{}, order parser.OrderByClause) {
	idx := orderColumnIndex(cols, order)
	if idx < 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		less := lessValue(rows[i][idx], rows[j][idx])
		if order.Desc {
			return !less && !equalValue(rows[i][idx], rows[j][idx])
		}
		return less
	})
}

func orderColumnIndex(cols []string, order parser.OrderByClause) int {
	ref, ok := order.Expr.(*parser.ColumnRef)
	if !ok {
		return -1
	}
	for i, c := range cols {
		if c == ref.Column {
			return i
		}
	}
	return -1
}

func lessValue(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af < bf
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	return false
}

func equalValue(a, b interface{}) bool {
	return valuesEqual(a, b)
}
