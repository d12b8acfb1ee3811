package queryengine

import (
	"fmt"

	"github.com/stratumlake/stratum/internal/model"
	"github.com/stratumlake/stratum/internal/query/parser"
)

// prunable extracts the WHERE clause's predicates and keeps only the ones
// min/max column stats can answer, so scanArtifacts can skip a whole
// artifact's read+decode when its stats rule out every row matching.
func prunable(where parser.Expression) []parser.Predicate {
	if where == nil {
		return nil
	}
	stmt := &parser.SelectStatement{Where: where}
	var out []parser.Predicate
	for _, p := range parser.ExtractPredicates(stmt) {
		if parser.CanUseMinMaxPruning(p) {
			out = append(out, p)
		}
	}
	return out
}

// canSkipArtifact reports whether entry's column stats prove no row can
// satisfy every predicate in predicates -- e.g. an equality predicate whose
// value falls outside [MinValue, MaxValue], or a range predicate disjoint
// from that interval. A missing or untracked column never rules an
// artifact out; pruning is a pure optimization, never a correctness gate.
func canSkipArtifact(entry model.ArtifactEntry, predicates []parser.Predicate) bool {
	for _, p := range predicates {
		stats, ok := colStatsFor(entry, p.Column)
		if !ok || stats.MinValue == "" && stats.MaxValue == "" {
			continue
		}
		if statsRuleOut(stats, p) {
			return true
		}
	}
	return false
}

func colStatsFor(entry model.ArtifactEntry, column string) (model.ColumnStats, bool) {
	for _, s := range entry.ColStats {
		if s.Name == column {
			return s, true
		}
	}
	return model.ColumnStats{}, false
}

// statsRuleOut compares p's value(s) against [stats.MinValue, stats.MaxValue]
// using the same %v-rendered lexicographic ordering the conversion engine
// used to compute those bounds (see columnStatsTracker.Observe).
func statsRuleOut(stats model.ColumnStats, p parser.Predicate) bool {
	switch p.Type {
	case parser.PredicateEquality:
		v := renderValue(p.Value)
		return v < stats.MinValue || v > stats.MaxValue
	case parser.PredicateRange:
		v := renderValue(p.Value)
		switch p.Operator {
		case "<":
			return v <= stats.MinValue
		case "<=":
			return v < stats.MinValue
		case ">":
			return v >= stats.MaxValue
		case ">=":
			return v > stats.MaxValue
		}
	case parser.PredicateBetween:
		lo, hi := renderValue(p.Low), renderValue(p.High)
		if p.Not {
			return false
		}
		return hi < stats.MinValue || lo > stats.MaxValue
	}
	return false
}

func renderValue(v interface{}) string {
	return fmt.Sprintf("%v", v)
}
