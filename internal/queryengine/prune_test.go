package queryengine

import (
	"testing"

	"github.com/stratumlake/stratum/internal/model"
)

func TestCanSkipArtifact_EqualityOutsideRange(t *testing.T) {
	entry := model.ArtifactEntry{ColStats: []model.ColumnStats{
		{Name: "status", MinValue: "200", MaxValue: "299"},
	}}
	where := whereOf(t, "SELECT * FROM app WHERE status = 404")

	if !canSkipArtifact(entry, prunable(where)) {
		t.Error("expected artifact to be skippable: equality value outside [min,max]")
	}
}

func TestCanSkipArtifact_EqualityInsideRange(t *testing.T) {
	entry := model.ArtifactEntry{ColStats: []model.ColumnStats{
		{Name: "status", MinValue: "200", MaxValue: "299"},
	}}
	where := whereOf(t, "SELECT * FROM app WHERE status = 250")

	if canSkipArtifact(entry, prunable(where)) {
		t.Error("expected artifact not to be skipped: equality value inside [min,max]")
	}
}

func TestCanSkipArtifact_RangeDisjoint(t *testing.T) {
	entry := model.ArtifactEntry{ColStats: []model.ColumnStats{
		{Name: "status", MinValue: "200", MaxValue: "299"},
	}}
	where := whereOf(t, "SELECT * FROM app WHERE status > 300")

	if !canSkipArtifact(entry, prunable(where)) {
		t.Error("expected artifact to be skippable: range predicate disjoint from [min,max]")
	}
}

func TestCanSkipArtifact_UnknownColumnNeverPrunes(t *testing.T) {
	entry := model.ArtifactEntry{ColStats: []model.ColumnStats{
		{Name: "other", MinValue: "a", MaxValue: "z"},
	}}
	where := whereOf(t, "SELECT * FROM app WHERE status = 404")

	if canSkipArtifact(entry, prunable(where)) {
		t.Error("expected no pruning when the predicate's column has no tracked stats")
	}
}

func TestPrunable_IgnoresNonPruningPredicates(t *testing.T) {
	where := whereOf(t, "SELECT * FROM app WHERE name LIKE 'a%'")
	if got := prunable(where); len(got) != 0 {
		t.Errorf("expected LIKE predicates to be excluded from pruning candidates, got %+v", got)
	}
}
