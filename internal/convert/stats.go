package convert

import (
	"fmt"
	"math"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/stratumlake/stratum/internal/model"
)

// bloomBits is the fixed filter size used for the cheap distinct-value
// cardinality approximator: we only need a rough estimate, not a point
// lookup, so one filter per column with a fixed bit count keeps this O(1)
// memory per artifact.
const bloomBits = 1 << 16 // 64 KiB per column (one bool per bit)

// columnStatsTracker accumulates min/max/null-count/distinct-estimate for a
// single column across every row-group of one artifact.
type columnStatsTracker struct {
	mu        sync.Mutex
	name      string
	nullCount int64
	min       string
	max       string
	seen      bool
	bits      []bool
	setCount  int
}

func newColumnStatsTracker(name string) *columnStatsTracker {
	return &columnStatsTracker{name: name, bits: make([]bool, bloomBits)}
}

// Observe records one value (its string rendering) for min/max and the
// bloom-filter distinct estimate. A nil value bumps the null count only.
func (t *columnStatsTracker) Observe(value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if value == nil {
		t.nullCount++
		return
	}

	s := fmt.Sprintf("%v", value)
	if !t.seen || s < t.min {
		t.min = s
	}
	if !t.seen || s > t.max {
		t.max = s
	}
	t.seen = true

	h := murmur3.Sum64([]byte(s))
	idx := h % uint64(bloomBits)
	if !t.bits[idx] {
		t.bits[idx] = true
		t.setCount++
	}
}

// Finalize returns the accumulated ColumnStats. DistinctEstimate uses the
// standard bloom-filter cardinality approximation
// n ≈ -m * ln(1 - k/m) for a single-hash filter (k = bits set, m = bloomBits).
func (t *columnStatsTracker) Finalize() model.ColumnStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return model.ColumnStats{
		Name:             t.name,
		NullCount:        t.nullCount,
		DistinctEstimate: estimateDistinct(t.setCount),
		MinValue:         t.min,
		MaxValue:         t.max,
	}
}

func estimateDistinct(setCount int) int64 {
	if setCount <= 0 {
		return 0
	}
	if setCount >= bloomBits {
		return bloomBits // filter saturated; this is a floor, not exact
	}
	m := float64(bloomBits)
	k := float64(setCount)
	return int64(-m * math.Log1p(-k/m))
}
