package ulid

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_ULIDTimeOrdering checks that ULIDs minted for later
// timestamps always sort lexicographically after ULIDs minted for earlier
// ones, and that a burst generated within the same millisecond still comes
// out strictly increasing.
func TestProperty_ULIDTimeOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ULIDs generated at later times are lexicographically greater", prop.ForAll(
		func(t1Ms, t2Ms int64) bool {
			if t1Ms >= t2Ms {
				t1Ms, t2Ms = t2Ms, t1Ms+1
			}

			g := NewGenerator()
			id1, err := g.GenerateWithTime(time.UnixMilli(t1Ms))
			if err != nil {
				return false
			}
			id2, err := g.GenerateWithTime(time.UnixMilli(t2Ms))
			if err != nil {
				return false
			}

			return id1.Compare(id2) < 0
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.Int64Range(1000000000000, 2000000000000),
	))

	properties.Property("ULIDs within the same millisecond are monotonically increasing", prop.ForAll(
		func(timestampMs int64, count int) bool {
			if count < 2 {
				count = 2
			}
			if count > 1000 {
				count = 1000
			}

			g := NewGenerator()
			ts := time.UnixMilli(timestampMs)

			var prev ULID
			for i := 0; i < count; i++ {
				curr, err := g.GenerateWithTime(ts)
				if err != nil {
					return false
				}
				if i > 0 && prev.Compare(curr) >= 0 {
					return false
				}
				prev = curr
			}
			return true
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.IntRange(2, 100),
	))

	properties.Property("ULID timestamp extraction matches generation time", prop.ForAll(
		func(timestampMs int64) bool {
			g := NewGenerator()
			id, err := g.GenerateWithTime(time.UnixMilli(timestampMs))
			if err != nil {
				return false
			}
			return id.Timestamp() == uint64(timestampMs)
		},
		gen.Int64Range(0, 281474976710655),
	))

	properties.Property("round-tripping through String and Parse preserves the ULID", prop.ForAll(
		func(timestampMs int64) bool {
			g := NewGenerator()
			id, err := g.GenerateWithTime(time.UnixMilli(timestampMs))
			if err != nil {
				return false
			}
			parsed, err := Parse(id.String())
			if err != nil {
				return false
			}
			return id.Compare(parsed) == 0
		},
		gen.Int64Range(0, 281474976710655),
	))

	properties.TestingRun(t)
}
