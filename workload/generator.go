package workload

import (
	"math/rand"

	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
)

// RangeGenerator draws random non-empty conflict ranges over a KeySpace. It is not safe for concurrent use.
type RangeGenerator struct {
	ks  KeySpace
	rnd *rand.Rand
}

func NewRangeGenerator(ks KeySpace, rnd *rand.Rand) *RangeGenerator {
	return &RangeGenerator{ks: ks, rnd: rnd}
}

// Range returns [KeyForIndex(start), KeyForIndex(end)) with start in [0, NodeCount) and end in
// [start+1, NodeCount].
func (g *RangeGenerator) Range() keyrange.KeyRange {
	n := g.ks.NodeCount
	start := g.rnd.Intn(n)
	end := start + 1 + g.rnd.Intn(n-start)
	return keyrange.KeyRange{Start: g.ks.KeyForIndex(start), End: g.ks.KeyForIndex(end)}
}

// Ranges returns at least one range. The count is geometrically distributed with the given mean: after every
// range another one follows with probability (mean-1)/mean.
func (g *RangeGenerator) Ranges(mean int) []keyrange.KeyRange {
	if mean < 1 {
		mean = 1
	}
	more := float64(mean-1) / float64(mean)
	ranges := []keyrange.KeyRange{g.Range()}
	for g.rnd.Float64() < more {
		ranges = append(ranges, g.Range())
	}
	return ranges
}
