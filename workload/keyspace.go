package workload

import (
	"fmt"
	"math"

	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
)

// minKeyDigits is enough hex digits for the 64 bit pattern of a key index.
const minKeyDigits = 16

// KeySpace maps node indices in [0, NodeCount] to keys under Prefix. Keys are KeyBytes long when the prefix
// leaves room for at least minKeyDigits digits.
type KeySpace struct {
	Prefix    []byte
	KeyBytes  int
	NodeCount int
}

// NewKeySpace returns a KeySpace. nodeCount must be positive.
func NewKeySpace(prefix string, keyBytes, nodeCount int) KeySpace {
	return KeySpace{Prefix: []byte(prefix), KeyBytes: keyBytes, NodeCount: nodeCount}
}

// ForActor returns the sub key space owned by actor. Sub key spaces of different actors are disjoint.
func (ks KeySpace) ForActor(actor int) KeySpace {
	prefix := make([]byte, 0, len(ks.Prefix)+5)
	prefix = append(prefix, ks.Prefix...)
	prefix = append(prefix, fmt.Sprintf("%04x/", actor)...)
	return KeySpace{Prefix: prefix, KeyBytes: ks.KeyBytes, NodeCount: ks.NodeCount}
}

// KeyForIndex encodes n/NodeCount as zero padded hex of its float64 bits. Non-negative floats order the same as
// their bit patterns, so the mapping is strictly increasing in n.
func (ks KeySpace) KeyForIndex(n int) []byte {
	width := ks.KeyBytes - len(ks.Prefix)
	if width < minKeyDigits {
		width = minKeyDigits
	}
	p := float64(n) / float64(ks.NodeCount)
	key := make([]byte, 0, len(ks.Prefix)+width)
	key = append(key, ks.Prefix...)
	return append(key, fmt.Sprintf("%0*x", width, math.Float64bits(p))...)
}

// Bounds returns the range holding every generated key, KeyForIndex(NodeCount) included.
func (ks KeySpace) Bounds() keyrange.KeyRange {
	return keyrange.KeyRange{
		Start: ks.KeyForIndex(0),
		End:   keyrange.KeyAfter(ks.KeyForIndex(ks.NodeCount)),
	}
}
