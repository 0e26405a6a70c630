// Package keyrange implements half-open key intervals used for conflict ranges.
package keyrange

import (
	"bytes"
	"fmt"
	"sort"
)

// KeyRange is the half-open interval [Start, End) over byte keys.
type KeyRange struct {
	Start []byte
	End   []byte
}

// New copies start and end into a new KeyRange.
func New(start, end []byte) KeyRange {
	return KeyRange{Start: safeCopy(start), End: safeCopy(end)}
}

// Empty returns true if the range holds no keys.
func (r KeyRange) Empty() bool {
	return bytes.Compare(r.Start, r.End) >= 0
}

// ContainsKey returns true if key is inside the range.
func (r KeyRange) ContainsKey(key []byte) bool {
	return bytes.Compare(key, r.Start) >= 0 && bytes.Compare(key, r.End) < 0
}

// Contains returns true if other lies fully inside r.
func (r KeyRange) Contains(other KeyRange) bool {
	return bytes.Compare(r.Start, other.Start) <= 0 && bytes.Compare(other.End, r.End) <= 0
}

// Intersects returns true if r and other share at least one key.
func (r KeyRange) Intersects(other KeyRange) bool {
	return bytes.Compare(r.Start, other.End) < 0 && bytes.Compare(other.Start, r.End) < 0
}

// Equal compares both bounds.
func (r KeyRange) Equal(other KeyRange) bool {
	return bytes.Equal(r.Start, other.Start) && bytes.Equal(r.End, other.End)
}

func (r KeyRange) String() string {
	return fmt.Sprintf("[%q, %q)", r.Start, r.End)
}

// KeyAfter returns the smallest key strictly greater than key.
func KeyAfter(key []byte) []byte {
	next := make([]byte, len(key)+1)
	copy(next, key)
	return next
}

// Coalesce sorts ranges and merges the ones that overlap or touch. Empty ranges are dropped.
// The input slice is not modified.
func Coalesce(ranges []KeyRange) []KeyRange {
	sorted := make([]KeyRange, 0, len(ranges))
	for _, r := range ranges {
		if !r.Empty() {
			sorted = append(sorted, r)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Start, sorted[j].Start) < 0
	})
	merged := []KeyRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if bytes.Compare(r.Start, last.End) <= 0 {
			if bytes.Compare(r.End, last.End) > 0 {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

func safeCopy(b []byte) []byte {
	return append([]byte(nil), b...)
}
