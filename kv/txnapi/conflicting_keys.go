package txnapi

import (
	"bytes"

	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
	"github.com/pingcap/errors"
)

var (
	// SpecialKeySpace holds keys which are computed by the client instead of being read from storage.
	SpecialKeySpace = keyrange.KeyRange{Start: []byte("\xff\xff"), End: []byte("\xff\xff\xff")}
	// ConflictingKeysPrefix is where a failed transaction publishes its conflicting ranges. The prefix itself
	// always maps to ConflictingKeysFalse, then every range [b, e) maps prefix+b to ConflictingKeysTrue and
	// prefix+e to ConflictingKeysFalse.
	ConflictingKeysPrefix = []byte("\xff\xff/transaction/conflicting_keys/")
	ConflictingKeysTrue   = []byte("1")
	ConflictingKeysFalse  = []byte("0")
)

// ConflictingKeysRange returns the range a reader scans to get the reported ranges, skipping the prefix key.
func ConflictingKeysRange() keyrange.KeyRange {
	end := append(append([]byte{}, ConflictingKeysPrefix...), 0xff, 0xff)
	return keyrange.KeyRange{Start: keyrange.KeyAfter(ConflictingKeysPrefix), End: end}
}

// EncodeConflictingKeys coalesces ranges and lays them out as special key space pairs.
func EncodeConflictingKeys(ranges []keyrange.KeyRange) []KeyValue {
	merged := keyrange.Coalesce(ranges)
	kvs := make([]KeyValue, 0, 2*len(merged)+1)
	if len(merged) == 0 || len(merged[0].Start) > 0 {
		kvs = append(kvs, KeyValue{Key: withPrefix(nil), Value: ConflictingKeysFalse})
	}
	for _, r := range merged {
		kvs = append(kvs,
			KeyValue{Key: withPrefix(r.Start), Value: ConflictingKeysTrue},
			KeyValue{Key: withPrefix(r.End), Value: ConflictingKeysFalse})
	}
	return kvs
}

// DecodeConflictingKeys turns the pairs read from ConflictingKeysRange back into key ranges. It fails if the set
// is empty or is not a sequence of (true, false) boundary pairs under the prefix.
func DecodeConflictingKeys(kvs []KeyValue) ([]keyrange.KeyRange, error) {
	if len(kvs) == 0 {
		return nil, errors.New("no conflicting keys reported")
	}
	if len(kvs)%2 != 0 {
		return nil, errors.Errorf("odd number of conflicting key boundaries: %d", len(kvs))
	}
	ranges := make([]keyrange.KeyRange, 0, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		begin, end := kvs[i], kvs[i+1]
		if !bytes.Equal(begin.Value, ConflictingKeysTrue) {
			return nil, errors.Errorf("boundary %d %q has value %q, want %q", i, begin.Key, begin.Value, ConflictingKeysTrue)
		}
		if !bytes.Equal(end.Value, ConflictingKeysFalse) {
			return nil, errors.Errorf("boundary %d %q has value %q, want %q", i+1, end.Key, end.Value, ConflictingKeysFalse)
		}
		if !bytes.HasPrefix(begin.Key, ConflictingKeysPrefix) || !bytes.HasPrefix(end.Key, ConflictingKeysPrefix) {
			return nil, errors.Errorf("boundary pair %q %q outside %q", begin.Key, end.Key, ConflictingKeysPrefix)
		}
		r := keyrange.New(begin.Key[len(ConflictingKeysPrefix):], end.Key[len(ConflictingKeysPrefix):])
		if r.Empty() {
			return nil, errors.Errorf("empty conflicting range %v", r)
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// SelectRange returns up to limit pairs of sorted kvs whose key lies in r. A limit <= 0 means no limit.
func SelectRange(kvs []KeyValue, r keyrange.KeyRange, limit int) []KeyValue {
	var out []KeyValue
	for _, kv := range kvs {
		if !r.ContainsKey(kv.Key) {
			continue
		}
		out = append(out, kv)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func withPrefix(key []byte) []byte {
	out := make([]byte, 0, len(ConflictingKeysPrefix)+len(key))
	out = append(out, ConflictingKeysPrefix...)
	return append(out, key...)
}
