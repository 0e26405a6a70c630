package storage

import (
	"bytes"
	"math"

	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
	"github.com/pingcap-incubator/conflictkv/kv/util/codec"
	"github.com/pingcap/errors"
)

// Storage is a multi-version key/value engine. Every write lands at an explicit version and readers observe the
// newest value at or below their version. Storage implementations must be safe for concurrent use.
type Storage interface {
	// Write applies batch atomically at version.
	Write(version uint64, batch []Modify) error
	Reader(version uint64) Reader
	Close() error
}

// Reader is a consistent view of a Storage at a fixed version.
type Reader interface {
	// Get returns the value of key, or nil if the key does not exist at the reader's version.
	Get(key []byte) ([]byte, error)
	// Scan returns up to limit live pairs in r in key order. A limit <= 0 means no limit.
	Scan(r keyrange.KeyRange, limit int) ([]KV, error)
}

// Modify is a single put or delete of a user key.
type Modify struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// KV is a user key and its value.
type KV struct {
	Key   []byte
	Value []byte
}

// Values are stored with a one byte tag so deletes can shadow older puts.
const (
	tagPut    byte = 'P'
	tagDelete byte = 'D'
)

// MaxVersion reads the newest data.
const MaxVersion = uint64(math.MaxUint64)

func encodeValue(m Modify) []byte {
	if m.Delete {
		return []byte{tagDelete}
	}
	value := make([]byte, 0, len(m.Value)+1)
	value = append(value, tagPut)
	return append(value, m.Value...)
}

func decodeValue(raw []byte) (value []byte, deleted bool, err error) {
	if len(raw) == 0 {
		return nil, false, errors.New("empty stored value")
	}
	switch raw[0] {
	case tagPut:
		return raw[1:], false, nil
	case tagDelete:
		return nil, true, nil
	}
	return nil, false, errors.Errorf("unknown value tag %q", raw[0])
}

// ascender walks encoded entries in order starting at the first key >= from until fn returns false. The key and
// value passed to fn are only valid during the call.
type ascender interface {
	ascend(from []byte, fn func(key, value []byte) (bool, error)) error
}

// mvccReader implements Reader on top of any ascender.
type mvccReader struct {
	engine  ascender
	version uint64
}

func (r *mvccReader) Get(key []byte) ([]byte, error) {
	var result []byte
	err := r.engine.ascend(codec.EncodeKey(key, r.version), func(encoded, raw []byte) (bool, error) {
		userKey, _, err := codec.DecodeKey(encoded)
		if err != nil {
			return false, err
		}
		if !bytes.Equal(userKey, key) {
			return false, nil
		}
		value, deleted, err := decodeValue(raw)
		if err != nil {
			return false, err
		}
		if !deleted {
			result = append([]byte{}, value...)
		}
		return false, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return result, nil
}

func (r *mvccReader) Scan(kr keyrange.KeyRange, limit int) ([]KV, error) {
	var (
		pairs   []KV
		lastKey []byte
		seen    bool
	)
	// EncodeBytes(start) is a strict prefix of every versioned entry of start, so it sorts before all of them.
	err := r.engine.ascend(codec.EncodeBytes(kr.Start), func(encoded, raw []byte) (bool, error) {
		userKey, version, err := codec.DecodeKey(encoded)
		if err != nil {
			return false, err
		}
		if bytes.Compare(userKey, kr.End) >= 0 {
			return false, nil
		}
		if version > r.version || (seen && bytes.Equal(userKey, lastKey)) {
			return true, nil
		}
		lastKey, seen = userKey, true
		value, deleted, err := decodeValue(raw)
		if err != nil {
			return false, err
		}
		if deleted {
			return true, nil
		}
		pairs = append(pairs, KV{Key: userKey, Value: append([]byte{}, value...)})
		return limit <= 0 || len(pairs) < limit, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return pairs, nil
}
