// Package codec encodes versioned keys for the storage engines.
//
// A versioned key is the memcomparable encoding of the user key followed by the bitwise inverse of the version in
// big endian, so that keys sort by user key ascending and, for one user key, by version descending. A reader at
// version v seeks to EncodeKey(key, v) and the first entry it lands on with the same user key is the newest one
// visible at v.
package codec

import (
	"encoding/binary"

	"github.com/pingcap/errors"
)

const (
	encGroupSize = 8
	encMarker    = byte(0xFF)
	encPad       = byte(0x0)

	versionSize = 8
)

var pads = make([]byte, encGroupSize)

// EncodeKey encodes key and appends the inverted version.
func EncodeKey(key []byte, version uint64) []byte {
	return appendVersion(EncodeBytes(key), version)
}

// DecodeKey splits an encoded key into the user key and its version.
func DecodeKey(encoded []byte) ([]byte, uint64, error) {
	left, userKey, err := DecodeBytes(encoded)
	if err != nil {
		return nil, 0, err
	}
	if len(left) != versionSize {
		return nil, 0, errors.Errorf("invalid version suffix length %d", len(left))
	}
	return userKey, ^binary.BigEndian.Uint64(left), nil
}

// EncodeBytes encodes data into groups of 8 bytes followed by a marker byte, 0xFF minus the number of padding
// bytes in the group. The result compares the same way as the input under bytes.Compare.
//  []        -> [0, 0, 0, 0, 0, 0, 0, 0, 247]
//  [1, 2, 3] -> [1, 2, 3, 0, 0, 0, 0, 0, 250]
func EncodeBytes(data []byte) []byte {
	dLen := len(data)
	result := make([]byte, 0, (dLen/encGroupSize+1)*(encGroupSize+1)+versionSize)
	for idx := 0; idx <= dLen; idx += encGroupSize {
		remain := dLen - idx
		padCount := 0
		if remain >= encGroupSize {
			result = append(result, data[idx:idx+encGroupSize]...)
		} else {
			padCount = encGroupSize - remain
			result = append(result, data[idx:]...)
			result = append(result, pads[:padCount]...)
		}
		result = append(result, encMarker-byte(padCount))
	}
	return result
}

// DecodeBytes decodes a value produced by EncodeBytes and returns the remaining bytes and the decoded value.
func DecodeBytes(b []byte) ([]byte, []byte, error) {
	data := make([]byte, 0, len(b))
	for {
		if len(b) < encGroupSize+1 {
			return nil, nil, errors.New("insufficient bytes to decode value")
		}
		group := b[:encGroupSize]
		marker := b[encGroupSize]
		padCount := encMarker - marker
		if padCount > encGroupSize {
			return nil, nil, errors.Errorf("invalid marker byte, group bytes %q", b[:encGroupSize+1])
		}
		realGroupSize := encGroupSize - padCount
		data = append(data, group[:realGroupSize]...)
		b = b[encGroupSize+1:]
		if padCount == 0 {
			continue
		}
		for _, v := range group[realGroupSize:] {
			if v != encPad {
				return nil, nil, errors.Errorf("invalid padding byte, group bytes %q", group)
			}
		}
		return b, data, nil
	}
}

func appendVersion(encoded []byte, version uint64) []byte {
	var buf [versionSize]byte
	binary.BigEndian.PutUint64(buf[:], ^version)
	return append(encoded, buf[:]...)
}
