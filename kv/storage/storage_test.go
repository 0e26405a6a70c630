package storage

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
	. "github.com/pingcap/check"
)

func TestT(t *testing.T) {
	TestingT(t)
}

var (
	_ = Suite(&testStorageSuite{newStorage: func(c *C) (Storage, func()) {
		return NewMemStorage(), func() {}
	}})
	_ = Suite(&testStorageSuite{newStorage: func(c *C) (Storage, func()) {
		dir, err := ioutil.TempDir("", "conflictkv-badger")
		c.Assert(err, IsNil)
		s, err := NewBadgerStorage(BadgerOptions{Dir: dir})
		c.Assert(err, IsNil)
		return s, func() {
			c.Assert(s.Close(), IsNil)
			os.RemoveAll(dir)
		}
	}})
)

type testStorageSuite struct {
	newStorage func(c *C) (Storage, func())
}

func put(key, value string) Modify {
	return Modify{Key: []byte(key), Value: []byte(value)}
}

func del(key string) Modify {
	return Modify{Key: []byte(key), Delete: true}
}

func (s *testStorageSuite) TestGetVersions(c *C) {
	store, cleanup := s.newStorage(c)
	defer cleanup()

	c.Assert(store.Write(10, []Modify{put("a", "a10"), put("b", "b10")}), IsNil)
	c.Assert(store.Write(20, []Modify{put("a", "a20"), del("b")}), IsNil)

	cases := []struct {
		version uint64
		key     string
		value   []byte
	}{
		{5, "a", nil},
		{10, "a", []byte("a10")},
		{15, "a", []byte("a10")},
		{20, "a", []byte("a20")},
		{MaxVersion, "a", []byte("a20")},
		{10, "b", []byte("b10")},
		{20, "b", nil},
		{20, "c", nil},
	}
	for _, tc := range cases {
		value, err := store.Reader(tc.version).Get([]byte(tc.key))
		c.Assert(err, IsNil)
		c.Assert(value, DeepEquals, tc.value, Commentf("key %s at %d", tc.key, tc.version))
	}
}

func (s *testStorageSuite) TestScan(c *C) {
	store, cleanup := s.newStorage(c)
	defer cleanup()

	c.Assert(store.Write(1, []Modify{put("k1", "1"), put("k2", "1"), put("k3", "1"), put("k4", "1")}), IsNil)
	c.Assert(store.Write(2, []Modify{put("k2", "2"), del("k3")}), IsNil)
	c.Assert(store.Write(3, []Modify{put("k5", "3")}), IsNil)

	all := keyrange.KeyRange{Start: []byte("k"), End: []byte("l")}
	pairs, err := store.Reader(2).Scan(all, 0)
	c.Assert(err, IsNil)
	c.Assert(pairs, DeepEquals, []KV{
		{Key: []byte("k1"), Value: []byte("1")},
		{Key: []byte("k2"), Value: []byte("2")},
		{Key: []byte("k4"), Value: []byte("1")},
	})

	pairs, err = store.Reader(1).Scan(keyrange.KeyRange{Start: []byte("k2"), End: []byte("k4")}, 0)
	c.Assert(err, IsNil)
	c.Assert(pairs, HasLen, 2)
	c.Assert(string(pairs[1].Key), Equals, "k3")

	pairs, err = store.Reader(MaxVersion).Scan(all, 2)
	c.Assert(err, IsNil)
	c.Assert(pairs, HasLen, 2)
	c.Assert(string(pairs[0].Key), Equals, "k1")
	c.Assert(string(pairs[1].Value), Equals, "2")
}

func (s *testStorageSuite) TestEmptyScan(c *C) {
	store, cleanup := s.newStorage(c)
	defer cleanup()

	pairs, err := store.Reader(MaxVersion).Scan(keyrange.KeyRange{Start: []byte("a"), End: []byte("z")}, 0)
	c.Assert(err, IsNil)
	c.Assert(pairs, HasLen, 0)
}
