package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/pingcap-incubator/conflictkv/kv/util/codec"
)

const memBTreeDegree = 32

// MemStorage is a Storage backed by an in-memory btree. Nothing is persisted. It is used by tests and by the
// workload when no engine directory is configured.
type MemStorage struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

func NewMemStorage() *MemStorage {
	return &MemStorage{tree: btree.New(memBTreeDegree)}
}

func (s *MemStorage) Write(version uint64, batch []Modify) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range batch {
		s.tree.ReplaceOrInsert(memItem{key: codec.EncodeKey(m.Key, version), value: encodeValue(m)})
	}
	return nil
}

func (s *MemStorage) Reader(version uint64) Reader {
	return &mvccReader{engine: s, version: version}
}

func (s *MemStorage) Close() error {
	return nil
}

// Len returns the number of stored versions, including tombstones.
func (s *MemStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

func (s *MemStorage) ascend(from []byte, fn func(key, value []byte) (bool, error)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var err error
	s.tree.AscendGreaterOrEqual(memItem{key: from}, func(i btree.Item) bool {
		item := i.(memItem)
		var cont bool
		cont, err = fn(item.key, item.value)
		return err == nil && cont
	})
	return err
}

type memItem struct {
	key   []byte
	value []byte
}

func (it memItem) Less(than btree.Item) bool {
	return bytes.Compare(it.key, than.(memItem).key) < 0
}
