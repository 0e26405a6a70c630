package storage

import (
	"os"

	"github.com/coocood/badger"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/conflictkv/kv/util/codec"
	"github.com/pingcap/errors"
)

// BadgerOptions configures a BadgerStorage.
type BadgerOptions struct {
	Dir              string
	MaxTableSize     int64
	ValueLogFileSize int64
	SyncWrites       bool
}

// BadgerStorage is a Storage persisted in a badger DB.
type BadgerStorage struct {
	db  *badger.DB
	dir string
}

// NewBadgerStorage opens (or creates) a badger DB in opts.Dir.
func NewBadgerStorage(opts BadgerOptions) (*BadgerStorage, error) {
	if err := os.MkdirAll(opts.Dir, os.ModePerm); err != nil {
		return nil, errors.Trace(err)
	}
	dbOpts := badger.DefaultOptions
	dbOpts.Dir = opts.Dir
	dbOpts.ValueDir = opts.Dir
	dbOpts.SyncWrites = opts.SyncWrites
	if opts.MaxTableSize > 0 {
		dbOpts.MaxTableSize = opts.MaxTableSize
	}
	if opts.ValueLogFileSize > 0 {
		dbOpts.ValueLogFileSize = opts.ValueLogFileSize
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, errors.Annotatef(err, "open badger at %s", opts.Dir)
	}
	log.Infof("badger storage opened at %s", opts.Dir)
	return &BadgerStorage{db: db, dir: opts.Dir}, nil
}

func (s *BadgerStorage) Write(version uint64, batch []Modify) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, m := range batch {
			if err := txn.Set(codec.EncodeKey(m.Key, version), encodeValue(m)); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Trace(err)
}

func (s *BadgerStorage) Reader(version uint64) Reader {
	return &mvccReader{engine: s, version: version}
}

func (s *BadgerStorage) Close() error {
	return errors.Trace(s.db.Close())
}

// Destroy closes the DB and removes its directory.
func (s *BadgerStorage) Destroy() error {
	if err := s.Close(); err != nil {
		return err
	}
	return errors.Trace(os.RemoveAll(s.dir))
}

func (s *BadgerStorage) ascend(from []byte, fn func(key, value []byte) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(from); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.Value()
			if err != nil {
				return errors.WithStack(err)
			}
			cont, err := fn(item.Key(), val)
			if err != nil || !cont {
				return err
			}
		}
		return nil
	})
}
