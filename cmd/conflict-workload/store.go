package main

import (
	"github.com/pingcap-incubator/conflictkv/config"
	"github.com/pingcap-incubator/conflictkv/kv/storage"
	"github.com/pingcap-incubator/conflictkv/kv/transaction"
	"github.com/pingcap-incubator/conflictkv/kv/txnapi"
	"github.com/pingcap/errors"
)

// database is a txnapi.Database the command closes on exit.
type database interface {
	txnapi.Database
	Close() error
}

func openDatabase(cfg *config.Store) (database, error) {
	opts := transaction.Options{MaxReadVersionLag: cfg.MaxReadVersionLag}
	switch cfg.Engine {
	case config.EngineMemory:
		return transaction.Open(storage.NewMemStorage(), opts), nil
	case config.EngineBadger:
		maxTableSize, err := cfg.MaxTableSizeBytes()
		if err != nil {
			return nil, err
		}
		vlogSize, err := cfg.ValueLogFileSizeBytes()
		if err != nil {
			return nil, err
		}
		s, err := storage.NewBadgerStorage(storage.BadgerOptions{
			Dir:              cfg.DBPath,
			MaxTableSize:     maxTableSize,
			ValueLogFileSize: vlogSize,
			SyncWrites:       cfg.SyncWrites,
		})
		if err != nil {
			return nil, err
		}
		return transaction.Open(s, opts), nil
	case config.EngineFoundationDB:
		return openFoundationDB(cfg)
	}
	return nil, errors.Errorf("unknown engine %q", cfg.Engine)
}
