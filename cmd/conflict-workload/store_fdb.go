//go:build foundationdb
// +build foundationdb

package main

import (
	"github.com/pingcap-incubator/conflictkv/config"
	"github.com/pingcap-incubator/conflictkv/kv/fdbstore"
)

type fdbDatabase struct {
	*fdbstore.DB
}

// Close is a no-op, the fdb client keeps its network thread for the life of the process.
func (fdbDatabase) Close() error {
	return nil
}

func openFoundationDB(cfg *config.Store) (database, error) {
	db, err := fdbstore.Open(cfg.ClusterFile, cfg.APIVersion)
	if err != nil {
		return nil, err
	}
	return fdbDatabase{db}, nil
}
