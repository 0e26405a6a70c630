//go:build !foundationdb
// +build !foundationdb

package main

import (
	"github.com/pingcap-incubator/conflictkv/config"
	"github.com/pingcap/errors"
)

func openFoundationDB(cfg *config.Store) (database, error) {
	return nil, errors.New("built without foundationdb support, rebuild with -tags foundationdb")
}
