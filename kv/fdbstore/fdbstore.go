//go:build foundationdb
// +build foundationdb

// Package fdbstore runs the workload against a FoundationDB cluster. It needs the fdb_c client library and the
// foundationdb build tag.
package fdbstore

import (
	"context"

	"github.com/apple/foundationdb/bindings/go/src/fdb"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
	"github.com/pingcap-incubator/conflictkv/kv/txnapi"
	"github.com/pingcap/errors"
)

// DefaultAPIVersion is the oldest API version serving the conflicting keys special key space.
const DefaultAPIVersion = 630

// DB is a txnapi.Database backed by a FoundationDB cluster.
type DB struct {
	db fdb.Database
}

var _ txnapi.Database = (*DB)(nil)

// Open connects to the cluster described by clusterFile, or the default cluster file when it is empty. The API
// version is process wide and can only be selected once.
func Open(clusterFile string, apiVersion int) (*DB, error) {
	if apiVersion == 0 {
		apiVersion = DefaultAPIVersion
	}
	if err := fdb.APIVersion(apiVersion); err != nil {
		if v, gerr := fdb.GetAPIVersion(); gerr != nil || v != apiVersion {
			return nil, errors.Annotatef(err, "select fdb api version %d", apiVersion)
		}
	}
	db, err := fdb.OpenDatabase(clusterFile)
	if err != nil {
		return nil, errors.Annotatef(convertErr(err), "open fdb cluster %q", clusterFile)
	}
	log.Infof("connected to fdb cluster %q with api version %d", clusterFile, apiVersion)
	return &DB{db: db}, nil
}

func (db *DB) CreateTransaction() txnapi.Transaction {
	tr, err := db.db.CreateTransaction()
	if err != nil {
		log.Errorf("create fdb transaction failed: %v", err)
		return &txn{err: convertErr(err)}
	}
	return &txn{tr: tr}
}

// txn adapts fdb.Transaction. A transaction that could not be created returns err from every fallible call.
type txn struct {
	tr  fdb.Transaction
	err error
}

func (t *txn) GetReadVersion(ctx context.Context) (int64, error) {
	if t.err != nil {
		return 0, t.err
	}
	f := t.tr.GetReadVersion()
	if err := wait(ctx, f); err != nil {
		return 0, err
	}
	v, err := f.Get()
	return v, convertErr(err)
}

func (t *txn) SetReadVersion(version int64) {
	if t.err == nil {
		t.tr.SetReadVersion(version)
	}
}

func (t *txn) AddReadConflictRange(r keyrange.KeyRange) error {
	if t.err != nil {
		return t.err
	}
	return convertErr(t.tr.AddReadConflictRange(fdbRange(r)))
}

func (t *txn) AddWriteConflictRange(r keyrange.KeyRange) error {
	if t.err != nil {
		return t.err
	}
	return convertErr(t.tr.AddWriteConflictRange(fdbRange(r)))
}

func (t *txn) SetOption(opt txnapi.Option) error {
	if t.err != nil {
		return t.err
	}
	switch opt {
	case txnapi.ReportConflictingKeys:
		return convertErr(t.tr.Options().SetReportConflictingKeys())
	case txnapi.ReadYourWritesDisable:
		return convertErr(t.tr.Options().SetReadYourWritesDisable())
	}
	return errors.Annotatef(txnapi.ErrInvalidOption, "option %d", int(opt))
}

func (t *txn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	f := t.tr.Get(fdb.Key(key))
	if err := wait(ctx, f); err != nil {
		return nil, err
	}
	value, err := f.Get()
	return value, convertErr(err)
}

func (t *txn) GetRange(ctx context.Context, r keyrange.KeyRange, limit int) ([]txnapi.KeyValue, error) {
	if t.err != nil {
		return nil, t.err
	}
	if limit < 0 {
		limit = 0
	}
	var (
		kvs []fdb.KeyValue
		err error
	)
	done := make(chan struct{})
	go func() {
		kvs, err = t.tr.GetRange(fdbRange(r), fdb.RangeOptions{Limit: limit, Mode: fdb.StreamingModeWantAll}).GetSliceWithError()
		close(done)
	}()
	select {
	case <-ctx.Done():
		t.tr.Cancel()
		<-done
		return nil, errors.Trace(ctx.Err())
	case <-done:
	}
	if err != nil {
		return nil, convertErr(err)
	}
	out := make([]txnapi.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, txnapi.KeyValue{Key: kv.Key, Value: kv.Value})
	}
	return out, nil
}

func (t *txn) Set(key, value []byte) {
	if t.err == nil {
		t.tr.Set(fdb.Key(key), value)
	}
}

func (t *txn) Clear(key []byte) {
	if t.err == nil {
		t.tr.Clear(fdb.Key(key))
	}
}

func (t *txn) Commit(ctx context.Context) error {
	if t.err != nil {
		return t.err
	}
	f := t.tr.Commit()
	if err := wait(ctx, f); err != nil {
		return err
	}
	return convertErr(f.Get())
}

// OnError passes store errors to the fdb retry loop. Other errors are returned unchanged.
func (t *txn) OnError(ctx context.Context, err error) error {
	if t.err != nil {
		return t.err
	}
	code := txnapi.Code(err)
	if code == 0 {
		return err
	}
	f := t.tr.OnError(fdb.Error{Code: code})
	if werr := wait(ctx, f); werr != nil {
		return werr
	}
	return convertErr(f.Get())
}

func (t *txn) Reset() {
	if t.err == nil {
		t.tr.Reset()
	}
}

// wait blocks until f is ready or ctx is done, in which case f is cancelled.
func wait(ctx context.Context, f fdb.Future) error {
	if f.IsReady() {
		return nil
	}
	done := make(chan struct{})
	go func() {
		f.BlockUntilReady()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		f.Cancel()
		return errors.Trace(ctx.Err())
	}
}

func fdbRange(r keyrange.KeyRange) fdb.KeyRange {
	return fdb.KeyRange{Begin: fdb.Key(r.Start), End: fdb.Key(r.End)}
}

// convertErr maps fdb errors to txnapi errors with the same code.
func convertErr(err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(fdb.Error); ok {
		return errors.Trace(txnapi.NewError(fe.Code, fe.Error()))
	}
	return errors.Trace(err)
}
