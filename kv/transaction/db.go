package transaction

import (
	"context"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
	"github.com/pingcap-incubator/conflictkv/kv/storage"
	"github.com/pingcap-incubator/conflictkv/kv/transaction/oracle"
	"github.com/pingcap-incubator/conflictkv/kv/transaction/resolver"
	"github.com/pingcap-incubator/conflictkv/kv/txnapi"
	"github.com/pingcap/errors"
)

// Knobs are testing hooks.
type Knobs struct {
	// CommitFilter is called before a transaction with writes is resolved. A non-nil error fails the commit with
	// that error.
	CommitFilter func(txn *Txn) error
}

// Options configures a DB.
type Options struct {
	// MaxReadVersionLag is the number of versions a transaction may lag behind the newest commit before it is too
	// old to commit. 0 keeps every version.
	MaxReadVersionLag uint64
	Knobs             Knobs
}

// DB is an in-process transactional database. It is safe for concurrent use.
type DB struct {
	storage  storage.Storage
	oracle   *oracle.Oracle
	resolver *resolver.Resolver
	knobs    Knobs

	commitMu sync.Mutex
}

var _ txnapi.Database = (*DB)(nil)

// Open returns a DB over s. The DB takes ownership of s.
func Open(s storage.Storage, opts Options) *DB {
	return &DB{
		storage:  s,
		oracle:   oracle.New(0),
		resolver: resolver.New(opts.MaxReadVersionLag),
		knobs:    opts.Knobs,
	}
}

// CreateTransaction implements txnapi.Database.
func (db *DB) CreateTransaction() txnapi.Transaction {
	return db.NewTxn()
}

// NewTxn returns a new transaction.
func (db *DB) NewTxn() *Txn {
	return &Txn{db: db}
}

// Close closes the underlying storage.
func (db *DB) Close() error {
	return db.storage.Close()
}

func (db *DB) readVersion(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.Trace(err)
	}
	return db.oracle.ReadVersion(), nil
}

// checkReadVersion rejects versions that are not published yet.
func (db *DB) checkReadVersion(version uint64) error {
	if version > db.oracle.ReadVersion() {
		return errors.Annotatef(txnapi.ErrFutureVersion, "read version %d", version)
	}
	return nil
}

type commitRequest struct {
	readVersion uint64
	reads       []keyrange.KeyRange
	writes      []keyrange.KeyRange
	mutations   []storage.Modify
}

// commit resolves req and, on success, applies its mutations and publishes the commit version.
func (db *DB) commit(ctx context.Context, req *commitRequest) (*resolver.Result, uint64, error) {
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, 0, errors.Trace(err)
	}
	if err := db.checkReadVersion(req.readVersion); err != nil {
		return nil, 0, err
	}
	commitVersion := db.oracle.NextCommitVersion()
	res, err := db.resolver.Resolve(&resolver.Request{
		ReadVersion:   req.readVersion,
		CommitVersion: commitVersion,
		Reads:         req.reads,
		Writes:        req.writes,
	})
	if err != nil {
		return nil, 0, err
	}
	if !res.Committed {
		log.Debugf("commit at read version %d conflicts on %d of %d read ranges",
			req.readVersion, len(res.ConflictingReads), len(req.reads))
		return res, 0, nil
	}
	if len(req.mutations) > 0 {
		if err := db.storage.Write(commitVersion, req.mutations); err != nil {
			// The write ranges are already recorded, so the outcome is ambiguous to the client.
			log.Errorf("apply mutations at version %d failed: %v", commitVersion, err)
			return nil, 0, errors.Annotatef(txnapi.ErrCommitUnknownResult, "apply mutations: %v", err)
		}
	}
	db.oracle.Publish(commitVersion)
	return res, commitVersion, nil
}
