package workload

import (
	"context"
	"math/rand"
	"testing"

	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
	"github.com/pingcap-incubator/conflictkv/kv/storage"
	"github.com/pingcap-incubator/conflictkv/kv/transaction"
	"github.com/pingcap-incubator/conflictkv/kv/txnapi"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newDriverConfig(nodeCount, reads, writes int) DriverConfig {
	return DriverConfig{
		KeySpace:                     NewKeySpace("ReportConflictingKeysWorkload", 64, nodeCount).ForActor(0),
		ReadConflictRangeCountPerTx:  reads,
		WriteConflictRangeCountPerTx: writes,
	}
}

func runIterations(t *testing.T, d *Driver, n int) []Outcome {
	outcomes := make([]Outcome, 0, n)
	for i := 0; i < n; i++ {
		outcome, err := d.RunOnce(context.Background())
		require.Nil(t, err)
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func countOutcome(outcomes []Outcome, want Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o == want {
			n++
		}
	}
	return n
}

func TestDriverAgainstReferenceStore(t *testing.T) {
	for _, counts := range [][2]int{{1, 1}, {3, 2}, {8, 8}} {
		db := transaction.Open(storage.NewMemStorage(), transaction.Options{})
		core, logs := observer.New(zapcore.InfoLevel)
		counters := &Counters{}
		d := NewDriver(db, newDriverConfig(100, counts[0], counts[1]), rand.New(rand.NewSource(1)), counters, zap.New(core))

		outcomes := runIterations(t, d, 500)
		snap := counters.Snapshot()
		assert.Equal(t, int64(0), snap.InvalidReports, "%v", logs.All())
		assert.Equal(t, int64(0), snap.Retries)
		assert.Equal(t, int64(countOutcome(outcomes, OutcomeConflict)), snap.Conflicts)
		assert.True(t, snap.Conflicts > 0)
		assert.Equal(t, 500, countOutcome(outcomes, OutcomeConflict)+countOutcome(outcomes, OutcomeCommitted))
		assert.Equal(t, int64(1000), snap.Commits)
		assert.Equal(t, snap.Commits-snap.Conflicts, snap.Transactions)
		assert.Empty(t, logs.FilterMessage("TestFailure").All())
	}
}

func TestDriverIsDeterministic(t *testing.T) {
	run := func() ([]Outcome, CountersSnapshot) {
		db := transaction.Open(storage.NewMemStorage(), transaction.Options{})
		counters := &Counters{}
		d := NewDriver(db, newDriverConfig(100, 2, 2), rand.New(rand.NewSource(99)), counters, zap.NewNop())
		return runIterations(t, d, 300), counters.Snapshot()
	}
	outcomes1, snap1 := run()
	outcomes2, snap2 := run()
	assert.Equal(t, outcomes1, outcomes2)
	assert.Equal(t, snap1, snap2)
}

// reportingTxn wraps a transaction of the reference store. Once ReportConflictingKeys is set it misbehaves as
// the mode says.
type reportingTxn struct {
	*transaction.Txn
	mode   string
	report bool
}

func (t *reportingTxn) SetOption(opt txnapi.Option) error {
	if opt == txnapi.ReportConflictingKeys {
		t.report = true
	}
	return t.Txn.SetOption(opt)
}

func (t *reportingTxn) AddReadConflictRange(r keyrange.KeyRange) error {
	if t.report && t.mode == "blind" {
		return nil
	}
	return t.Txn.AddReadConflictRange(r)
}

func (t *reportingTxn) Commit(ctx context.Context) error {
	if t.report && t.mode == "fabricate" {
		return errors.Trace(txnapi.ErrNotCommitted)
	}
	return t.Txn.Commit(ctx)
}

func (t *reportingTxn) GetRange(ctx context.Context, r keyrange.KeyRange, limit int) ([]txnapi.KeyValue, error) {
	if t.report && t.mode == "unreadable" {
		return nil, errors.New("conflicting keys unavailable")
	}
	if t.report && t.mode == "fabricate" {
		fabricated := txnapi.EncodeConflictingKeys([]keyrange.KeyRange{keyrange.New([]byte("\x00"), []byte("\x01"))})
		return txnapi.SelectRange(fabricated, r, limit), nil
	}
	return t.Txn.GetRange(ctx, r, limit)
}

func (t *reportingTxn) Reset() {
	t.report = false
	t.Txn.Reset()
}

type reportingDB struct {
	db   *transaction.DB
	mode string
}

func (db *reportingDB) CreateTransaction() txnapi.Transaction {
	return &reportingTxn{Txn: db.db.NewTxn(), mode: db.mode}
}

func TestDriverFlagsFabricatedReports(t *testing.T) {
	db := &reportingDB{db: transaction.Open(storage.NewMemStorage(), transaction.Options{}), mode: "fabricate"}
	core, logs := observer.New(zapcore.InfoLevel)
	counters := &Counters{}
	d := NewDriver(db, newDriverConfig(100, 1, 1), rand.New(rand.NewSource(1)), counters, zap.New(core))

	outcomes := runIterations(t, d, 20)
	assert.Equal(t, 20, countOutcome(outcomes, OutcomeConflict))
	assert.Equal(t, int64(20), counters.Conflicts.Load())
	assert.Equal(t, int64(20), counters.InvalidReports.Load())

	failures := logs.FilterMessage("TestFailure").All()
	require.Len(t, failures, 20)
	for _, entry := range failures {
		assert.Equal(t, ReasonNotReadRange, entry.ContextMap()["reason"])
	}
}

func TestDriverFlagsMissedConflicts(t *testing.T) {
	db := &reportingDB{db: transaction.Open(storage.NewMemStorage(), transaction.Options{}), mode: "blind"}
	core, logs := observer.New(zapcore.InfoLevel)
	counters := &Counters{}
	// Few nodes and many ranges make overlaps near certain.
	d := NewDriver(db, newDriverConfig(4, 4, 4), rand.New(rand.NewSource(1)), counters, zap.New(core))

	outcomes := runIterations(t, d, 100)
	assert.Equal(t, 100, countOutcome(outcomes, OutcomeCommitted))
	assert.Equal(t, int64(0), counters.Conflicts.Load())
	invalid := counters.InvalidReports.Load()
	assert.True(t, invalid > 0)

	failures := logs.FilterMessage("TestFailure").All()
	require.Len(t, failures, int(invalid))
	for _, entry := range failures {
		assert.Equal(t, ReasonMissedConflict, entry.ContextMap()["reason"])
	}
}

func TestDriverCountsConflictOnlyOnceReported(t *testing.T) {
	db := &reportingDB{db: transaction.Open(storage.NewMemStorage(), transaction.Options{}), mode: "unreadable"}
	counters := &Counters{}
	d := NewDriver(db, newDriverConfig(4, 4, 4), rand.New(rand.NewSource(1)), counters, zap.NewNop())

	outcomes := runIterations(t, d, 50)
	retries := countOutcome(outcomes, OutcomeRetry)
	assert.True(t, retries > 0)
	assert.Equal(t, 0, countOutcome(outcomes, OutcomeConflict))
	assert.Equal(t, int64(0), counters.Conflicts.Load())
	assert.Equal(t, int64(retries), counters.Retries.Load())
	// Each failed read follows a successful tx1 commit and a rejected tx2 commit.
	assert.Equal(t, int64(retries), counters.Commits.Load()-counters.Transactions.Load())
	assert.Equal(t, int64(0), counters.InvalidReports.Load())
}

// txnRecord is what one transaction was asked to do before a commit.
type txnRecord struct {
	reads, writes int
	raw           bool
	readVersion   int64
}

// recordingTxn records the ranges, options and read version of every commit attempt.
type recordingTxn struct {
	*transaction.Txn
	cur     txnRecord
	commits []txnRecord
}

func (t *recordingTxn) SetOption(opt txnapi.Option) error {
	if opt == txnapi.ReadYourWritesDisable {
		t.cur.raw = true
	}
	return t.Txn.SetOption(opt)
}

func (t *recordingTxn) GetReadVersion(ctx context.Context) (int64, error) {
	v, err := t.Txn.GetReadVersion(ctx)
	t.cur.readVersion = v
	return v, err
}

func (t *recordingTxn) SetReadVersion(v int64) {
	t.cur.readVersion = v
	t.Txn.SetReadVersion(v)
}

func (t *recordingTxn) AddReadConflictRange(r keyrange.KeyRange) error {
	t.cur.reads++
	return t.Txn.AddReadConflictRange(r)
}

func (t *recordingTxn) AddWriteConflictRange(r keyrange.KeyRange) error {
	t.cur.writes++
	return t.Txn.AddWriteConflictRange(r)
}

func (t *recordingTxn) Commit(ctx context.Context) error {
	t.commits = append(t.commits, t.cur)
	return t.Txn.Commit(ctx)
}

func (t *recordingTxn) Reset() {
	t.cur = txnRecord{}
	t.Txn.Reset()
}

type recordingDB struct {
	db   *transaction.DB
	txns []*recordingTxn
}

func (db *recordingDB) CreateTransaction() txnapi.Transaction {
	txn := &recordingTxn{Txn: db.db.NewTxn()}
	db.txns = append(db.txns, txn)
	return txn
}

func TestDriverTransactionSetup(t *testing.T) {
	const n = 200
	db := &recordingDB{db: transaction.Open(storage.NewMemStorage(), transaction.Options{})}
	counters := &Counters{}
	// A mean of one range per transaction makes a zero count likely if the minimum were not enforced.
	d := NewDriver(db, newDriverConfig(100, 1, 1), rand.New(rand.NewSource(5)), counters, zap.NewNop())
	require.Len(t, db.txns, 2)
	tx1, tx2 := db.txns[0], db.txns[1]

	runIterations(t, d, n)
	require.Equal(t, int64(0), counters.Retries.Load())
	require.Len(t, tx1.commits, n)
	require.Len(t, tx2.commits, n)

	raw1, raw2 := 0, 0
	for i := 0; i < n; i++ {
		r1, r2 := tx1.commits[i], tx2.commits[i]
		assert.True(t, r1.reads >= 1, "iteration %d: tx1 has no read range", i)
		assert.True(t, r1.writes >= 1, "iteration %d: tx1 has no write range", i)
		assert.True(t, r2.reads >= 1, "iteration %d: tx2 has no read range", i)
		assert.True(t, r2.writes >= 1, "iteration %d: tx2 has no write range", i)
		assert.Equal(t, r1.readVersion, r2.readVersion, "iteration %d", i)
		if r1.raw {
			raw1++
		}
		if r2.raw {
			raw2++
		}
	}
	// Each transaction flips its own coin.
	assert.True(t, raw1 > 0 && raw1 < n, "tx1 raw in %d of %d iterations", raw1, n)
	assert.True(t, raw2 > 0 && raw2 < n, "tx2 raw in %d of %d iterations", raw2, n)
	assert.True(t, raw1 > n/4 && raw1 < 3*n/4, "tx1 raw in %d of %d iterations", raw1, n)
	assert.True(t, raw2 > n/4 && raw2 < 3*n/4, "tx2 raw in %d of %d iterations", raw2, n)
}

func TestDriverRetriesStoreErrors(t *testing.T) {
	commits := 0
	db := transaction.Open(storage.NewMemStorage(), transaction.Options{Knobs: transaction.Knobs{
		CommitFilter: func(*transaction.Txn) error {
			commits++
			switch commits % 5 {
			case 0:
				return txnapi.ErrCommitUnknownResult
			case 3:
				return errors.New("injected failure")
			}
			return nil
		},
	}})
	core, logs := observer.New(zapcore.InfoLevel)
	counters := &Counters{}
	d := NewDriver(db, newDriverConfig(100, 1, 1), rand.New(rand.NewSource(3)), counters, zap.New(core))

	outcomes := runIterations(t, d, 30)
	retries := countOutcome(outcomes, OutcomeRetry)
	assert.True(t, retries > 0)
	assert.Equal(t, int64(retries), counters.Retries.Load())
	assert.Equal(t, int64(0), counters.InvalidReports.Load())
	assert.NotEmpty(t, logs.FilterMessage("store error is not retryable, restarting the iteration").All())
}

func TestDriverStopsOnCancel(t *testing.T) {
	db := transaction.Open(storage.NewMemStorage(), transaction.Options{})
	counters := &Counters{}
	d := NewDriver(db, newDriverConfig(100, 1, 1), rand.New(rand.NewSource(1)), counters, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome, err := d.RunOnce(ctx)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.Equal(t, context.Canceled, errors.Cause(err))
	assert.Equal(t, int64(0), counters.Retries.Load())
	assert.Equal(t, int64(0), counters.Commits.Load())
}
