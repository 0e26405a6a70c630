package workload

import (
	"context"
	"math/rand"

	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
	"github.com/pingcap-incubator/conflictkv/kv/txnapi"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

// Outcome is the result of one driver iteration.
type Outcome int

const (
	// OutcomeCommitted means the second transaction committed.
	OutcomeCommitted Outcome = iota
	// OutcomeConflict means the second transaction failed with a conflict.
	OutcomeConflict
	// OutcomeRetry means a store error interrupted the iteration before a verdict.
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeConflict:
		return "conflict"
	case OutcomeRetry:
		return "retry"
	}
	return "unknown"
}

// rawModeProb is the probability that a transaction disables read-your-writes for one iteration.
const rawModeProb = 0.5

// DriverConfig holds the per-actor settings of a Driver.
type DriverConfig struct {
	KeySpace                     KeySpace
	ReadConflictRangeCountPerTx  int
	WriteConflictRangeCountPerTx int
}

// Driver runs the two transaction protocol for one actor. Both transactions read at the same version; the
// first commits its writes, then the second commits and either succeeds or reports the ranges it conflicted on.
// A Driver is not safe for concurrent use.
type Driver struct {
	cfg      DriverConfig
	tx1, tx2 txnapi.Transaction
	rnd      *rand.Rand
	gen      *RangeGenerator
	checker  *Checker
	counters *Counters
	logger   *zap.Logger

	// tx1Writes and tx2Reads are what the checker verifies. The reads of tx1 and writes of tx2 are never
	// recorded.
	tx1Writes []keyrange.KeyRange
	tx2Reads  []keyrange.KeyRange
}

// NewDriver returns a driver using rnd for every random choice, so a fixed seed against a deterministic store
// yields the same ranges and outcomes.
func NewDriver(db txnapi.Database, cfg DriverConfig, rnd *rand.Rand, counters *Counters, logger *zap.Logger) *Driver {
	return &Driver{
		cfg:      cfg,
		tx1:      db.CreateTransaction(),
		tx2:      db.CreateTransaction(),
		rnd:      rnd,
		gen:      NewRangeGenerator(cfg.KeySpace, rnd),
		checker:  NewChecker(counters, logger),
		counters: counters,
		logger:   logger,
	}
}

// RunOnce runs one iteration and resets both transactions. Store errors are recovered from and reported as
// OutcomeRetry. An error is only returned when ctx is done.
func (d *Driver) RunOnce(ctx context.Context) (Outcome, error) {
	defer d.reset()

	outcome, violations, err := d.run(ctx)
	if err == nil {
		d.checker.Record(violations)
		return outcome, nil
	}
	if ctx.Err() != nil {
		return OutcomeRetry, errors.Trace(ctx.Err())
	}
	d.counters.incRetries()
	if err := d.onError(ctx, err); err != nil {
		if ctx.Err() != nil {
			return OutcomeRetry, errors.Trace(ctx.Err())
		}
		d.logger.Warn("store error is not retryable, restarting the iteration", zap.Error(err))
	}
	return OutcomeRetry, nil
}

func (d *Driver) run(ctx context.Context) (Outcome, []Violation, error) {
	if err := d.tx2.SetOption(txnapi.ReportConflictingKeys); err != nil {
		return OutcomeRetry, nil, err
	}
	// Without read-your-writes the client sends overlapping conflict ranges to the store unmerged.
	if d.rnd.Float64() < rawModeProb {
		if err := d.tx1.SetOption(txnapi.ReadYourWritesDisable); err != nil {
			return OutcomeRetry, nil, err
		}
	}
	if d.rnd.Float64() < rawModeProb {
		if err := d.tx2.SetOption(txnapi.ReadYourWritesDisable); err != nil {
			return OutcomeRetry, nil, err
		}
	}

	readVersion, err := d.tx1.GetReadVersion(ctx)
	if err != nil {
		return OutcomeRetry, nil, err
	}
	// tx2 must not fetch its own read version, it could already see tx1's writes.
	d.tx2.SetReadVersion(readVersion)

	if _, err := d.addRanges(d.tx1.AddReadConflictRange, d.cfg.ReadConflictRangeCountPerTx); err != nil {
		return OutcomeRetry, nil, err
	}
	if d.tx1Writes, err = d.addRanges(d.tx1.AddWriteConflictRange, d.cfg.WriteConflictRangeCountPerTx); err != nil {
		return OutcomeRetry, nil, err
	}
	if d.tx2Reads, err = d.addRanges(d.tx2.AddReadConflictRange, d.cfg.ReadConflictRangeCountPerTx); err != nil {
		return OutcomeRetry, nil, err
	}
	if _, err := d.addRanges(d.tx2.AddWriteConflictRange, d.cfg.WriteConflictRangeCountPerTx); err != nil {
		return OutcomeRetry, nil, err
	}

	d.counters.incCommits()
	if err := d.tx1.Commit(ctx); err != nil {
		return OutcomeRetry, nil, err
	}
	d.counters.incTransactions()

	d.counters.incCommits()
	err = d.tx2.Commit(ctx)
	if err == nil {
		d.counters.incTransactions()
		return OutcomeCommitted, CheckCommitted(d.tx2Reads, d.tx1Writes), nil
	}
	if !txnapi.IsNotCommitted(err) {
		return OutcomeRetry, nil, err
	}

	// A reported range covers at least one read, so twice the read count bounds the boundary keys.
	reported, err := d.tx2.GetRange(ctx, txnapi.ConflictingKeysRange(), 2*len(d.tx2Reads))
	if err != nil {
		return OutcomeRetry, nil, err
	}
	d.counters.incConflicts()
	return OutcomeConflict, CheckConflict(reported, d.tx2Reads, d.tx1Writes), nil
}

func (d *Driver) addRanges(add func(keyrange.KeyRange) error, mean int) ([]keyrange.KeyRange, error) {
	ranges := d.gen.Ranges(mean)
	for _, r := range ranges {
		if err := add(r); err != nil {
			return nil, errors.Annotatef(err, "add conflict range %v", r)
		}
	}
	return ranges, nil
}

// onError hands err to the retry policy of both transactions in order.
func (d *Driver) onError(ctx context.Context, err error) error {
	if err := d.tx1.OnError(ctx, err); err != nil {
		return err
	}
	return d.tx2.OnError(ctx, err)
}

func (d *Driver) reset() {
	d.tx1Writes = nil
	d.tx2Reads = nil
	d.tx1.Reset()
	d.tx2.Reset()
}
