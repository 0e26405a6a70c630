package transaction

import (
	"bytes"
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
	"github.com/pingcap-incubator/conflictkv/kv/storage"
	"github.com/pingcap-incubator/conflictkv/kv/txnapi"
	"github.com/pingcap/errors"
)

const (
	initialBackoff = 10 * time.Millisecond
	maxBackoff     = time.Second
)

// Txn is an optimistic transaction, see the package documentation. It is not safe for concurrent use.
type Txn struct {
	db *DB

	readVersion    uint64
	hasReadVersion bool

	reads     []keyrange.KeyRange
	writes    []keyrange.KeyRange
	mutations []storage.Modify
	// buffered maps a key to its index in mutations, for read-your-writes.
	buffered map[string]int

	reportConflictingKeys bool
	rywDisabled           bool
	conflictingKeys       []txnapi.KeyValue

	committed     bool
	commitVersion uint64

	backoff time.Duration
}

var _ txnapi.Transaction = (*Txn)(nil)

func (txn *Txn) GetReadVersion(ctx context.Context) (int64, error) {
	v, err := txn.getReadVersion(ctx)
	return int64(v), err
}

func (txn *Txn) SetReadVersion(version int64) {
	txn.readVersion = uint64(version)
	txn.hasReadVersion = true
}

func (txn *Txn) getReadVersion(ctx context.Context) (uint64, error) {
	if txn.hasReadVersion {
		return txn.readVersion, nil
	}
	v, err := txn.db.readVersion(ctx)
	if err != nil {
		return 0, err
	}
	txn.readVersion, txn.hasReadVersion = v, true
	return v, nil
}

// CommitVersion returns the version the transaction committed at, or 0 if it has not committed.
func (txn *Txn) CommitVersion() uint64 {
	return txn.commitVersion
}

func (txn *Txn) SetOption(opt txnapi.Option) error {
	switch opt {
	case txnapi.ReportConflictingKeys:
		txn.reportConflictingKeys = true
	case txnapi.ReadYourWritesDisable:
		if len(txn.reads) > 0 || len(txn.writes) > 0 {
			return errors.Annotatef(txnapi.ErrInvalidOption, "%s after reads or writes", opt)
		}
		txn.rywDisabled = true
	default:
		return errors.Annotatef(txnapi.ErrInvalidOption, "option %d", int(opt))
	}
	return nil
}

func (txn *Txn) AddReadConflictRange(r keyrange.KeyRange) error {
	if err := checkRange(r); err != nil {
		return err
	}
	if !r.Empty() {
		txn.reads = append(txn.reads, keyrange.New(r.Start, r.End))
	}
	return nil
}

func (txn *Txn) AddWriteConflictRange(r keyrange.KeyRange) error {
	if err := checkRange(r); err != nil {
		return err
	}
	if !r.Empty() {
		txn.writes = append(txn.writes, keyrange.New(r.Start, r.End))
	}
	return nil
}

func (txn *Txn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if bytes.Compare(key, txnapi.SpecialKeySpace.Start) >= 0 {
		kvs := txnapi.SelectRange(txn.specialKeys(), keyrange.KeyRange{Start: key, End: keyrange.KeyAfter(key)}, 1)
		if len(kvs) == 0 {
			return nil, nil
		}
		return kvs[0].Value, nil
	}
	if !txn.rywDisabled {
		if idx, ok := txn.buffered[string(key)]; ok {
			m := txn.mutations[idx]
			if m.Delete {
				return nil, nil
			}
			return append([]byte{}, m.Value...), nil
		}
	}
	version, err := txn.snapshotVersion(ctx)
	if err != nil {
		return nil, err
	}
	value, err := txn.db.storage.Reader(version).Get(key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	txn.reads = append(txn.reads, keyrange.New(key, keyrange.KeyAfter(key)))
	return value, nil
}

func (txn *Txn) GetRange(ctx context.Context, r keyrange.KeyRange, limit int) ([]txnapi.KeyValue, error) {
	if bytes.Compare(r.Start, r.End) > 0 {
		return nil, errors.Trace(txnapi.ErrInvertedRange)
	}
	if bytes.Compare(r.Start, txnapi.SpecialKeySpace.Start) >= 0 {
		return txnapi.SelectRange(txn.specialKeys(), r, limit), nil
	}
	if bytes.Compare(r.End, txnapi.SpecialKeySpace.Start) > 0 {
		return nil, errors.Annotatef(txnapi.ErrKeyOutsideLegalRange, "range %v crosses the special key space", r)
	}
	version, err := txn.snapshotVersion(ctx)
	if err != nil {
		return nil, err
	}
	// Buffered writes may hide or add keys, so the storage scan is not limited when any are present.
	scanLimit := limit
	if !txn.rywDisabled && len(txn.mutations) > 0 {
		scanLimit = 0
	}
	pairs, err := txn.db.storage.Reader(version).Scan(r, scanLimit)
	if err != nil {
		return nil, errors.Trace(err)
	}
	kvs := make([]txnapi.KeyValue, 0, len(pairs))
	for _, p := range pairs {
		kvs = append(kvs, txnapi.KeyValue{Key: p.Key, Value: p.Value})
	}
	if !txn.rywDisabled && len(txn.mutations) > 0 {
		kvs = txn.overlay(kvs, r)
	}
	read := r
	if limit > 0 && len(kvs) >= limit {
		kvs = kvs[:limit]
		read = keyrange.KeyRange{Start: r.Start, End: keyrange.KeyAfter(kvs[limit-1].Key)}
	}
	if !read.Empty() {
		txn.reads = append(txn.reads, keyrange.New(read.Start, read.End))
	}
	return kvs, nil
}

// overlay merges the transaction's buffered writes in r into kvs read from storage.
func (txn *Txn) overlay(kvs []txnapi.KeyValue, r keyrange.KeyRange) []txnapi.KeyValue {
	merged := make(map[string][]byte, len(kvs))
	for _, kv := range kvs {
		merged[string(kv.Key)] = kv.Value
	}
	for key, idx := range txn.buffered {
		if !r.ContainsKey([]byte(key)) {
			continue
		}
		if m := txn.mutations[idx]; m.Delete {
			delete(merged, key)
		} else {
			merged[key] = append([]byte{}, m.Value...)
		}
	}
	out := make([]txnapi.KeyValue, 0, len(merged))
	for key, value := range merged {
		out = append(out, txnapi.KeyValue{Key: []byte(key), Value: value})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key, out[j].Key) < 0
	})
	return out
}

func (txn *Txn) Set(key, value []byte) {
	txn.mutate(storage.Modify{Key: append([]byte{}, key...), Value: append([]byte{}, value...)})
}

func (txn *Txn) Clear(key []byte) {
	txn.mutate(storage.Modify{Key: append([]byte{}, key...), Delete: true})
}

func (txn *Txn) mutate(m storage.Modify) {
	if txn.buffered == nil {
		txn.buffered = make(map[string]int)
	}
	if idx, ok := txn.buffered[string(m.Key)]; ok {
		txn.mutations[idx] = m
	} else {
		txn.buffered[string(m.Key)] = len(txn.mutations)
		txn.mutations = append(txn.mutations, m)
	}
	txn.writes = append(txn.writes, keyrange.KeyRange{Start: m.Key, End: keyrange.KeyAfter(m.Key)})
}

func (txn *Txn) Commit(ctx context.Context) error {
	if span := opentracing.SpanFromContext(ctx); span != nil && span.Tracer() != nil {
		span1 := span.Tracer().StartSpan("txn.Commit", opentracing.ChildOf(span.Context()))
		defer span1.Finish()
		ctx = opentracing.ContextWithSpan(ctx, span1)
	}
	if txn.committed {
		return errors.Trace(txnapi.ErrUsedDuringCommit)
	}
	if len(txn.writes) == 0 {
		// Read-only transactions commit without being resolved.
		txn.committed = true
		return nil
	}
	readVersion, err := txn.getReadVersion(ctx)
	if err != nil {
		return err
	}
	if filter := txn.db.knobs.CommitFilter; filter != nil {
		if err := filter(txn); err != nil {
			return err
		}
	}
	reads, writes := txn.reads, txn.writes
	if !txn.rywDisabled {
		reads, writes = keyrange.Coalesce(reads), keyrange.Coalesce(writes)
	}
	res, commitVersion, err := txn.db.commit(ctx, &commitRequest{
		readVersion: readVersion,
		reads:       reads,
		writes:      writes,
		mutations:   txn.mutations,
	})
	if err != nil {
		return err
	}
	if !res.Committed {
		if txn.reportConflictingKeys {
			conflicting := make([]keyrange.KeyRange, 0, len(res.ConflictingReads))
			for _, idx := range res.ConflictingReads {
				conflicting = append(conflicting, reads[idx])
			}
			txn.conflictingKeys = txnapi.EncodeConflictingKeys(conflicting)
		}
		return errors.Trace(txnapi.ErrNotCommitted)
	}
	txn.committed = true
	txn.commitVersion = commitVersion
	return nil
}

// OnError backs off for retryable errors and resets the transaction. The delay doubles on every call, up to
// maxBackoff, until Reset is called.
func (txn *Txn) OnError(ctx context.Context, err error) error {
	if !txnapi.IsRetryable(err) {
		return err
	}
	if txn.backoff == 0 {
		txn.backoff = initialBackoff
	}
	delay := txn.backoff/2 + time.Duration(rand.Int63n(int64(txn.backoff/2)+1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-timer.C:
	}
	next := txn.backoff * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	txn.Reset()
	txn.backoff = next
	return nil
}

func (txn *Txn) Reset() {
	*txn = Txn{db: txn.db}
}

func (txn *Txn) specialKeys() []txnapi.KeyValue {
	if !txn.reportConflictingKeys {
		return nil
	}
	if txn.conflictingKeys == nil {
		return txnapi.EncodeConflictingKeys(nil)
	}
	return txn.conflictingKeys
}

// snapshotVersion returns the read version after checking it is readable.
func (txn *Txn) snapshotVersion(ctx context.Context) (uint64, error) {
	version, err := txn.getReadVersion(ctx)
	if err != nil {
		return 0, err
	}
	if err := txn.db.checkReadVersion(version); err != nil {
		return 0, err
	}
	return version, nil
}

func checkRange(r keyrange.KeyRange) error {
	if bytes.Compare(r.Start, r.End) > 0 {
		return errors.Annotatef(txnapi.ErrInvertedRange, "range %v", r)
	}
	if bytes.Compare(r.End, txnapi.SpecialKeySpace.Start) > 0 {
		return errors.Annotatef(txnapi.ErrKeyOutsideLegalRange, "range %v", r)
	}
	return nil
}
