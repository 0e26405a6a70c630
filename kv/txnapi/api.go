// Package txnapi describes the capabilities a transactional key/value store must expose to be driven by the
// conflicting keys workload, and the wire format of the conflicting keys special key space.
package txnapi

import (
	"context"

	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
)

// Option is a per-transaction option. Options are cleared by Reset.
type Option int

const (
	// ReportConflictingKeys makes a failed commit publish the conflicting read ranges under
	// ConflictingKeysPrefix.
	ReportConflictingKeys Option = iota + 1
	// ReadYourWritesDisable turns off the client side layer which merges overlapping conflict ranges and serves
	// reads from the transaction's own writes.
	ReadYourWritesDisable
)

func (o Option) String() string {
	switch o {
	case ReportConflictingKeys:
		return "report_conflicting_keys"
	case ReadYourWritesDisable:
		return "read_your_writes_disable"
	}
	return "unknown"
}

// KeyValue is a key and its value as returned by GetRange.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Database creates transactions.
type Database interface {
	CreateTransaction() Transaction
}

// Transaction is an optimistic transaction. Conflicts are checked at commit time against the transaction's read
// version. A Transaction is not safe for concurrent use.
type Transaction interface {
	// GetReadVersion returns the read version, fetching it from the store on first use.
	GetReadVersion(ctx context.Context) (int64, error)
	// SetReadVersion pins the read version instead of fetching one.
	SetReadVersion(version int64)

	AddReadConflictRange(r keyrange.KeyRange) error
	AddWriteConflictRange(r keyrange.KeyRange) error
	SetOption(opt Option) error

	// Get reads key at the read version. A missing key returns nil.
	Get(ctx context.Context, key []byte) ([]byte, error)
	// GetRange reads up to limit pairs in r. A limit <= 0 means no limit. Ranges inside the special key space are
	// served locally by the client.
	GetRange(ctx context.Context, r keyrange.KeyRange, limit int) ([]KeyValue, error)
	Set(key, value []byte)
	Clear(key []byte)

	// Commit returns nil, ErrNotCommitted on a conflict, or another error.
	Commit(ctx context.Context) error
	// OnError backs off and resets the transaction if err is retryable, otherwise it returns err.
	OnError(ctx context.Context, err error) error
	// Reset returns the transaction to its initial state, options included.
	Reset()
}
