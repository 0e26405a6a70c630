package transaction

// The transaction package implements the client side of a small optimistic transactional key/value store. It exists so
// the conflicting keys workload has a store to run against in tests and in single process runs; it implements the
// txnapi.Transaction contract the same way a production store is expected to.
//
// A transaction reads at a read version (a snapshot) and buffers its writes. At commit time it sends its read and write
// conflict ranges to the resolver together with a freshly allocated commit version. The resolver rejects the commit if
// any read range overlaps a range written by a transaction that committed after the read version, otherwise it
// records the write ranges and the DB applies the buffered mutations to storage at the commit version, then publishes
// that version to new readers. Resolve, apply and publish happen under one commit lock, so commit versions are
// published in order and readers never see half of a commit.
//
// ## Read-your-writes
//
// By default a transaction runs with the read-your-writes layer on: reads observe the transaction's own buffered writes
// and overlapping or adjacent conflict ranges are merged before they are sent to the resolver. With the
// ReadYourWritesDisable option the conflict ranges are sent exactly as declared and reads only see storage.
//
// ## Conflicting keys
//
// When ReportConflictingKeys is set and the commit fails with a conflict, the resolver returns which of the sent read
// ranges conflicted. The transaction merges them and exposes them through the special key space, see
// txnapi.ConflictingKeysPrefix. The special key space is served from memory and never touches storage.
