package conflictkv

/*
conflictkv checks the conflicting keys a transactional key/value store reports. When a transaction fails to commit
because another transaction wrote what it read, a store can publish the key ranges that caused the failure. The
workload here builds such conflicts on purpose and verifies that every reported range is one the failed transaction
actually read (or a merge of such ranges) and overlaps a write of the winning transaction, and that no conflict is
missed.

Building conflictkv produces one executable, conflict-workload. It runs the workload against a small in-process
store (in memory or on badger), or against a FoundationDB cluster when built with `-tags foundationdb`.

The `conflictkv` module is organized into the following packages:

* `workload`: the range generator, the two transaction driver, the checker and the run loop with its counters.
* `workload/api`: the HTTP status server.
* `kv/txnapi`: the transaction interface the workload drives, store error codes and the conflicting keys layout.
* `kv/transaction`: the in-process store: transactions, the version oracle and the conflict resolver.
* `kv/storage`: multi-version storage engines for the in-process store.
* `kv/fdbstore`: the FoundationDB adapter.
* `config`: TOML configuration.
*/
