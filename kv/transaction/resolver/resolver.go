// Package resolver decides whether optimistic transactions may commit.
//
// The resolver keeps a map from key to the newest commit version that wrote it. The map is stored as sorted boundary
// points in a btree: a point (k, v) means every key in [k, next point) was last written at version v, and keys
// before the first point were never written. A transaction with read version rv conflicts when one of its read
// ranges covers a key written after rv.
//
// Only the last MaxReadVersionLag versions are remembered exactly. Transactions reading below that horizon are
// rejected with ErrTransactionTooOld rather than risk a missed conflict.
package resolver

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/conflictkv/kv/keyrange"
	"github.com/pingcap-incubator/conflictkv/kv/txnapi"
	"github.com/pingcap/errors"
)

const (
	defaultBTreeDegree = 64
	// pruneInterval is the number of commits between two passes dropping versions below the horizon.
	pruneInterval = 1024
)

// Request is the conflict information of one transaction.
type Request struct {
	ReadVersion   uint64
	CommitVersion uint64
	Reads         []keyrange.KeyRange
	Writes        []keyrange.KeyRange
}

// Result is the outcome of Resolve. When Committed is false, ConflictingReads holds the indices of every read range
// in the request that overlaps a newer write.
type Result struct {
	Committed        bool
	ConflictingReads []int
}

type point struct {
	key     []byte
	version uint64
}

func (p *point) Less(than btree.Item) bool {
	return bytes.Compare(p.key, than.(*point).key) < 0
}

// Resolver is safe for concurrent use. Requests are resolved one at a time.
type Resolver struct {
	mu     sync.Mutex
	tree   *btree.BTree
	maxLag uint64
	// newest is the largest recorded commit version.
	newest uint64
	// oldest is the smallest read version still resolved exactly.
	oldest uint64

	sincePrune int
}

// New returns a resolver remembering maxLag versions. A maxLag of 0 keeps every version.
func New(maxLag uint64) *Resolver {
	return &Resolver{
		tree:   btree.New(defaultBTreeDegree),
		maxLag: maxLag,
	}
}

// Resolve checks req against the recorded writes. If there is no conflict its writes are recorded at
// req.CommitVersion, which must be larger than every version recorded so far.
func (r *Resolver) Resolve(req *Request) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.ReadVersion < r.oldest {
		return nil, errors.Trace(txnapi.ErrTransactionTooOld)
	}
	var conflicting []int
	for i, read := range req.Reads {
		if read.Empty() {
			continue
		}
		if r.maxVersion(read) > req.ReadVersion {
			conflicting = append(conflicting, i)
		}
	}
	if len(conflicting) > 0 {
		return &Result{ConflictingReads: conflicting}, nil
	}
	if len(req.Writes) == 0 {
		return &Result{Committed: true}, nil
	}
	if req.CommitVersion <= r.newest {
		return nil, errors.Errorf("commit version %d is not newer than %d", req.CommitVersion, r.newest)
	}
	for _, write := range req.Writes {
		if !write.Empty() {
			r.setVersion(write, req.CommitVersion)
		}
	}
	r.newest = req.CommitVersion
	r.advanceHorizon()
	return &Result{Committed: true}, nil
}

// OldestVersion returns the smallest read version that can still be resolved.
func (r *Resolver) OldestVersion() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.oldest
}

// Len returns the number of boundary points held.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tree.Len()
}

// versionAt returns the version of the segment containing key.
func (r *Resolver) versionAt(key []byte) uint64 {
	var version uint64
	r.tree.DescendLessOrEqual(&point{key: key}, func(i btree.Item) bool {
		version = i.(*point).version
		return false
	})
	return version
}

func (r *Resolver) maxVersion(kr keyrange.KeyRange) uint64 {
	version := r.versionAt(kr.Start)
	r.tree.AscendRange(&point{key: kr.Start}, &point{key: kr.End}, func(i btree.Item) bool {
		if v := i.(*point).version; v > version {
			version = v
		}
		return true
	})
	return version
}

func (r *Resolver) setVersion(kr keyrange.KeyRange, version uint64) {
	after := r.versionAt(kr.End)
	var covered []btree.Item
	r.tree.AscendRange(&point{key: kr.Start}, &point{key: kr.End}, func(i btree.Item) bool {
		covered = append(covered, i)
		return true
	})
	for _, item := range covered {
		r.tree.Delete(item)
	}
	r.tree.ReplaceOrInsert(&point{key: append([]byte{}, kr.Start...), version: version})
	if r.tree.Get(&point{key: kr.End}) == nil {
		r.tree.ReplaceOrInsert(&point{key: append([]byte{}, kr.End...), version: after})
	}
}

func (r *Resolver) advanceHorizon() {
	if r.maxLag == 0 || r.newest <= r.maxLag {
		return
	}
	r.oldest = r.newest - r.maxLag
	r.sincePrune++
	if r.sincePrune < pruneInterval {
		return
	}
	r.sincePrune = 0
	r.prune()
}

// prune forgets versions below the horizon and drops points that no longer start a new segment. No read version
// below the horizon is accepted, so a forgotten version can never be the cause of a conflict.
func (r *Resolver) prune() {
	var (
		redundant []btree.Item
		prev      uint64
	)
	r.tree.Ascend(func(i btree.Item) bool {
		p := i.(*point)
		if p.version < r.oldest {
			p.version = 0
		}
		if p.version == prev {
			redundant = append(redundant, i)
		}
		prev = p.version
		return true
	})
	for _, item := range redundant {
		r.tree.Delete(item)
	}
	log.Debugf("resolver pruned %d points below version %d, %d left", len(redundant), r.oldest, r.tree.Len())
}
