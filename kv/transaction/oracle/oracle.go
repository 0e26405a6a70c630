package oracle

import (
	"go.uber.org/atomic"
)

// Oracle hands out versions. Commit versions are strictly increasing. The read version is the newest commit
// version whose writes are fully applied, so a reader never observes a partially applied commit.
type Oracle struct {
	next      atomic.Uint64
	committed atomic.Uint64
}

// New returns an oracle whose first read version is start.
func New(start uint64) *Oracle {
	o := &Oracle{}
	o.next.Store(start)
	o.committed.Store(start)
	return o
}

// ReadVersion returns the newest published commit version.
func (o *Oracle) ReadVersion() uint64 {
	return o.committed.Load()
}

// NextCommitVersion allocates a new commit version.
func (o *Oracle) NextCommitVersion() uint64 {
	return o.next.Inc()
}

// Publish makes version visible to readers. Versions must be published in allocation order.
func (o *Oracle) Publish(version uint64) {
	for {
		cur := o.committed.Load()
		if version <= cur || o.committed.CAS(cur, version) {
			return
		}
	}
}
