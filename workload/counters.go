package workload

import (
	"go.uber.org/atomic"
)

// Counters accumulate the results of all actors of a run. The zero value is ready to use.
type Counters struct {
	// Transactions counts successful commits.
	Transactions atomic.Int64
	// Commits counts commit attempts.
	Commits        atomic.Int64
	Conflicts      atomic.Int64
	Retries        atomic.Int64
	InvalidReports atomic.Int64
}

// CountersSnapshot is a point in time copy of Counters.
type CountersSnapshot struct {
	Transactions   int64 `json:"transactions"`
	Commits        int64 `json:"commits"`
	Conflicts      int64 `json:"conflicts"`
	Retries        int64 `json:"retries"`
	InvalidReports int64 `json:"invalid_reports"`
}

func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		Transactions:   c.Transactions.Load(),
		Commits:        c.Commits.Load(),
		Conflicts:      c.Conflicts.Load(),
		Retries:        c.Retries.Load(),
		InvalidReports: c.InvalidReports.Load(),
	}
}

// Reset zeroes every counter.
func (c *Counters) Reset() {
	c.Transactions.Store(0)
	c.Commits.Store(0)
	c.Conflicts.Store(0)
	c.Retries.Store(0)
	c.InvalidReports.Store(0)
}

func (c *Counters) incTransactions() {
	c.Transactions.Inc()
	eventCounter.WithLabelValues("transaction").Inc()
}

func (c *Counters) incCommits() {
	c.Commits.Inc()
	eventCounter.WithLabelValues("commit").Inc()
}

func (c *Counters) incConflicts() {
	c.Conflicts.Inc()
	eventCounter.WithLabelValues("conflict").Inc()
}

func (c *Counters) incRetries() {
	c.Retries.Inc()
	eventCounter.WithLabelValues("retry").Inc()
}

func (c *Counters) incInvalidReports() {
	c.InvalidReports.Inc()
	eventCounter.WithLabelValues("invalid_report").Inc()
}
