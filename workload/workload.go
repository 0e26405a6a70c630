// Package workload drives pairs of conflicting transactions against a store and checks the conflicting key
// ranges the store reports.
//
// Every actor repeatedly pins two transactions to the same read version, gives both random read and write
// conflict ranges, commits the first and then the second. If the second conflicts, every reported range must
// contain one of its read ranges and overlap one of the first transaction's write ranges. If it commits, none
// of its read ranges may overlap those writes. Violations are counted and logged, and Check fails when any was
// seen.
package workload

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pingcap-incubator/conflictkv/config"
	"github.com/pingcap-incubator/conflictkv/kv/txnapi"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PerfMetric is one named result of a run.
type PerfMetric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	// Averaged is true for rates and durations, which are not summed across clients.
	Averaged bool `json:"averaged"`
}

func (m PerfMetric) String() string {
	return fmt.Sprintf("%s: %.3f", m.Name, m.Value)
}

// Status describes a workload while it runs.
type Status struct {
	Running  bool             `json:"running"`
	Elapsed  string           `json:"elapsed"`
	Counters CountersSnapshot `json:"counters"`
}

type Workload struct {
	cfg      config.Workload
	db       txnapi.Database
	counters *Counters
	logger   *zap.Logger
	limiter  *rate.Limiter

	running atomic.Bool
	started atomic.Int64 // unix nanoseconds

	mu        sync.Mutex
	elapsed   time.Duration
	latencies stats.Float64Data // milliseconds
}

// New returns a workload against db. A nil counters allocates new ones and a nil logger uses the global
// logger.
func New(cfg config.Workload, db txnapi.Database, counters *Counters, logger *zap.Logger) *Workload {
	if counters == nil {
		counters = &Counters{}
	}
	if logger == nil {
		logger = log.L()
	}
	limit := rate.Inf
	if cfg.TransactionsPerSecond > 0 {
		limit = rate.Limit(cfg.TransactionsPerSecond)
	}
	return &Workload{
		cfg:      cfg,
		db:       db,
		counters: counters,
		logger:   logger,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Start resets the counters and runs all actors until the test duration elapses or ctx is done. An iteration
// in flight when that happens may still complete.
func (w *Workload) Start(ctx context.Context) error {
	if err := w.cfg.Validate(); err != nil {
		return err
	}
	w.counters.Reset()
	ctx, cancel := context.WithTimeout(ctx, w.cfg.TestDuration.Duration)
	defer cancel()

	w.logger.Info("workload started",
		zap.Duration("duration", w.cfg.TestDuration.Duration),
		zap.Int("actors", w.cfg.ActorsPerClient),
		zap.Int64("seed", w.cfg.Seed))
	start := time.Now()
	w.started.Store(start.UnixNano())
	w.running.Store(true)

	ks := NewKeySpace(w.cfg.KeyPrefix, w.cfg.KeyBytes, w.cfg.NodeCount)
	latencies := make([]stats.Float64Data, w.cfg.ActorsPerClient)
	var wg sync.WaitGroup
	for actor := 0; actor < w.cfg.ActorsPerClient; actor++ {
		driver := NewDriver(w.db, DriverConfig{
			KeySpace:                     ks.ForActor(actor),
			ReadConflictRangeCountPerTx:  w.cfg.ReadConflictRangeCountPerTx,
			WriteConflictRangeCountPerTx: w.cfg.WriteConflictRangeCountPerTx,
		}, rand.New(rand.NewSource(w.cfg.Seed+int64(actor))), w.counters, w.logger.With(zap.Int("actor", actor)))
		wg.Add(1)
		go func(actor int) {
			defer wg.Done()
			latencies[actor] = w.runActor(ctx, driver)
		}(actor)
	}
	wg.Wait()
	w.running.Store(false)

	w.mu.Lock()
	w.elapsed = time.Since(start)
	w.latencies = w.latencies[:0]
	for _, l := range latencies {
		w.latencies = append(w.latencies, l...)
	}
	w.mu.Unlock()

	snap := w.counters.Snapshot()
	w.logger.Info("workload finished",
		zap.Duration("elapsed", w.Elapsed()),
		zap.Int64("transactions", snap.Transactions),
		zap.Int64("commits", snap.Commits),
		zap.Int64("conflicts", snap.Conflicts),
		zap.Int64("retries", snap.Retries),
		zap.Int64("invalid-reports", snap.InvalidReports))
	return nil
}

// runActor loops over driver iterations and returns their latencies.
func (w *Workload) runActor(ctx context.Context, driver *Driver) stats.Float64Data {
	var latencies stats.Float64Data
	for ctx.Err() == nil {
		if err := w.limiter.Wait(ctx); err != nil {
			// The next token is past the deadline; the run still lasts until ctx is done.
			<-ctx.Done()
			break
		}
		start := time.Now()
		outcome, err := driver.RunOnce(ctx)
		if err != nil {
			break
		}
		d := time.Since(start)
		iterationDuration.WithLabelValues(outcome.String()).Observe(d.Seconds())
		latencies = append(latencies, float64(d)/float64(time.Millisecond))
	}
	return latencies
}

// Check returns true if no invalid report was seen.
func (w *Workload) Check() bool {
	return w.counters.InvalidReports.Load() == 0
}

// Counters returns the counters shared by all actors.
func (w *Workload) Counters() *Counters {
	return w.counters
}

// Elapsed returns the measured duration of the last run, or the time since start while running.
func (w *Workload) Elapsed() time.Duration {
	if w.running.Load() {
		return time.Since(time.Unix(0, w.started.Load()))
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.elapsed
}

func (w *Workload) Status() Status {
	return Status{
		Running:  w.running.Load(),
		Elapsed:  w.Elapsed().String(),
		Counters: w.counters.Snapshot(),
	}
}

// Metrics returns the counters and their per second rates over the measured duration, plus iteration
// latencies.
func (w *Workload) Metrics() []PerfMetric {
	snap := w.counters.Snapshot()
	secs := w.Elapsed().Seconds()
	if secs <= 0 {
		secs = w.cfg.TestDuration.Seconds()
	}
	metrics := []PerfMetric{
		{Name: "Measured Duration", Value: secs, Averaged: true},
		{Name: "Transactions", Value: float64(snap.Transactions)},
		{Name: "Transactions/sec", Value: float64(snap.Transactions) / secs, Averaged: true},
		{Name: "Commits", Value: float64(snap.Commits)},
		{Name: "Commits/sec", Value: float64(snap.Commits) / secs, Averaged: true},
		{Name: "Conflicts", Value: float64(snap.Conflicts)},
		{Name: "Conflicts/sec", Value: float64(snap.Conflicts) / secs, Averaged: true},
		{Name: "Retries", Value: float64(snap.Retries)},
		{Name: "Retries/sec", Value: float64(snap.Retries) / secs, Averaged: true},
		{Name: "InvalidReports", Value: float64(snap.InvalidReports)},
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.latencies) == 0 {
		return metrics
	}
	if median, err := stats.Median(w.latencies); err == nil {
		metrics = append(metrics, PerfMetric{Name: "Median Latency (ms, averaged)", Value: median, Averaged: true})
	}
	if p99, err := stats.Percentile(w.latencies, 99); err == nil {
		metrics = append(metrics, PerfMetric{Name: "99% Latency (ms, averaged)", Value: p99, Averaged: true})
	}
	return metrics
}
