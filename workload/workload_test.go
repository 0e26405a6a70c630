package workload

import (
	"context"
	"testing"
	"time"

	"github.com/pingcap-incubator/conflictkv/config"
	"github.com/pingcap-incubator/conflictkv/kv/storage"
	"github.com/pingcap-incubator/conflictkv/kv/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestWorkloadConfig(duration time.Duration, actors int) config.Workload {
	cfg := config.NewDefaultConfig().Workload
	cfg.TestDuration = config.NewDuration(duration)
	cfg.ActorsPerClient = actors
	cfg.ReadConflictRangeCountPerTx = 2
	cfg.WriteConflictRangeCountPerTx = 2
	cfg.Seed = 7
	return cfg
}

func TestWorkloadRun(t *testing.T) {
	db := transaction.Open(storage.NewMemStorage(), transaction.Options{})
	defer db.Close()
	w := New(newTestWorkloadConfig(300*time.Millisecond, 4), db, nil, zap.NewNop())

	require.Nil(t, w.Start(context.Background()))
	assert.True(t, w.Check())
	assert.False(t, w.Status().Running)
	assert.True(t, w.Elapsed() >= 300*time.Millisecond)

	snap := w.Counters().Snapshot()
	assert.True(t, snap.Transactions > 0)
	assert.True(t, snap.Conflicts > 0)
	assert.Equal(t, int64(0), snap.InvalidReports)

	metrics := make(map[string]float64)
	for _, m := range w.Metrics() {
		metrics[m.Name] = m.Value
	}
	for _, name := range []string{"Measured Duration", "Transactions", "Transactions/sec", "Commits", "Commits/sec",
		"Conflicts", "Conflicts/sec", "Retries", "Retries/sec", "InvalidReports",
		"Median Latency (ms, averaged)", "99% Latency (ms, averaged)"} {
		assert.Contains(t, metrics, name)
	}
	assert.Equal(t, float64(snap.Transactions), metrics["Transactions"])
	assert.InDelta(t, float64(snap.Commits)/metrics["Measured Duration"], metrics["Commits/sec"], 1e-6)
	assert.True(t, metrics["99% Latency (ms, averaged)"] >= metrics["Median Latency (ms, averaged)"])
}

func TestWorkloadResetsCountersOnStart(t *testing.T) {
	db := transaction.Open(storage.NewMemStorage(), transaction.Options{})
	defer db.Close()
	counters := &Counters{}
	counters.InvalidReports.Store(5)
	w := New(newTestWorkloadConfig(50*time.Millisecond, 1), db, counters, zap.NewNop())
	assert.False(t, w.Check())

	require.Nil(t, w.Start(context.Background()))
	assert.True(t, w.Check())
	assert.Equal(t, counters, w.Counters())
}

func TestWorkloadRateLimit(t *testing.T) {
	db := transaction.Open(storage.NewMemStorage(), transaction.Options{})
	defer db.Close()
	cfg := newTestWorkloadConfig(500*time.Millisecond, 2)
	cfg.TransactionsPerSecond = 20
	w := New(cfg, db, nil, zap.NewNop())

	require.Nil(t, w.Start(context.Background()))
	// About ten iterations fit in the run, each committing at most twice.
	snap := w.Counters().Snapshot()
	assert.True(t, snap.Commits > 0)
	assert.True(t, snap.Commits <= 2*15, "%d commits", snap.Commits)
}

func TestWorkloadThrottledRunLastsFullDuration(t *testing.T) {
	db := transaction.Open(storage.NewMemStorage(), transaction.Options{})
	defer db.Close()
	cfg := newTestWorkloadConfig(time.Second, 1)
	// The second token arrives after two seconds, past the deadline.
	cfg.TransactionsPerSecond = 0.5
	w := New(cfg, db, nil, zap.NewNop())

	require.Nil(t, w.Start(context.Background()))
	assert.True(t, w.Elapsed() >= time.Second, "elapsed %s", w.Elapsed())
	assert.True(t, w.Counters().Commits.Load() <= 2)

	metrics := make(map[string]float64)
	for _, m := range w.Metrics() {
		metrics[m.Name] = m.Value
	}
	assert.True(t, metrics["Measured Duration"] >= 1)
}

func TestWorkloadStopsWithContext(t *testing.T) {
	db := transaction.Open(storage.NewMemStorage(), transaction.Options{})
	defer db.Close()
	w := New(newTestWorkloadConfig(time.Hour, 2), db, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.Nil(t, w.Start(ctx))
	assert.True(t, time.Since(start) < 10*time.Second)
	assert.True(t, w.Check())
}

func TestWorkloadRejectsInvalidConfig(t *testing.T) {
	cfg := newTestWorkloadConfig(time.Second, 1)
	cfg.NodeCount = 0
	w := New(cfg, transaction.Open(storage.NewMemStorage(), transaction.Options{}), nil, zap.NewNop())
	assert.NotNil(t, w.Start(context.Background()))
}
