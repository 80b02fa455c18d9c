package lexstore

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/lexstore/engine"
)

// MetricsCollector receives engine events. Implement it to integrate with
// monitoring systems; metrics/prometheus provides a Prometheus version.
type MetricsCollector = engine.MetricsObserver

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector = engine.NoopMetricsObserver

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CommitCount      atomic.Int64
	CommitErrors     atomic.Int64
	CommitOps        atomic.Int64
	CommitTotalNanos atomic.Int64
	RollbackCount    atomic.Int64
	SearchCount      atomic.Int64
	SearchErrors     atomic.Int64
	SearchHits       atomic.Int64
	SearchTotalNanos atomic.Int64
	RefreshCount     atomic.Int64
	RefreshErrors    atomic.Int64
	CheckpointCount  atomic.Int64
	CheckpointErrors atomic.Int64
	CheckpointBytes  atomic.Int64
	ReplayCommitted  atomic.Int64
	ReplayNanos      atomic.Int64
}

var _ MetricsCollector = (*BasicMetricsCollector)(nil)

// OnCommit implements MetricsCollector.
func (b *BasicMetricsCollector) OnCommit(duration time.Duration, ops int, err error) {
	b.CommitCount.Add(1)
	b.CommitTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.CommitErrors.Add(1)
		return
	}
	b.CommitOps.Add(int64(ops))
}

// OnRollback implements MetricsCollector.
func (b *BasicMetricsCollector) OnRollback() {
	b.RollbackCount.Add(1)
}

// OnSearch implements MetricsCollector.
func (b *BasicMetricsCollector) OnSearch(duration time.Duration, hits int, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
		return
	}
	b.SearchHits.Add(int64(hits))
}

// OnRefresh implements MetricsCollector.
func (b *BasicMetricsCollector) OnRefresh(_ time.Duration, err error) {
	b.RefreshCount.Add(1)
	if err != nil {
		b.RefreshErrors.Add(1)
	}
}

// OnCheckpoint implements MetricsCollector.
func (b *BasicMetricsCollector) OnCheckpoint(_ time.Duration, size int64, err error) {
	b.CheckpointCount.Add(1)
	if err != nil {
		b.CheckpointErrors.Add(1)
		return
	}
	b.CheckpointBytes.Store(size)
}

// OnReplay implements MetricsCollector.
func (b *BasicMetricsCollector) OnReplay(duration time.Duration, committed int, _ error) {
	b.ReplayCommitted.Store(int64(committed))
	b.ReplayNanos.Store(duration.Nanoseconds())
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		CommitCount:      b.CommitCount.Load(),
		CommitErrors:     b.CommitErrors.Load(),
		CommitOps:        b.CommitOps.Load(),
		CommitAvgNanos:   avg(b.CommitTotalNanos.Load(), b.CommitCount.Load()),
		RollbackCount:    b.RollbackCount.Load(),
		SearchCount:      b.SearchCount.Load(),
		SearchErrors:     b.SearchErrors.Load(),
		SearchHits:       b.SearchHits.Load(),
		SearchAvgNanos:   avg(b.SearchTotalNanos.Load(), b.SearchCount.Load()),
		RefreshCount:     b.RefreshCount.Load(),
		RefreshErrors:    b.RefreshErrors.Load(),
		CheckpointCount:  b.CheckpointCount.Load(),
		CheckpointErrors: b.CheckpointErrors.Load(),
		CheckpointBytes:  b.CheckpointBytes.Load(),
		ReplayCommitted:  b.ReplayCommitted.Load(),
		ReplayNanos:      b.ReplayNanos.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	CommitCount      int64
	CommitErrors     int64
	CommitOps        int64
	CommitAvgNanos   int64
	RollbackCount    int64
	SearchCount      int64
	SearchErrors     int64
	SearchHits       int64
	SearchAvgNanos   int64
	RefreshCount     int64
	RefreshErrors    int64
	CheckpointCount  int64
	CheckpointErrors int64
	CheckpointBytes  int64
	ReplayCommitted  int64
	ReplayNanos      int64
}
