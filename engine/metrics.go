package engine

import (
	"log/slog"
	"time"
)

// MetricsObserver defines the interface for observing engine events.
type MetricsObserver interface {
	// OnCommit is called when a commit completes, with the number of
	// operations in the transaction.
	OnCommit(duration time.Duration, ops int, err error)

	// OnRollback is called when a transaction is rolled back.
	OnRollback()

	// OnSearch is called when a search completes.
	OnSearch(duration time.Duration, hits int, err error)

	// OnRefresh is called when a new index reader was opened.
	OnRefresh(duration time.Duration, err error)

	// OnCheckpoint is called when a checkpoint completes.
	OnCheckpoint(duration time.Duration, size int64, err error)

	// OnReplay is called once recovery finished replaying the journal.
	OnReplay(duration time.Duration, committed int, err error)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnCommit(duration time.Duration, ops int, err error)        {}
func (o *NoopMetricsObserver) OnRollback()                                                {}
func (o *NoopMetricsObserver) OnSearch(duration time.Duration, hits int, err error)       {}
func (o *NoopMetricsObserver) OnRefresh(duration time.Duration, err error)                {}
func (o *NoopMetricsObserver) OnCheckpoint(duration time.Duration, size int64, err error) {}
func (o *NoopMetricsObserver) OnReplay(duration time.Duration, committed int, err error)  {}

// snapshotObserver forwards snapshot.Manager events.
type snapshotObserver struct {
	metrics MetricsObserver
	logger  *slog.Logger
}

func (o snapshotObserver) OnRefresh(d time.Duration, err error) {
	o.metrics.OnRefresh(d, err)
}

func (o snapshotObserver) OnVersionDestroyed(version uint64, err error) {
	if err != nil {
		o.logger.Warn("closing index reader failed", "version", version, "error", err)
	}
}
