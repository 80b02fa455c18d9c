package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/lexstore/checkpoint"
	"github.com/hupe1980/lexstore/wal"
)

// restore loads the newest checkpoint into the index and replays the
// journal.
//
// The store replays every retained record, since a volatile store starts
// empty and replaying into a persistent one is idempotent. The index only
// replays transactions committed after the checkpoint.
func (e *Engine) restore(ctx context.Context) error {
	start := e.now()
	stats := RecoveryStats{}

	if e.checkpoints != nil {
		m, rc, err := e.checkpoints.Latest(ctx)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
		case err != nil:
			return fmt.Errorf("engine: load checkpoint: %w", err)
		default:
			_, err = e.writer.ReadFrom(rc)
			if cerr := rc.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("engine: restore checkpoint %s: %w", m.ID, err)
			}
			stats.CheckpointID = m.ID
			stats.CheckpointLSN = m.LSN
		}
	}
	if last := e.log.LastLSN(); stats.CheckpointLSN > last {
		return fmt.Errorf("%w: checkpoint %s at lsn %d is ahead of the journal (lsn %d)",
			wal.ErrCorrupt, stats.CheckpointID, stats.CheckpointLSN, last)
	}

	e.ids = wal.NewSequence(0)
	e.demux = wal.NewDemux()

	r, err := e.log.Reader(0)
	if err != nil {
		return fmt.Errorf("%w: %w", wal.ErrStorage, err)
	}
	defer r.Close()

	indexed := false
	err = wal.Replay(ctx, r, func(lsn uint64, m wal.Message) error {
		stats.Records++
		e.ids.Observe(m.TxID())
		if _, ok := m.(wal.RollbackTransaction); ok {
			stats.RolledBack++
		}

		tx, err := e.demux.Feed(lsn, m)
		if err != nil || tx == nil {
			return err
		}
		stats.Committed++

		if _, err := e.store.Apply(ctx, tx); err != nil {
			return err
		}
		if tx.CommitLSN <= stats.CheckpointLSN {
			return nil
		}
		adds, deletes := indexOps(e.indexer, tx)
		indexed = true
		return e.writer.ApplyBatch(adds, deletes)
	})
	if err == nil && indexed {
		err = e.writer.Commit()
	}
	stats.Duration = e.now().Sub(start)
	e.metrics.OnReplay(stats.Duration, stats.Committed, err)
	if err != nil {
		return fmt.Errorf("engine: replay: %w", err)
	}

	for _, p := range e.demux.Pending() {
		e.logger.Warn("discarding incomplete transaction",
			"tx", p.ID, "start_lsn", p.StartLSN, "ops", p.Ops, "partial_values", p.Partial)
		e.demux.Discard(p.ID)
		stats.Discarded = append(stats.Discarded, p)
	}
	e.applied.Store(e.log.LastLSN())
	e.recovery = stats

	e.logger.Info("recovery complete",
		"checkpoint", stats.CheckpointID,
		"checkpoint_lsn", stats.CheckpointLSN,
		"records", stats.Records,
		"committed", stats.Committed,
		"rolled_back", stats.RolledBack,
		"discarded", len(stats.Discarded),
		"duration", stats.Duration,
	)
	return nil
}
