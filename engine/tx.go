package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/lexstore/wal"
)

// Tx is a transaction. It is not safe for concurrent use; separate
// transactions may run concurrently.
//
// Writes are appended to the journal as they are made and become visible
// to readers when Commit returns.
type Tx struct {
	e     *Engine
	ctx   context.Context
	id    uint64
	start time.Time
	ops   int
	done  bool
	lsn   uint64

	// own records whether a key holds a value after this transaction's ops.
	own map[string]bool
}

// ID returns the transaction id recorded in the journal.
func (tx *Tx) ID() uint64 { return tx.id }

// LSN returns the position of the COMMIT record once Commit succeeded.
func (tx *Tx) LSN() uint64 { return tx.lsn }

// Put stores value under (entity, id).
func (tx *Tx) Put(entity string, id wal.ID, value []byte) error {
	if err := tx.check(entity, id); err != nil {
		return err
	}
	if err := tx.e.framer.Store(tx.id, entity, id, value); err != nil {
		return err
	}
	tx.record(entity, id, true)
	return nil
}

// PutStream stores the bytes read from r under (entity, id) without
// buffering the whole value. A read error leaves the transaction failed;
// it can then only be rolled back.
func (tx *Tx) PutStream(entity string, id wal.ID, r io.Reader) error {
	if err := tx.check(entity, id); err != nil {
		return err
	}
	if err := tx.e.framer.StoreStream(tx.id, entity, id, r); err != nil {
		return err
	}
	tx.record(entity, id, true)
	return nil
}

// Delete removes (entity, id). The result tells whether a value existed,
// as seen by this transaction: its own earlier ops, otherwise the
// committed state at the time of the call.
func (tx *Tx) Delete(entity string, id wal.ID) (wal.DeleteResult, error) {
	if err := tx.check(entity, id); err != nil {
		return wal.DeleteResult{}, err
	}

	existed, ok := tx.own[docID(entity, id)]
	if !ok {
		var err error
		if existed, err = tx.e.store.Exists(tx.ctx, entity, id); err != nil {
			return wal.DeleteResult{}, err
		}
	}

	if _, err := tx.e.framer.Delete(tx.id, entity, id); err != nil {
		return wal.DeleteResult{}, err
	}
	tx.record(entity, id, false)
	return wal.DeleteResult{Known: true, Existed: existed}, nil
}

// Commit ends the transaction and applies it. When Commit returns nil the
// changes are visible to Get, Search and newly acquired handles.
//
// The transaction is done after Commit, whatever the outcome. If the engine
// is closed after the commit record was written, Commit returns ErrClosed
// and the next recovery applies the transaction.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	err := tx.commit(ctx)
	tx.e.metrics.OnCommit(tx.e.now().Sub(tx.start), tx.ops, err)
	return err
}

func (tx *Tx) commit(ctx context.Context) error {
	if err := tx.e.checkWritable(); err != nil {
		_ = tx.e.framer.RollbackTransaction(tx.id)
		return err
	}

	lsn, err := tx.e.framer.CommitTransaction(tx.id)
	if err != nil {
		_ = tx.e.framer.RollbackTransaction(tx.id)
		return fmt.Errorf("engine: commit tx %d: %w", tx.id, err)
	}
	tx.lsn = lsn

	err = tx.e.drain(ctx)
	if err != nil && tx.e.applied.Load() >= lsn {
		// A later transaction failed; this one is applied.
		return nil
	}
	return err
}

// Rollback discards the transaction.
func (tx *Tx) Rollback() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	err := tx.e.framer.RollbackTransaction(tx.id)
	tx.e.metrics.OnRollback()
	return err
}

func (tx *Tx) check(entity string, id wal.ID) error {
	if tx.done {
		return ErrTxDone
	}
	if tx.e.closed.Load() {
		return ErrClosed
	}
	if entity == "" {
		return fmt.Errorf("%w: empty entity name", ErrInvalidArgument)
	}
	if id.IsZero() {
		return fmt.Errorf("%w: zero id", ErrInvalidArgument)
	}
	if err := wal.CheckTarget(entity, id); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

func (tx *Tx) record(entity string, id wal.ID, present bool) {
	tx.own[docID(entity, id)] = present
	tx.ops++
}
