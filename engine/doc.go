// Package engine composes the lexstore components into a transactional,
// searchable document store.
//
// # Write path
//
// Every mutation runs inside a Tx. Tx methods append records to the journal
// through a wal.Framer; several transactions may be open at once and their
// records interleave in the log. The framer's append hook feeds each record
// to a wal.Demux, so the demux sees the log in append order. When COMMIT is
// appended the rebuilt transaction is queued, and the committing goroutine
// applies the queue in log order:
//
//   - snapshot.Manager.WillMutate
//   - store.Store.Apply
//   - lexical.Writer.ApplyBatch and Commit
//   - journal.Log.Sync when the log is not durable
//   - snapshot.Manager.ChangesCommitted
//
// A failed apply leaves the in-memory state behind the log. The engine then
// rejects further writes with ErrApplyFailed; reopening it recovers the
// missing transactions from the journal.
//
// # Read path
//
// Acquire returns a snapshot.Handle pinning a point-in-time index reader.
// Search and Get are conveniences on top of it and the store.
//
// # Recovery
//
// Open restores the newest index checkpoint, replays the journal, applies
// committed transactions and discards incomplete ones. Checkpoint writes
// the index to a checkpoint.Store and, when the store keeps its contents,
// truncates the journal.
package engine
