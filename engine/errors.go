package engine

import (
	"errors"

	"github.com/hupe1980/lexstore/store"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("engine: closed")

	// ErrActiveTransactions is returned by Checkpoint while transactions are open.
	ErrActiveTransactions = errors.New("engine: transactions are open")

	// ErrTxDone is returned by Tx methods after Commit or Rollback.
	ErrTxDone = errors.New("engine: transaction already committed or rolled back")

	// ErrInvalidArgument is returned for empty entity names, zero ids and
	// similar caller errors. The transaction stays usable.
	ErrInvalidArgument = errors.New("engine: invalid argument")

	// ErrApplyFailed is returned once a committed transaction could not be
	// applied to the store or the index. Reopen the engine to recover.
	ErrApplyFailed = errors.New("engine: apply failed, reopen to recover")

	// ErrNoCheckpointStore is returned by Checkpoint when none is configured.
	ErrNoCheckpointStore = errors.New("engine: no checkpoint store configured")

	// ErrNotFound is returned by Get for missing values.
	ErrNotFound = store.ErrNotFound
)
