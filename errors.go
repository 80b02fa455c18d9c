package lexstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/lexstore/engine"
	"github.com/hupe1980/lexstore/journal"
	"github.com/hupe1980/lexstore/wal"
)

var (
	// ErrNotFound is returned by Get when no committed value exists.
	ErrNotFound = engine.ErrNotFound

	// ErrClosed is returned by every operation after Close.
	ErrClosed = engine.ErrClosed

	// ErrTxDone is returned when a transaction is used after Commit or Rollback.
	ErrTxDone = engine.ErrTxDone

	// ErrInvalidArgument is returned for empty entities, zero ids and
	// invalid search limits.
	ErrInvalidArgument = engine.ErrInvalidArgument

	// ErrApplyFailed is returned once a committed transaction could not be
	// applied. The DB must be reopened.
	ErrApplyFailed = engine.ErrApplyFailed

	// ErrCorrupt is returned when the journal or a checkpoint cannot be read.
	ErrCorrupt = errors.New("lexstore: corrupt data")
)

// translateError maps errors of the layers below to the sentinels of this
// package. The original error stays reachable through errors.Is/As.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrClosed),
		errors.Is(err, ErrTxDone),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrApplyFailed):
		return err
	case errors.Is(err, wal.ErrCorrupt), errors.Is(err, journal.ErrCorrupt):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	case errors.Is(err, wal.ErrInvalidMessage):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}
