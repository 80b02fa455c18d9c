package wal

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt is the parent of every decode and sequencing error.
	ErrCorrupt = errors.New("wal: corrupt record")

	// ErrUnknownTag is returned for a record tag outside the known set.
	ErrUnknownTag = fmt.Errorf("%w: unknown tag", ErrCorrupt)

	// ErrLegacyRecord is returned for records using the legacy fixed-width
	// integer id. Such logs must be rewritten with Migrate.
	ErrLegacyRecord = fmt.Errorf("%w: legacy id encoding (run migrate)", ErrCorrupt)

	// ErrMalformed is returned for truncated records, trailing bytes and
	// invalid UTF-8.
	ErrMalformed = fmt.Errorf("%w: malformed record", ErrCorrupt)

	// ErrSequence is returned by Demux for records that violate the
	// transaction lifecycle.
	ErrSequence = fmt.Errorf("%w: invalid record sequence", ErrCorrupt)

	// ErrStorage wraps failures of the underlying log.
	ErrStorage = errors.New("wal: storage error")

	// ErrTxNotActive is returned for records of a transaction that was never
	// started or has already ended.
	ErrTxNotActive = errors.New("wal: transaction not active")

	// ErrTxFailed is returned once a store of the transaction failed midway.
	// The transaction can only be rolled back.
	ErrTxFailed = errors.New("wal: transaction has an incomplete value, roll it back")

	// ErrEncoderClosed is returned by writes to a closed ChunkEncoder.
	ErrEncoderClosed = errors.New("wal: chunk encoder closed")

	// ErrInvalidMessage is returned when encoding a message that cannot be
	// represented on the wire.
	ErrInvalidMessage = errors.New("wal: invalid message")
)

// RecordError reports the log position of a replay failure.
type RecordError struct {
	LSN uint64
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("wal: record %d: %v", e.LSN, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
