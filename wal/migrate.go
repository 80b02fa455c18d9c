package wal

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/lexstore/journal"
)

// MigrateStats summarizes a migration.
type MigrateStats struct {
	Records   int // records read
	Rewritten int // records converted from the legacy encoding
}

// Migrate copies every record of src into dst, rewriting records that use the
// legacy integer id encoding into the current format. It is a one-time step;
// the normal decode path rejects legacy records. Records are appended in
// order, so dst must be empty for its LSNs to match src.
func Migrate(ctx context.Context, src journal.Reader, dst journal.Log) (MigrateStats, error) {
	var (
		stats MigrateStats
		buf   []byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		e, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("%w: read source: %w", ErrStorage, err)
		}
		stats.Records++

		m, legacy, err := decode(e.Payload, true)
		if err != nil {
			return stats, &RecordError{LSN: e.LSN, Err: err}
		}

		payload := e.Payload
		if legacy {
			if buf, err = AppendMessage(buf[:0], m); err != nil {
				return stats, &RecordError{LSN: e.LSN, Err: err}
			}
			payload = buf
			stats.Rewritten++
		}
		if _, err := dst.Append(payload); err != nil {
			return stats, fmt.Errorf("%w: append: %w", ErrStorage, err)
		}
	}

	if err := dst.Sync(); err != nil {
		return stats, fmt.Errorf("%w: sync: %w", ErrStorage, err)
	}
	return stats, nil
}
