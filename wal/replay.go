package wal

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/lexstore/journal"
)

// Replay decodes every entry of r in append order and calls fn for each
// record. It stops at the first read, decode or callback error and reports
// its position as a *RecordError.
func Replay(ctx context.Context, r journal.Reader, fn func(lsn uint64, m Message) error) error {
	var last uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if errors.Is(err, journal.ErrCorrupt) {
				return &RecordError{LSN: last + 1, Err: fmt.Errorf("%w: %w", ErrCorrupt, err)}
			}
			return &RecordError{LSN: last + 1, Err: fmt.Errorf("%w: %w", ErrStorage, err)}
		}
		last = e.LSN

		m, err := Decode(e.Payload)
		if err != nil {
			return &RecordError{LSN: e.LSN, Err: err}
		}
		if err := fn(e.LSN, m); err != nil {
			return &RecordError{LSN: e.LSN, Err: err}
		}
	}
}
