package engine

import (
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/lexstore/checkpoint"
	"github.com/hupe1980/lexstore/journal"
	"github.com/hupe1980/lexstore/lexical"
	"github.com/hupe1980/lexstore/store"
)

// DefaultCheckpointRetention is the number of checkpoints kept by Checkpoint.
const DefaultCheckpointRetention = 2

// IndexWriter is the index the engine maintains. It must be able to
// serialize itself for checkpoints and load such a serialization back.
type IndexWriter interface {
	lexical.Writer
	io.WriterTo
	io.ReaderFrom
}

// Option defines a configuration option for the Engine.
//
// Components passed through options are owned by the engine and closed by
// Engine.Close, or by Open when it fails.
type Option func(*Engine)

// WithJournal sets the log transactions are recorded in.
// Defaults to a journal.MemoryLog.
func WithJournal(l journal.Log) Option {
	return func(e *Engine) { e.log = l }
}

// WithStore sets the store committed transactions are applied to.
// Defaults to a store.Memory.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithIndex sets the index writer. Defaults to a bm25.Writer.
func WithIndex(w IndexWriter) Option {
	return func(e *Engine) { e.writer = w }
}

// WithIndexer sets how stored values become index documents.
// Defaults to JSONIndexer.
func WithIndexer(ix Indexer) Option {
	return func(e *Engine) {
		if ix != nil {
			e.indexer = ix
		}
	}
}

// WithCheckpoints enables Checkpoint and checkpoint-based recovery.
// keep is the number of checkpoints retained after each one; values below
// one keep DefaultCheckpointRetention.
func WithCheckpoints(s *checkpoint.Store, keep int) Option {
	return func(e *Engine) {
		e.checkpoints = s
		if keep > 0 {
			e.retain = keep
		}
	}
}

// WithChunkSize sets the maximum number of value bytes per journal record.
func WithChunkSize(n int) Option {
	return func(e *Engine) { e.chunkSize = n }
}

// WithLogger sets the logger for the engine and the components it creates.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetricsObserver sets the metrics observer for the engine.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
