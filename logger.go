package lexstore

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/lexstore/checkpoint"
	"github.com/hupe1980/lexstore/engine"
)

// Logger wraps slog.Logger with lexstore-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithEntity adds an entity field to the logger.
func (l *Logger) WithEntity(entity string) *Logger {
	return &Logger{Logger: l.Logger.With("entity", entity)}
}

// WithTx adds a transaction id field to the logger.
func (l *Logger) WithTx(id uint64) *Logger {
	return &Logger{Logger: l.Logger.With("tx", id)}
}

// LogCommit logs the outcome of a transaction commit.
func (l *Logger) LogCommit(ctx context.Context, tx, lsn uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"tx", tx,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "commit completed",
		"tx", tx,
		"lsn", lsn,
	)
}

// LogRollback logs a transaction that was rolled back because of cause.
func (l *Logger) LogRollback(ctx context.Context, tx uint64, cause, err error) {
	if err != nil {
		l.WarnContext(ctx, "rollback failed",
			"tx", tx,
			"cause", cause,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "transaction rolled back",
		"tx", tx,
		"cause", cause,
	)
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, query string, k, hits int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"query", query,
			"k", k,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "search completed",
		"query", query,
		"k", k,
		"results", hits,
	)
}

// LogCheckpoint logs a checkpoint operation.
func (l *Logger) LogCheckpoint(ctx context.Context, m *checkpoint.Manifest, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed", "error", err)
		return
	}
	l.InfoContext(ctx, "checkpoint saved",
		"id", m.ID,
		"lsn", m.LSN,
		"size", m.Size,
	)
}

// LogRecovery logs what Open recovered from the journal.
func (l *Logger) LogRecovery(ctx context.Context, r engine.RecoveryStats) {
	attrs := []any{
		"records", r.Records,
		"committed", r.Committed,
		"rolled_back", r.RolledBack,
		"duration", r.Duration,
	}
	if r.CheckpointID != "" {
		attrs = append(attrs, "checkpoint", r.CheckpointID, "checkpoint_lsn", r.CheckpointLSN)
	}
	if len(r.Discarded) > 0 {
		l.WarnContext(ctx, "recovery discarded unfinished transactions",
			append(attrs, "discarded", len(r.Discarded))...)
		return
	}
	l.InfoContext(ctx, "recovery completed", attrs...)
}
