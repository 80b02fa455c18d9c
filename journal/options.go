package journal

import (
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/lexstore/internal/fs"
)

type options struct {
	durability  Durability
	compression Compression
	fs          fs.FileSystem
	clock       func() time.Time
	logger      *slog.Logger
}

func defaultOptions() options {
	return options{
		durability:  DurabilitySync,
		compression: CompressionNone,
		fs:          fs.Default,
		clock:       time.Now,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Option configures a FileLog or MemoryLog.
type Option func(*options)

// WithDurability sets the durability mode. Default: DurabilitySync.
func WithDurability(d Durability) Option {
	return func(o *options) { o.durability = d }
}

// WithCompression sets the frame compression used when creating a new file.
// Existing files keep the compression recorded in their header.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithFileSystem replaces the filesystem, e.g. with fs.FaultyFS in tests.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

// WithClock sets the source of entry timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
