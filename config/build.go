package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hupe1980/lexstore/blobstore"
	"github.com/hupe1980/lexstore/blobstore/minio"
	"github.com/hupe1980/lexstore/blobstore/s3"
	"github.com/hupe1980/lexstore/checkpoint"
	"github.com/hupe1980/lexstore/engine"
	"github.com/hupe1980/lexstore/journal"
	"github.com/hupe1980/lexstore/lexical/bm25"
	"github.com/hupe1980/lexstore/store"
	"github.com/hupe1980/lexstore/store/badger"
	"github.com/hupe1980/lexstore/store/sqlite"
)

// Logger builds a slog logger writing to w, or to stderr when w is nil.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenJournal opens the configured log.
func (c *Config) OpenJournal(logger *slog.Logger) (journal.Log, error) {
	durability, err := journal.ParseDurability(c.Journal.Durability)
	if err != nil {
		return nil, err
	}
	compression, err := journal.ParseCompression(c.Journal.Compression)
	if err != nil {
		return nil, err
	}
	opts := []journal.Option{
		journal.WithDurability(durability),
		journal.WithCompression(compression),
		journal.WithLogger(logger),
	}

	path := c.JournalPath()
	if path == "" {
		return journal.NewMemoryLog(opts...), nil
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return journal.OpenFile(path, opts...)
}

// OpenStore opens the configured store backend.
func (c *Config) OpenStore(logger *slog.Logger) (store.Store, error) {
	switch c.Store.Backend {
	case BackendMemory:
		return store.NewMemory(), nil
	case BackendBadger:
		b := c.Store.Badger
		return badger.Open(c.badgerDir(),
			badger.WithLogger(logger),
			badger.WithSyncWrites(b.SyncWrites),
			badger.WithGC(b.GCInterval, b.GCThreshold),
			badger.WithBlockCacheSize(b.BlockCacheSize),
		)
	case BackendSQLite:
		path := c.sqlitePath()
		if err := ensureDir(filepath.Dir(path)); err != nil {
			return nil, err
		}
		return sqlite.Open(path, sqlite.WithLogger(logger))
	default:
		return nil, fmt.Errorf("%w: unknown store.backend %q", ErrInvalid, c.Store.Backend)
	}
}

// BlobStore builds the checkpoint blob store. It returns nil for the
// "none" backend.
func (c *Config) BlobStore(ctx context.Context) (blobstore.BlobStore, error) {
	cp := c.Checkpoint
	switch cp.Backend {
	case BackendNone:
		return nil, nil
	case BackendMemory:
		return blobstore.NewMemoryStore(), nil
	case BackendLocal:
		return blobstore.NewLocalStore(c.checkpointDir()), nil
	case BackendS3:
		var opts []s3.Option
		if cp.Prefix != "" {
			opts = append(opts, s3.WithPrefix(cp.Prefix))
		}
		if cp.Region != "" {
			opts = append(opts, s3.WithRegion(cp.Region))
		}
		if cp.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cp.Endpoint))
		}
		return s3.New(ctx, cp.Bucket, opts...)
	case BackendMinio:
		return minio.Dial(cp.Endpoint, cp.AccessKey, cp.SecretKey, cp.Secure, cp.Bucket, cp.Prefix)
	default:
		return nil, fmt.Errorf("%w: unknown checkpoint.backend %q", ErrInvalid, cp.Backend)
	}
}

// Checkpoints builds the checkpoint store, or nil when checkpoints are
// disabled.
func (c *Config) Checkpoints(ctx context.Context, logger *slog.Logger) (*checkpoint.Store, error) {
	blobs, err := c.BlobStore(ctx)
	if err != nil || blobs == nil {
		return nil, err
	}
	opts := []checkpoint.Option{checkpoint.WithLogger(logger)}
	if c.Checkpoint.RateLimit > 0 {
		opts = append(opts, checkpoint.WithRateLimit(c.Checkpoint.RateLimit))
	}
	return checkpoint.New(blobs, opts...), nil
}

// EngineOptions opens every configured component and returns the engine
// options that wire them. On error, components opened so far are closed.
func (c *Config) EngineOptions(ctx context.Context, logger *slog.Logger) ([]engine.Option, error) {
	if logger == nil {
		logger = c.Logger(nil)
	}

	log, err := c.OpenJournal(logger)
	if err != nil {
		return nil, fmt.Errorf("config: open journal: %w", err)
	}
	st, err := c.OpenStore(logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("config: open store: %w", err), log.Close())
	}
	ckpts, err := c.Checkpoints(ctx, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("config: open checkpoint store: %w", err), st.Close(), log.Close())
	}

	opts := []engine.Option{
		engine.WithJournal(log),
		engine.WithStore(st),
		engine.WithIndex(bm25.New(
			bm25.WithParams(c.Index.K1, c.Index.B),
			bm25.WithMaxSegments(c.Index.MaxSegments),
			bm25.WithLogger(logger),
		)),
		engine.WithIndexer(engine.JSONIndexer{Entities: c.Index.Entities, Fields: c.Index.Fields}),
		engine.WithChunkSize(c.Index.ChunkSize),
		engine.WithLogger(logger),
	}
	if ckpts != nil {
		opts = append(opts, engine.WithCheckpoints(ckpts, c.Checkpoint.Keep))
	}
	return opts, nil
}

// Open builds and opens an engine. extra options are applied last.
func (c *Config) Open(ctx context.Context, logger *slog.Logger, extra ...engine.Option) (*engine.Engine, error) {
	opts, err := c.EngineOptions(ctx, logger)
	if err != nil {
		return nil, err
	}
	return engine.Open(ctx, append(opts, extra...)...)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}
	return nil
}
