package lexstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/lexstore/checkpoint"
	"github.com/hupe1980/lexstore/config"
	"github.com/hupe1980/lexstore/engine"
	"github.com/hupe1980/lexstore/wal"
)

type (
	// ID identifies a value within an entity.
	ID = wal.ID
	// Tx is a write transaction.
	Tx = engine.Tx
	// Hit is one search result without its value.
	Hit = engine.Hit
	// Stats is a point-in-time summary of the DB.
	Stats = engine.Stats
	// RecoveryStats describes what Open found in the journal.
	RecoveryStats = engine.RecoveryStats
)

// IntID returns an integer id.
func IntID(n int64) ID { return wal.IntID(n) }

// StringID returns a string id.
func StringID(s string) ID { return wal.StringID(s) }

// DB is an embedded document store with a full-text index.
// It is safe for concurrent use.
type DB struct {
	engine *engine.Engine
	logger *Logger
}

// Open opens a DB and recovers its committed state.
//
// Example:
//
//	db, err := lexstore.Open(ctx, lexstore.WithConfigFile("lexstore.yaml", nil))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(ctx context.Context, optFns ...Option) (*DB, error) {
	var o options
	for _, fn := range optFns {
		fn(&o)
	}

	cfg := o.config
	if cfg == nil && (o.configFile != "" || o.configOverrides != nil) {
		var loadOpts []config.Option
		if o.configFile != "" {
			loadOpts = append(loadOpts, config.WithFile(o.configFile))
		}
		if o.configOverrides != nil {
			loadOpts = append(loadOpts, config.WithOverrides(o.configOverrides))
		}
		loaded, err := config.Load(loadOpts...)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := o.logger
	if logger == nil {
		if cfg != nil {
			logger = &Logger{Logger: cfg.Logger(nil)}
		} else {
			logger = NoopLogger()
		}
	}

	var engineOpts []engine.Option
	if cfg != nil {
		configured, err := cfg.EngineOptions(ctx, logger.Logger)
		if err != nil {
			return nil, err
		}
		engineOpts = configured
	}
	engineOpts = append(engineOpts, engine.WithLogger(logger.Logger))
	if o.metricsCollector != nil {
		engineOpts = append(engineOpts, engine.WithMetricsObserver(o.metricsCollector))
	}
	engineOpts = append(engineOpts, o.engineOptions...)

	e, err := engine.Open(ctx, engineOpts...)
	if err != nil {
		return nil, translateError(err)
	}
	logger.LogRecovery(ctx, e.Recovery())

	return &DB{engine: e, logger: logger}, nil
}

// Begin starts a transaction. It must end with Commit or Rollback.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.engine.Begin(ctx)
	return tx, translateError(err)
}

// Update runs fn in a transaction. The transaction is committed when fn
// returns nil and rolled back otherwise; fn must not end it itself.
func (db *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		rbErr := tx.Rollback()
		if errors.Is(rbErr, ErrTxDone) {
			rbErr = nil
		}
		db.logger.LogRollback(ctx, tx.ID(), err, rbErr)
		return err
	}

	err = tx.Commit(ctx)
	db.logger.LogCommit(ctx, tx.ID(), tx.LSN(), err)
	return translateError(err)
}

// Put stores value under (entity, id) in its own transaction.
func (db *DB) Put(ctx context.Context, entity string, id ID, value []byte) error {
	return db.Update(ctx, func(tx *Tx) error {
		return tx.Put(entity, id, value)
	})
}

// Delete removes (entity, id) in its own transaction and reports whether
// a committed value existed.
func (db *DB) Delete(ctx context.Context, entity string, id ID) (bool, error) {
	var existed bool
	err := db.Update(ctx, func(tx *Tx) error {
		res, err := tx.Delete(entity, id)
		existed = res.Existed
		return err
	})
	return existed, err
}

// Get returns the committed value of (entity, id) or ErrNotFound.
func (db *DB) Get(ctx context.Context, entity string, id ID) ([]byte, error) {
	v, err := db.engine.Get(ctx, entity, id)
	return v, translateError(err)
}

// Checkpoint persists the index so that the next Open replays less of
// the journal. It fails while transactions are open.
func (db *DB) Checkpoint(ctx context.Context) (*checkpoint.Manifest, error) {
	m, err := db.engine.Checkpoint(ctx)
	db.logger.LogCheckpoint(ctx, m, err)
	if err != nil {
		return m, translateError(fmt.Errorf("lexstore: checkpoint: %w", err))
	}
	return m, nil
}

// Stats returns a summary of the DB state.
func (db *DB) Stats() (Stats, error) {
	s, err := db.engine.Stats()
	return s, translateError(err)
}

// Recovery returns what Open found in the journal.
func (db *DB) Recovery() RecoveryStats {
	return db.engine.Recovery()
}

// Engine returns the underlying engine.
func (db *DB) Engine() *engine.Engine {
	return db.engine
}

// Close releases all resources. Open transactions are discarded by the
// next recovery.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}
	return translateError(db.engine.Close())
}
