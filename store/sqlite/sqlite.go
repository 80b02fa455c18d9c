// Package sqlite implements store.Store on SQLite via mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/lexstore/store"
	"github.com/hupe1980/lexstore/wal"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions (PRAGMA user_version):
// 1 - entries table
// 2 - entries.updated_at
const currentSchemaVersion = 2

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is a store.Store backed by a single SQLite database file.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
	now    func() time.Time
	closed atomic.Bool
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Syncer = (*Store)(nil)
)

// Open creates or opens the database at path and applies pragmas and
// schema migrations.
//
// The database is configured with:
//   - WAL journal mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - a 5 second busy timeout
func Open(path string, optFns ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, fn := range optFns {
		fn(s)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}

	// SQLite has a single writer. One connection also keeps :memory:
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply pragmas: %w", err)
	}

	version, err := migrate(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	s.db = db
	s.logger.Info("sqlite store opened", "path", path, "schema_version", version)
	return s, nil
}

// Persistent reports whether the database lives on disk.
func (s *Store) Persistent() bool { return s.path != MemoryPath }

// Get retrieves the value stored for (entity, id).
func (s *Store) Get(ctx context.Context, entity string, id wal.ID) ([]byte, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}

	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM entries WHERE entity = ? AND id = ?`,
		entity, id.Key(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Exists reports whether a value is stored for (entity, id).
func (s *Store) Exists(ctx context.Context, entity string, id wal.ID) (bool, error) {
	if s.closed.Load() {
		return false, store.ErrClosed
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM entries WHERE entity = ? AND id = ?`,
		entity, id.Key(),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("exists", err)
	}
	return true, nil
}

// Apply executes tx in one SQL transaction.
func (s *Store) Apply(ctx context.Context, tx *wal.Transaction) (store.Result, error) {
	if s.closed.Load() {
		return store.Result{}, store.ErrClosed
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Result{}, wrapErr("begin", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // no-op after commit

	upsert, err := sqlTx.PrepareContext(ctx, `
		INSERT INTO entries (entity, id, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (entity, id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return store.Result{}, wrapErr("prepare", err)
	}
	defer upsert.Close()

	exists, err := sqlTx.PrepareContext(ctx, `SELECT 1 FROM entries WHERE entity = ? AND id = ?`)
	if err != nil {
		return store.Result{}, wrapErr("prepare", err)
	}
	defer exists.Close()

	remove, err := sqlTx.PrepareContext(ctx, `DELETE FROM entries WHERE entity = ? AND id = ?`)
	if err != nil {
		return store.Result{}, wrapErr("prepare", err)
	}
	defer remove.Close()

	now := s.now().UnixNano()
	res := store.Result{Existed: make([]bool, len(tx.Ops))}
	for i, op := range tx.Ops {
		key := op.ID.Key()
		switch op.Kind {
		case wal.OpStore:
			var one int
			err := exists.QueryRowContext(ctx, op.Entity, key).Scan(&one)
			switch {
			case err == nil:
				res.Existed[i] = true
			case !errors.Is(err, sql.ErrNoRows):
				return store.Result{}, wrapErr("apply", err)
			}

			value := op.Value
			if value == nil {
				value = []byte{}
			}
			if _, err := upsert.ExecContext(ctx, op.Entity, key, value, now); err != nil {
				return store.Result{}, wrapErr("apply", err)
			}
			res.Stored++
		case wal.OpDelete:
			r, err := remove.ExecContext(ctx, op.Entity, key)
			if err != nil {
				return store.Result{}, wrapErr("apply", err)
			}
			n, err := r.RowsAffected()
			if err != nil {
				return store.Result{}, wrapErr("apply", err)
			}
			res.Existed[i] = n > 0
			res.Deleted++
		default:
			return store.Result{}, fmt.Errorf("sqlite: apply tx %d: unknown op kind %v", tx.ID, op.Kind)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return store.Result{}, wrapErr("commit", err)
	}
	return res, nil
}

// Sync checkpoints the SQLite write-ahead log into the main database file.
// With synchronous=NORMAL this is what makes recent commits survive a power
// loss.
func (s *Store) Sync() error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	if s.path == MemoryPath {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(FULL)"); err != nil {
		return wrapErr("sync", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return store.ErrClosed
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	s.logger.Info("sqlite store closed", "path", s.path)
	return nil
}

func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("sqlite: %s: %w", op, err)
}

func applyPragmas(db *sql.DB, path string) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	if path != MemoryPath {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// migrate applies incremental schema migrations based on user_version and
// returns the resulting version.
func migrate(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return version, fmt.Errorf("schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	if version < 1 {
		if _, err := db.Exec(schemaSQL); err != nil {
			return version, fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if version < 2 {
		if _, err := db.Exec(`ALTER TABLE entries ADD COLUMN updated_at INTEGER NOT NULL DEFAULT 0`); err != nil {
			return version, fmt.Errorf("migrate to v2: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return version, fmt.Errorf("set user_version: %w", err)
	}
	return currentSchemaVersion, nil
}
