package store

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/hupe1980/lexstore/wal"
)

var (
	// ErrNotFound is returned by Get when no value is stored.
	ErrNotFound = errors.New("store: not found")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Store is a map from (entity, id) to a value.
type Store interface {
	// Get returns a copy of the value or ErrNotFound.
	Get(ctx context.Context, entity string, id wal.ID) ([]byte, error)

	// Exists reports whether a value is stored.
	Exists(ctx context.Context, entity string, id wal.ID) (bool, error)

	// Apply executes the operations of tx in order. A store may split a
	// transaction too large for one write; replaying it must be safe.
	Apply(ctx context.Context, tx *wal.Transaction) (Result, error)

	Close() error
}

// Persistent is implemented by stores whose contents survive a restart.
// Only such stores allow the journal to be truncated after a checkpoint.
type Persistent interface {
	Persistent() bool
}

// IsPersistent reports whether s keeps its contents across restarts.
func IsPersistent(s Store) bool {
	p, ok := s.(Persistent)
	return ok && p.Persistent()
}

// Syncer is implemented by stores that buffer writes. Sync makes every
// applied transaction durable.
type Syncer interface {
	Sync() error
}

// Result describes the effect of Apply.
type Result struct {
	// Existed is parallel to the transaction's ops. For a delete it reports
	// whether a value was removed; for a store whether one was replaced.
	Existed []bool
	Stored  int
	Deleted int
}

// Removed returns the number of deletes that removed a value.
func (r Result) Removed(tx *wal.Transaction) int {
	n := 0
	for i, op := range tx.Ops {
		if op.Kind == wal.OpDelete && i < len(r.Existed) && r.Existed[i] {
			n++
		}
	}
	return n
}

// AppendKey appends the storage key of (entity, id) to dst. The entity is
// length prefixed so that no key is a prefix of another entity's keys.
func AppendKey(dst []byte, entity string, id wal.ID) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(entity)))
	dst = append(dst, entity...)
	return id.AppendKey(dst)
}

// Key returns the storage key of (entity, id).
func Key(entity string, id wal.ID) []byte { return AppendKey(nil, entity, id) }

// AppendEntityPrefix appends the key prefix shared by all ids of entity.
func AppendEntityPrefix(dst []byte, entity string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(entity)))
	return append(dst, entity...)
}

// ParseKey splits a key produced by AppendKey.
func ParseKey(key []byte) (string, wal.ID, error) {
	n, w := binary.Uvarint(key)
	if w <= 0 || uint64(len(key)-w) < n {
		return "", wal.ID{}, wal.ErrMalformed
	}
	entity := string(key[w : w+int(n)])
	id, err := wal.ParseKey(key[w+int(n):])
	if err != nil {
		return "", wal.ID{}, err
	}
	return entity, id, nil
}
