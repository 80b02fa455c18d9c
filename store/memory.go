package store

import (
	"context"
	"sync"

	"github.com/hupe1980/lexstore/wal"
)

// Memory is an in-memory Store backed by a Go map.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Get retrieves a copy of the value stored for (entity, id).
func (m *Memory) Get(ctx context.Context, entity string, id wal.ID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	v, ok := m.data[string(Key(entity, id))]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, v...), nil
}

// Exists reports whether a value is stored for (entity, id).
func (m *Memory) Exists(ctx context.Context, entity string, id wal.ID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}

	_, ok := m.data[string(Key(entity, id))]
	return ok, nil
}

// Apply executes tx under the write lock.
func (m *Memory) Apply(ctx context.Context, tx *wal.Transaction) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Result{}, ErrClosed
	}

	res := Result{Existed: make([]bool, len(tx.Ops))}
	var buf []byte
	for i, op := range tx.Ops {
		buf = AppendKey(buf[:0], op.Entity, op.ID)
		key := string(buf)
		_, res.Existed[i] = m.data[key]

		switch op.Kind {
		case wal.OpStore:
			m.data[key] = append([]byte{}, op.Value...)
			res.Stored++
		case wal.OpDelete:
			delete(m.data, key)
			res.Deleted++
		}
	}
	return res, nil
}

// Len returns the number of stored values.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close releases the map. Further operations return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.data = nil
	return nil
}
