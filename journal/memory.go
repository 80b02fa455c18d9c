package journal

import (
	"io"
	"sync"
	"time"
)

// MemoryLog is a Log held in process memory. It is never durable.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	base    uint64
	clock   func() time.Time
	closed  bool
}

var _ Log = (*MemoryLog)(nil)
var _ Truncater = (*MemoryLog)(nil)

// NewMemoryLog returns an empty in-memory log. Only WithClock applies.
func NewMemoryLog(optFns ...Option) *MemoryLog {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &MemoryLog{clock: opts.clock}
}

// Append copies payload into the log.
func (m *MemoryLog) Append(payload []byte) (uint64, error) {
	if len(payload) > MaxPayloadSize {
		return 0, ErrFrameTooLarge
	}
	data := make([]byte, len(payload))
	copy(data, payload)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	lsn := m.base + uint64(len(m.entries)) + 1
	m.entries = append(m.entries, Entry{LSN: lsn, Timestamp: m.clock().UnixNano(), Payload: data})
	return lsn, nil
}

// Reader returns a reader over the entries present at the time of the call.
func (m *MemoryLog) Reader(from uint64) (Reader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	start := 0
	if from > m.base+1 {
		start = int(from - m.base - 1)
	}
	if start > len(m.entries) {
		start = len(m.entries)
	}
	// Entries are never mutated, so the reader can share the backing array.
	return &memoryReader{entries: m.entries[start:len(m.entries):len(m.entries)]}, nil
}

func (m *MemoryLog) LastLSN() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.base + uint64(len(m.entries))
}

func (m *MemoryLog) Durable() bool { return false }

func (m *MemoryLog) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Truncate drops all entries; LSNs continue from the last one.
func (m *MemoryLog) Truncate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.base += uint64(len(m.entries))
	m.entries = nil
	return nil
}

func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return nil
}

type memoryReader struct {
	entries []Entry
	pos     int
	closed  bool
}

func (r *memoryReader) Next() (Entry, error) {
	if r.closed {
		return Entry{}, ErrClosed
	}
	if r.pos >= len(r.entries) {
		return Entry{}, io.EOF
	}
	e := r.entries[r.pos]
	r.pos++
	return e, nil
}

func (r *memoryReader) Close() error {
	r.closed = true
	return nil
}
