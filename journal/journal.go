package journal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned by operations on a closed log or reader.
	ErrClosed = errors.New("journal: closed")

	// ErrCorrupt is returned when a frame in the middle of the log fails validation.
	ErrCorrupt = errors.New("journal: corrupt")

	// ErrInvalidHeader is returned when the file header is malformed.
	ErrInvalidHeader = errors.New("journal: invalid header")

	// ErrIncompatibleVersion is returned when the file was written by an unsupported format version.
	ErrIncompatibleVersion = errors.New("journal: incompatible version")

	// ErrFrameTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrFrameTooLarge = errors.New("journal: frame too large")
)

// MaxPayloadSize bounds a single entry.
const MaxPayloadSize = 64 << 20

// Entry is a single appended payload. Entries are immutable once appended.
type Entry struct {
	// LSN is the 1-based position of the entry in the log.
	LSN uint64
	// Timestamp is the append time in Unix nanoseconds.
	Timestamp int64
	Payload   []byte
}

// Log is an ordered, append-only sequence of entries.
type Log interface {
	// Append adds payload as the next entry and returns its LSN.
	// Whether the entry is durable when Append returns depends on Durable.
	Append(payload []byte) (uint64, error)

	// Reader returns a reader positioned at the first entry with LSN >= from.
	// The reader sees the entries appended before the call.
	Reader(from uint64) (Reader, error)

	// LastLSN returns the LSN of the most recent entry, or the base LSN if empty.
	LastLSN() uint64

	// Durable reports whether Append only returns after the entry is on stable storage.
	Durable() bool

	// Sync forces appended entries to stable storage.
	Sync() error

	Close() error
}

// Reader iterates over log entries. Next returns io.EOF after the last entry.
type Reader interface {
	Next() (Entry, error)
	Close() error
}

// Truncater is implemented by logs that can discard all of their entries.
// The LSN sequence continues after truncation.
type Truncater interface {
	Truncate() error
}

// Durability controls when appends reach stable storage.
type Durability int

const (
	// DurabilityAsync relies on the OS page cache; call Sync for a durability point.
	DurabilityAsync Durability = iota
	// DurabilitySync makes Append wait for fsync. Concurrent appends share syncs.
	DurabilitySync
)

func (d Durability) String() string {
	switch d {
	case DurabilityAsync:
		return "async"
	case DurabilitySync:
		return "sync"
	default:
		return fmt.Sprintf("durability(%d)", int(d))
	}
}

// ParseDurability parses "async" or "sync".
func ParseDurability(s string) (Durability, error) {
	switch strings.ToLower(s) {
	case "async":
		return DurabilityAsync, nil
	case "sync", "":
		return DurabilitySync, nil
	default:
		return 0, fmt.Errorf("journal: unknown durability %q", s)
	}
}
