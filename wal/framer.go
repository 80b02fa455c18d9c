package wal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/lexstore/journal"
)

// IDGenerator hands out process-unique, increasing transaction ids.
type IDGenerator interface {
	Next() uint64
}

// Sequence is an IDGenerator backed by an atomic counter. The zero value
// starts at 1.
type Sequence struct {
	last atomic.Uint64
}

// NewSequence returns a Sequence whose first id is after+1.
func NewSequence(after uint64) *Sequence {
	s := &Sequence{}
	s.last.Store(after)
	return s
}

// Next returns the next id.
func (s *Sequence) Next() uint64 { return s.last.Add(1) }

// Observe makes sure later ids are greater than id.
func (s *Sequence) Observe(id uint64) {
	for {
		cur := s.last.Load()
		if id <= cur || s.last.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Last returns the most recently issued or observed id.
func (s *Sequence) Last() uint64 { return s.last.Load() }

// DeleteResult describes the outcome of a delete. Existed is only
// meaningful when Known is true.
type DeleteResult struct {
	Known   bool
	Existed bool
}

// AppendHook observes every record after it was appended, in log order.
type AppendHook func(lsn uint64, m Message) error

type options struct {
	chunkSize int
	ids       IDGenerator
	hook      AppendHook
	logger    *slog.Logger
}

// Option configures a Framer.
type Option func(*options)

// WithChunkSize sets the maximum number of value bytes per STORE_CHUNK.
func WithChunkSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithIDGenerator sets the transaction id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithAppendHook registers a hook called after each successful append while
// the framer still holds its append lock. A hook error is returned to the
// caller of the operation; the record stays in the log.
func WithAppendHook(h AppendHook) Option {
	return func(o *options) { o.hook = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

type txState uint8

const (
	txOpen txState = iota + 1
	txFailed
)

// Framer encodes transaction operations into records appended to a
// journal.Log. It is safe for concurrent use by different transactions;
// operations of one transaction must not run concurrently.
type Framer struct {
	log       journal.Log
	ids       IDGenerator
	chunkSize int
	hook      AppendHook
	logger    *slog.Logger

	mu     sync.Mutex // serializes appends so hooks see log order
	buf    []byte
	active map[uint64]txState
}

// NewFramer returns a Framer appending to log.
func NewFramer(log journal.Log, optFns ...Option) *Framer {
	opts := options{
		chunkSize: DefaultChunkSize,
		ids:       &Sequence{},
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Framer{
		log:       log,
		ids:       opts.ids,
		chunkSize: opts.chunkSize,
		hook:      opts.hook,
		logger:    opts.logger,
		active:    make(map[uint64]txState),
	}
}

// ChunkSize returns the configured chunk size.
func (f *Framer) ChunkSize() int { return f.chunkSize }

// Active returns the number of started transactions that have neither
// committed nor rolled back.
func (f *Framer) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

// StartTransaction allocates a transaction id and appends START. The id is
// consumed even when the append fails.
func (f *Framer) StartTransaction() (uint64, error) {
	tx := f.ids.Next()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.active[tx]; ok {
		return tx, fmt.Errorf("%w: transaction %d already started", ErrInvalidMessage, tx)
	}
	if _, err := f.appendLocked(StartTransaction{Tx: tx}); err != nil {
		return tx, err
	}
	f.active[tx] = txOpen
	return tx, nil
}

// Store appends value as a sequence of chunks followed by a terminator.
// An empty value produces only the terminator.
func (f *Framer) Store(tx uint64, entity string, id ID, value []byte) error {
	if err := f.checkOpen(tx); err != nil {
		return err
	}
	for off := 0; off < len(value); off += f.chunkSize {
		end := min(off+f.chunkSize, len(value))
		if err := f.appendChunk(tx, entity, id, value[off:end]); err != nil {
			return err
		}
	}
	return f.appendChunk(tx, entity, id, nil)
}

// StoreStream appends the bytes read from r like Store would.
func (f *Framer) StoreStream(tx uint64, entity string, id ID, r io.Reader) error {
	if err := f.checkOpen(tx); err != nil {
		return err
	}
	if err := CheckTarget(entity, id); err != nil {
		return err
	}
	enc := NewChunkEncoder(f.chunkSize, func(buf []byte, off, n int) error {
		return f.appendChunk(tx, entity, id, buf[off:off+n])
	})
	if _, err := io.Copy(enc, r); err != nil {
		f.fail(tx)
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.appendChunk(tx, entity, id, nil)
}

// Delete appends DELETE. The log cannot tell whether the value existed, so
// the result is never Known.
func (f *Framer) Delete(tx uint64, entity string, id ID) (DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkOpenLocked(tx); err != nil {
		return DeleteResult{}, err
	}
	_, err := f.appendLocked(Delete{Tx: tx, Entity: entity, ID: id})
	return DeleteResult{}, err
}

// CommitTransaction appends COMMIT and ends tx. It returns the LSN of the
// commit record. On failure tx stays active.
func (f *Framer) CommitTransaction(tx uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkOpenLocked(tx); err != nil {
		return 0, err
	}
	lsn, err := f.appendLocked(CommitTransaction{Tx: tx})
	if err != nil {
		var hookErr *hookError
		if errors.As(err, &hookErr) {
			delete(f.active, tx)
		}
		return lsn, err
	}
	delete(f.active, tx)
	return lsn, nil
}

// RollbackTransaction appends ROLLBACK and ends tx. Failed transactions can
// be rolled back.
func (f *Framer) RollbackTransaction(tx uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.active[tx]; !ok {
		return fmt.Errorf("%w: %d", ErrTxNotActive, tx)
	}
	_, err := f.appendLocked(RollbackTransaction{Tx: tx})
	if err != nil {
		var hookErr *hookError
		if !errors.As(err, &hookErr) {
			return err
		}
	}
	delete(f.active, tx)
	return err
}

func (f *Framer) appendChunk(tx uint64, entity string, id ID, chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.checkOpenLocked(tx); err != nil {
		return err
	}
	if _, err := f.appendLocked(StoreChunk{Tx: tx, Entity: entity, ID: id, Chunk: chunk}); err != nil {
		// Invalid messages never reach the log. Anything else may leave an
		// unterminated value behind.
		if !errors.Is(err, ErrInvalidMessage) {
			f.active[tx] = txFailed
		}
		return err
	}
	return nil
}

// appendLocked encodes m, appends it and runs the hook.
func (f *Framer) appendLocked(m Message) (uint64, error) {
	var err error
	if f.buf, err = AppendMessage(f.buf[:0], m); err != nil {
		return 0, err
	}
	lsn, err := f.log.Append(f.buf)
	if err != nil {
		f.logger.Error("wal append failed", "tag", m.Tag(), "tx", m.TxID(), "error", err)
		return 0, fmt.Errorf("%w: append %s for tx %d: %w", ErrStorage, m.Tag(), m.TxID(), err)
	}
	if f.hook != nil {
		if err := f.hook(lsn, m); err != nil {
			return lsn, &hookError{err: err}
		}
	}
	return lsn, nil
}

func (f *Framer) checkOpen(tx uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkOpenLocked(tx)
}

func (f *Framer) checkOpenLocked(tx uint64) error {
	switch f.active[tx] {
	case txOpen:
		return nil
	case txFailed:
		return fmt.Errorf("%w: %d", ErrTxFailed, tx)
	default:
		return fmt.Errorf("%w: %d", ErrTxNotActive, tx)
	}
}

func (f *Framer) fail(tx uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.active[tx]; ok {
		f.active[tx] = txFailed
	}
}

// hookError marks errors returned by the append hook; the record itself was
// appended.
type hookError struct {
	err error
}

func (e *hookError) Error() string { return e.err.Error() }
func (e *hookError) Unwrap() error { return e.err }
