package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/lexstore/checkpoint"
	"github.com/hupe1980/lexstore/journal"
	"github.com/hupe1980/lexstore/lexical"
	"github.com/hupe1980/lexstore/lexical/bm25"
	"github.com/hupe1980/lexstore/snapshot"
	"github.com/hupe1980/lexstore/store"
	"github.com/hupe1980/lexstore/wal"
)

// Engine is a transactional document store with a full-text index.
type Engine struct {
	log         journal.Log
	store       store.Store
	writer      IndexWriter
	indexer     Indexer
	checkpoints *checkpoint.Store
	retain      int
	chunkSize   int

	framer    *wal.Framer
	demux     *wal.Demux
	ids       *wal.Sequence
	snapshots *snapshot.Manager[lexical.Reader]

	// gate keeps Begin out while a checkpoint runs.
	gate sync.RWMutex

	// queue holds committed transactions in log order until applied.
	queueMu sync.Mutex
	queue   []*wal.Transaction

	applyMu sync.Mutex
	failure error // guarded by applyMu
	failed  atomic.Bool
	applied atomic.Uint64 // commit LSN of the last applied transaction

	recovery RecoveryStats
	closed   atomic.Bool

	metrics MetricsObserver
	logger  *slog.Logger
	now     func() time.Time
}

// Open assembles an engine from the given components and recovers its state
// from the newest checkpoint and the journal.
func Open(ctx context.Context, optFns ...Option) (*Engine, error) {
	e := &Engine{
		indexer: JSONIndexer{},
		retain:  DefaultCheckpointRetention,
		metrics: &NoopMetricsObserver{},
		logger:  slog.New(slog.DiscardHandler),
		now:     time.Now,
	}
	for _, fn := range optFns {
		fn(e)
	}
	if e.log == nil {
		e.log = journal.NewMemoryLog()
	}
	if e.store == nil {
		e.store = store.NewMemory()
	}
	if e.writer == nil {
		e.writer = bm25.New(bm25.WithLogger(e.logger))
	}

	if err := e.restore(ctx); err != nil {
		_ = e.closeComponents()
		return nil, err
	}

	e.snapshots = snapshot.New[lexical.Reader](e.writer,
		snapshot.WithObserver(snapshotObserver{metrics: e.metrics, logger: e.logger}),
		snapshot.WithLogger(e.logger),
		snapshot.WithClock(e.now),
	)

	framerOpts := []wal.Option{
		wal.WithIDGenerator(e.ids),
		wal.WithAppendHook(e.onAppend),
		wal.WithLogger(e.logger),
	}
	if e.chunkSize > 0 {
		framerOpts = append(framerOpts, wal.WithChunkSize(e.chunkSize))
	}
	e.framer = wal.NewFramer(e.log, framerOpts...)

	e.logger.Info("engine opened",
		"last_lsn", e.log.LastLSN(),
		"durable", e.log.Durable(),
		"persistent_store", store.IsPersistent(e.store),
	)
	return e, nil
}

// Begin starts a transaction. ctx governs the store reads made by
// Tx.Delete.
func (e *Engine) Begin(ctx context.Context) (*Tx, error) {
	if err := e.checkWritable(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.gate.RLock()
	defer e.gate.RUnlock()

	id, err := e.framer.StartTransaction()
	if err != nil {
		return nil, err
	}
	return &Tx{
		e:     e,
		ctx:   ctx,
		id:    id,
		start: e.now(),
		own:   make(map[string]bool),
	}, nil
}

// Acquire pins the current index state. The handle must be released.
func (e *Engine) Acquire() (*snapshot.Handle[lexical.Reader], error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.snapshots.Acquire()
}

// Search returns the k best matches for query in the committed state.
// k <= 0 returns every match.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	start := e.now()
	hits, err := e.search(ctx, query, k)
	e.metrics.OnSearch(e.now().Sub(start), len(hits), err)
	return hits, err
}

func (e *Engine) search(ctx context.Context, query string, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := e.Acquire()
	if err != nil {
		return nil, err
	}
	defer h.Release()

	r, err := h.Snapshot()
	if err != nil {
		return nil, err
	}
	found, err := r.Search(query, k)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(found))
	for _, f := range found {
		entity, id, err := store.ParseKey([]byte(f.ID))
		if err != nil {
			return nil, fmt.Errorf("engine: index document %q: %w", f.ID, err)
		}
		hits = append(hits, Hit{Entity: entity, ID: id, Score: f.Score})
	}
	return hits, nil
}

// Get returns the committed value of (entity, id).
func (e *Engine) Get(ctx context.Context, entity string, id wal.ID) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.store.Get(ctx, entity, id)
}

// Checkpoint writes the committed index to the checkpoint store. When the
// store keeps its contents and the journal supports truncation, the journal
// is truncated afterwards. It fails with ErrActiveTransactions while any
// transaction is open.
func (e *Engine) Checkpoint(ctx context.Context) (*checkpoint.Manifest, error) {
	if err := e.checkWritable(); err != nil {
		return nil, err
	}
	if e.checkpoints == nil {
		return nil, ErrNoCheckpointStore
	}

	start := e.now()
	m, err := e.checkpoint(ctx)
	var size int64
	if m != nil {
		size = m.Size
	}
	e.metrics.OnCheckpoint(e.now().Sub(start), size, err)
	return m, err
}

func (e *Engine) checkpoint(ctx context.Context) (*checkpoint.Manifest, error) {
	e.gate.Lock()
	defer e.gate.Unlock()

	if n := e.framer.Active(); n > 0 {
		return nil, fmt.Errorf("%w: %d open", ErrActiveTransactions, n)
	}
	if err := e.drain(ctx); err != nil {
		return nil, err
	}

	lsn := e.log.LastLSN()
	m, err := e.checkpoints.Save(ctx, lsn, e.writer)
	if err != nil {
		return nil, err
	}

	if t, ok := e.log.(journal.Truncater); ok && store.IsPersistent(e.store) {
		if s, ok := e.store.(store.Syncer); ok {
			if err := s.Sync(); err != nil {
				return m, fmt.Errorf("engine: sync store before truncate: %w", err)
			}
		}
		if err := t.Truncate(); err != nil {
			return m, fmt.Errorf("engine: truncate journal: %w", err)
		}
		e.logger.Info("journal truncated", "checkpoint", m.ID, "lsn", lsn)
	}

	if n, err := e.checkpoints.Prune(ctx, e.retain); err != nil {
		e.logger.Warn("pruning checkpoints failed", "error", err)
	} else if n > 0 {
		e.logger.Debug("pruned checkpoints", "deleted", n)
	}
	return m, nil
}

// Recovery returns what Open found in the journal.
func (e *Engine) Recovery() RecoveryStats { return e.recovery }

// Stats returns a summary of the engine state.
func (e *Engine) Stats() (Stats, error) {
	if e.closed.Load() {
		return Stats{}, ErrClosed
	}

	ss := e.snapshots.Stats()
	st := Stats{
		Handles:            ss.Handles,
		SearcherRefs:       ss.Versions,
		Refreshes:          ss.Refreshes,
		RefreshPending:     ss.Pending,
		CommitGeneration:   ss.LastCommit.Generation,
		LastCommit:         ss.LastCommit.Time,
		ActiveTransactions: e.framer.Active(),
		LastLSN:            e.log.LastLSN(),
		AppliedLSN:         e.applied.Load(),
		Recovery:           e.recovery,
	}

	// Counters above are taken before this handle exists.
	h, err := e.snapshots.Acquire()
	if err != nil {
		return Stats{}, err
	}
	defer h.Release()
	r, err := h.Snapshot()
	if err != nil {
		return Stats{}, err
	}
	st.Documents = r.NumDocs()
	return st, nil
}

// Close releases every component. Open transactions are abandoned and
// discarded by the next recovery.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if n := e.framer.Active(); n > 0 {
		e.logger.Warn("closing with open transactions", "count", n)
	}

	// Wait for a running checkpoint or apply; later drains see closed.
	e.gate.Lock()
	defer e.gate.Unlock()
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	var errs []error
	if err := e.snapshots.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.closeComponents(); err != nil {
		errs = append(errs, err)
	}
	e.logger.Info("engine closed", "last_lsn", e.log.LastLSN())
	return errors.Join(errs...)
}

func (e *Engine) closeComponents() error {
	var errs []error
	if err := e.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index: %w", err))
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := e.log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close journal: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Engine) checkWritable() error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.failed.Load() {
		e.applyMu.Lock()
		defer e.applyMu.Unlock()
		return e.failure
	}
	return nil
}

// onAppend runs under the framer's lock for every appended record.
func (e *Engine) onAppend(lsn uint64, m wal.Message) error {
	tx, err := e.demux.Feed(lsn, m)
	if err != nil || tx == nil {
		return err
	}
	e.queueMu.Lock()
	e.queue = append(e.queue, tx)
	e.queueMu.Unlock()
	return nil
}

// drain applies every queued transaction in log order.
func (e *Engine) drain(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	for {
		if e.closed.Load() {
			return ErrClosed
		}
		if e.failure != nil {
			return e.failure
		}

		e.queueMu.Lock()
		if len(e.queue) == 0 {
			e.queueMu.Unlock()
			return nil
		}
		tx := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.queueMu.Unlock()

		if err := e.apply(ctx, tx); err != nil {
			e.failure = fmt.Errorf("%w: tx %d at lsn %d: %w", ErrApplyFailed, tx.ID, tx.CommitLSN, err)
			e.failed.Store(true)
			e.logger.Error("applying committed transaction failed",
				"tx", tx.ID, "commit_lsn", tx.CommitLSN, "error", err)
			return e.failure
		}
	}
}

// apply makes tx durable in the journal before it touches the store or
// the index.
func (e *Engine) apply(ctx context.Context, tx *wal.Transaction) error {
	if !e.log.Durable() {
		if err := e.log.Sync(); err != nil {
			return fmt.Errorf("%w: %w", wal.ErrStorage, err)
		}
	}

	e.snapshots.WillMutate(tx.HasDeletes())

	if _, err := e.store.Apply(ctx, tx); err != nil {
		return err
	}
	adds, deletes := indexOps(e.indexer, tx)
	if err := e.writer.ApplyBatch(adds, deletes); err != nil {
		return err
	}
	if err := e.writer.Commit(); err != nil {
		return err
	}

	e.snapshots.ChangesCommitted()
	e.applied.Store(tx.CommitLSN)
	return nil
}
