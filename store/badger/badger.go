// Package badger implements store.Store on dgraph-io/badger/v3.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/lexstore/store"
	"github.com/hupe1980/lexstore/wal"
)

const (
	defaultGCInterval  = 10 * time.Minute
	defaultGCThreshold = 0.5
	metricsInterval    = 15 * time.Second
)

type options struct {
	logger      *slog.Logger
	syncWrites  bool
	inMemory    bool
	gcInterval  time.Duration
	gcThreshold float64
	cacheSize   int64
}

// Option configures a Store.
type Option func(*options)

// WithLogger sets the logger. Badger's own log output is routed through it.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSyncWrites makes every Apply fsync before returning.
func WithSyncWrites(sync bool) Option {
	return func(o *options) { o.syncWrites = sync }
}

// WithInMemory keeps all data in memory. The directory is ignored.
func WithInMemory() Option {
	return func(o *options) { o.inMemory = true }
}

// WithGC sets the value log GC interval and discard ratio. An interval <= 0
// disables the background GC loop.
func WithGC(interval time.Duration, threshold float64) Option {
	return func(o *options) {
		o.gcInterval = interval
		if threshold > 0 && threshold < 1 {
			o.gcThreshold = threshold
		}
	}
}

// WithBlockCacheSize sets badger's block cache size in bytes.
func WithBlockCacheSize(n int64) Option {
	return func(o *options) { o.cacheSize = n }
}

// Store is a store.Store backed by a badger database.
type Store struct {
	db       *badger.DB
	opts     options
	logger   *slog.Logger
	closed   atomic.Bool
	closeMu  sync.Mutex
	stopCh   chan struct{}
	wg       sync.WaitGroup
	metrics  atomic.Pointer[metrics]
	lastGC   atomic.Int64 // unix millis
	gcCycles atomic.Uint64
}

var (
	_ store.Store  = (*Store)(nil)
	_ store.Syncer = (*Store)(nil)
)

// Open opens or creates a badger store in dir.
func Open(dir string, optFns ...Option) (*Store, error) {
	o := options{
		logger:      slog.New(slog.DiscardHandler),
		gcInterval:  defaultGCInterval,
		gcThreshold: defaultGCThreshold,
	}
	for _, fn := range optFns {
		fn(&o)
	}

	if dir == "" && !o.inMemory {
		return nil, errors.New("badger: dir is required")
	}

	bopts := badger.DefaultOptions(dir)
	if o.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = &badgerLogger{logger: o.logger}
	bopts.SyncWrites = o.syncWrites
	if o.cacheSize > 0 {
		bopts.BlockCacheSize = o.cacheSize
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	s := &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
		stopCh: make(chan struct{}),
	}

	if !o.inMemory && o.gcInterval > 0 {
		s.wg.Add(1)
		go s.gcLoop()
	}

	s.logger.Info("badger store opened",
		"dir", dir,
		"in_memory", o.inMemory,
		"sync_writes", o.syncWrites,
		"gc_interval", o.gcInterval)

	return s, nil
}

// Persistent reports whether the store is backed by disk.
func (s *Store) Persistent() bool { return !s.opts.inMemory }

// Get retrieves a copy of the value stored for (entity, id).
func (s *Store) Get(ctx context.Context, entity string, id wal.ID) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(store.Key(entity, id))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger: get: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Exists reports whether a value is stored for (entity, id).
func (s *Store) Exists(ctx context.Context, entity string, id wal.ID) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(store.Key(entity, id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger: exists: %w", err)
	}
	return true, nil
}

// Apply executes tx in a badger transaction. A transaction larger than
// badger's batch limit is split into consecutive batches; the journal
// replays it on recovery if a later batch never lands.
func (s *Store) Apply(ctx context.Context, tx *wal.Transaction) (store.Result, error) {
	if err := s.check(ctx); err != nil {
		return store.Result{}, err
	}

	res := store.Result{Existed: make([]bool, len(tx.Ops))}
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	batches := 1
	for i, op := range tx.Ops {
		if err := ctx.Err(); err != nil {
			return store.Result{}, err
		}

		key := store.Key(op.Entity, op.ID)
		_, err := txn.Get(key)
		switch {
		case err == nil:
			res.Existed[i] = true
		case !errors.Is(err, badger.ErrKeyNotFound):
			return store.Result{}, fmt.Errorf("badger: apply tx %d: %w", tx.ID, err)
		}

		err = writeOp(txn, key, op)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return store.Result{}, fmt.Errorf("badger: apply tx %d: commit batch %d: %w", tx.ID, batches, err)
			}
			txn = s.db.NewTransaction(true)
			batches++
			err = writeOp(txn, key, op)
		}
		if err != nil {
			return store.Result{}, fmt.Errorf("badger: apply tx %d: %w", tx.ID, err)
		}

		if op.Kind == wal.OpStore {
			res.Stored++
		} else {
			res.Deleted++
		}
	}

	if err := txn.Commit(); err != nil {
		return store.Result{}, fmt.Errorf("badger: apply tx %d: %w", tx.ID, err)
	}
	if batches > 1 {
		s.logger.Debug("transaction applied in batches", "tx", tx.ID, "ops", len(tx.Ops), "batches", batches)
	}
	return res, nil
}

func writeOp(txn *badger.Txn, key []byte, op wal.Op) error {
	switch op.Kind {
	case wal.OpStore:
		return txn.Set(key, op.Value)
	case wal.OpDelete:
		return txn.Delete(key)
	default:
		return fmt.Errorf("unknown op kind %v", op.Kind)
	}
}

// Sync flushes badger's write buffers to disk.
func (s *Store) Sync() error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	if s.opts.inMemory {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("badger: sync: %w", err)
	}
	return nil
}

// GC runs value log garbage collection until nothing is left to rewrite.
// It returns the number of rewritten value log files.
func (s *Store) GC(ctx context.Context) (int, error) {
	if s.opts.inMemory {
		return 0, nil
	}

	start := time.Now()
	cycles := 0
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(s.opts.gcThreshold)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return cycles, fmt.Errorf("badger: gc: %w", err)
		}
		cycles++
	}

	s.lastGC.Store(time.Now().UnixMilli())
	s.gcCycles.Add(uint64(cycles))
	if m := s.metrics.Load(); m != nil {
		m.gcCycles.Add(float64(cycles))
		m.lastGC.SetToCurrentTime()
	}

	s.logger.Info("badger gc completed", "rewritten_files", cycles, "elapsed", time.Since(start))
	return cycles, nil
}

// Stats describes the on-disk footprint of the store.
type Stats struct {
	LSMSize      int64
	ValueLogSize int64
	LastGC       time.Time
	GCCycles     uint64
}

// Stats returns size and GC statistics.
func (s *Store) Stats() Stats {
	lsm, vlog := s.db.Size()
	st := Stats{
		LSMSize:      lsm,
		ValueLogSize: vlog,
		GCCycles:     s.gcCycles.Load(),
	}
	if ms := s.lastGC.Load(); ms > 0 {
		st.LastGC = time.UnixMilli(ms)
	}
	return st
}

// Close stops the background loops and closes the database.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if !s.closed.CompareAndSwap(false, true) {
		return store.ErrClosed
	}

	close(s.stopCh)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("badger: close db: %w", err)
	}

	s.logger.Info("badger store closed")
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed.Load() {
		return store.ErrClosed
	}
	return ctx.Err()
}

func (s *Store) gcLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("badger auto gc failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// metrics holds the prometheus collectors registered by RegisterMetrics.
type metrics struct {
	lsmSize  prometheus.Gauge
	vlogSize prometheus.Gauge
	lastGC   prometheus.Gauge
	gcCycles prometheus.Counter
}

// RegisterMetrics registers size and GC metrics with reg and starts a loop
// that refreshes the size gauges. It must be called at most once.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) error {
	m := &metrics{
		lsmSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lexstore",
			Subsystem: "badger",
			Name:      "lsm_size_bytes",
			Help:      "Badger LSM tree size in bytes.",
		}),
		vlogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lexstore",
			Subsystem: "badger",
			Name:      "value_log_size_bytes",
			Help:      "Badger value log size in bytes.",
		}),
		lastGC: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lexstore",
			Subsystem: "badger",
			Name:      "last_gc_timestamp_seconds",
			Help:      "Unix timestamp of the last value log GC run.",
		}),
		gcCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lexstore",
			Subsystem: "badger",
			Name:      "gc_rewrites_total",
			Help:      "Value log files rewritten by garbage collection.",
		}),
	}

	for _, c := range []prometheus.Collector{m.lsmSize, m.vlogSize, m.lastGC, m.gcCycles} {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("badger: register metrics: %w", err)
		}
	}
	if !s.metrics.CompareAndSwap(nil, m) {
		return errors.New("badger: metrics already registered")
	}
	s.updateMetrics(m)

	s.wg.Add(1)
	go s.metricsLoop(m)
	return nil
}

func (s *Store) updateMetrics(m *metrics) {
	lsm, vlog := s.db.Size()
	m.lsmSize.Set(float64(lsm))
	m.vlogSize.Set(float64(vlog))
}

func (s *Store) metricsLoop(m *metrics) {
	defer s.wg.Done()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateMetrics(m)
		case <-s.stopCh:
			return
		}
	}
}
