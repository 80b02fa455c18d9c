package snapshot

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("snapshot: manager closed")
	// ErrHandleReleased is returned when a handle is used or released after
	// Release.
	ErrHandleReleased = errors.New("snapshot: handle already released")
)

// Source opens point-in-time views of the index.
type Source[S io.Closer] interface {
	OpenReader(applyDeletes bool) (S, error)
}

// CommitPoint records a durable commit reported through ChangesCommitted.
type CommitPoint struct {
	Generation uint64
	Time       time.Time
}

// Observer receives manager events. Implementations must be safe for
// concurrent use.
type Observer interface {
	OnRefresh(d time.Duration, err error)
	OnVersionDestroyed(version uint64, err error)
}

// NoopObserver ignores all events.
type NoopObserver struct{}

func (NoopObserver) OnRefresh(time.Duration, error)   {}
func (NoopObserver) OnVersionDestroyed(uint64, error) {}

type options struct {
	observer Observer
	logger   *slog.Logger
	clock    func() time.Time
}

// Option configures a Manager.
type Option func(*options)

// WithObserver sets the observer.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(opts *options) {
		if l != nil {
			opts.logger = l
		}
	}
}

// WithClock sets the time source for commit points and refresh timings.
func WithClock(clock func() time.Time) Option {
	return func(opts *options) {
		if clock != nil {
			opts.clock = clock
		}
	}
}

// Stats is a point-in-time view of the manager counters.
type Stats struct {
	Handles    int64
	Versions   int64
	Refreshes  uint64
	Pending    bool
	LastCommit CommitPoint
}

// Manager serves versioned snapshots of a Source.
type Manager[S io.Closer] struct {
	src  Source[S]
	opts options

	current atomic.Pointer[version[S]]

	// seq counts mutation batches. A version opened at seq s is current
	// until seq moves past s.
	seq            atomic.Uint64
	batchOpen      atomic.Bool
	staleRisk      atomic.Bool
	deletesPending atomic.Bool

	group     singleflight.Group
	mu        sync.Mutex // publish vs Close
	closed    atomic.Bool
	handles   atomic.Int64
	live      atomic.Int64
	refreshes atomic.Uint64

	commits    atomic.Uint64
	lastCommit atomic.Pointer[CommitPoint]
}

// New returns a Manager over src. No version is opened until the first
// Acquire.
func New[S io.Closer](src Source[S], optFns ...Option) *Manager[S] {
	opts := options{
		observer: NoopObserver{},
		logger:   slog.New(slog.DiscardHandler),
		clock:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager[S]{src: src, opts: opts}
}

// Acquire returns a handle on the current version. When a mutation batch
// was announced since the current version was opened, it first opens a new
// version; concurrent callers share that reopen.
func (m *Manager[S]) Acquire() (*Handle[S], error) {
	target := m.seq.Load()
	for {
		if m.closed.Load() {
			return nil, ErrClosed
		}

		v := m.current.Load()
		if v != nil && v.seq >= target {
			if v.tryIncRef() {
				m.handles.Add(1)
				return &Handle[S]{v: v, m: m}, nil
			}
			// Retired and destroyed in the meantime; a newer one is current.
			continue
		}

		// A shared reopen may have started before target was read. Loop
		// until a version opened at or after target is current.
		if _, err, _ := m.group.Do("refresh", m.refresh); err != nil {
			return nil, err
		}
	}
}

// Release releases h. See Handle.Release.
func (m *Manager[S]) Release(h *Handle[S]) error {
	return h.Release()
}

func (m *Manager[S]) refresh() (any, error) {
	seq := m.seq.Load()
	if v := m.current.Load(); v != nil && v.seq >= seq {
		// A flight that just finished already covers seq.
		return nil, nil
	}
	if m.batchOpen.Load() {
		// The batch may not be applied yet. Make ChangesCommitted force
		// another refresh.
		m.staleRisk.Store(true)
	}
	applyDeletes := m.deletesPending.Swap(false)
	gen := m.commits.Load()

	start := m.opts.clock()
	snap, err := m.src.OpenReader(applyDeletes)
	m.opts.observer.OnRefresh(m.opts.clock().Sub(start), err)
	if err != nil {
		if applyDeletes {
			m.deletesPending.Store(true)
		}
		m.opts.logger.Error("snapshot refresh failed", "error", err)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		_ = snap.Close()
		return nil, ErrClosed
	}

	v := newVersion(m, snap, seq, m.refreshes.Add(1), gen)
	m.live.Add(1)
	if old := m.current.Swap(v); old != nil {
		old.decRef()
	}
	m.opts.logger.Debug("snapshot refreshed",
		"version", v.id, "seq", seq, "apply_deletes", applyDeletes, "live_versions", m.live.Load())
	return nil, nil
}

// WillMutate announces a batch of changes. It only marks the current
// version as outdated. hasDeletions is a hint that lets the next reopen
// skip tombstone work when false.
func (m *Manager[S]) WillMutate(hasDeletions bool) {
	if hasDeletions {
		m.deletesPending.Store(true)
	}
	m.batchOpen.Store(true)
	m.seq.Add(1)
}

// ChangesCommitted reports that the announced batch is durable and records
// a commit point. It does not refresh by itself.
func (m *Manager[S]) ChangesCommitted() CommitPoint {
	m.batchOpen.Store(false)
	if m.staleRisk.Swap(false) {
		m.seq.Add(1)
	}
	cp := CommitPoint{Generation: m.commits.Add(1), Time: m.opts.clock()}
	m.lastCommit.Store(&cp)
	return cp
}

// LastCommit returns the most recent commit point.
func (m *Manager[S]) LastCommit() (CommitPoint, bool) {
	cp := m.lastCommit.Load()
	if cp == nil {
		return CommitPoint{}, false
	}
	return *cp, true
}

// RefreshPending reports whether the next Acquire opens a new version.
func (m *Manager[S]) RefreshPending() bool {
	v := m.current.Load()
	return v == nil || v.seq < m.seq.Load()
}

// HandleCount returns the number of handles not yet released.
func (m *Manager[S]) HandleCount() int64 { return m.handles.Load() }

// SearcherRefCount returns the number of versions opened and not yet
// destroyed. The current version is cached by the manager, so this is 1
// once all handles are released.
func (m *Manager[S]) SearcherRefCount() int64 { return m.live.Load() }

// Stats returns the manager counters.
func (m *Manager[S]) Stats() Stats {
	s := Stats{
		Handles:   m.handles.Load(),
		Versions:  m.live.Load(),
		Refreshes: m.refreshes.Load(),
		Pending:   m.RefreshPending(),
	}
	s.LastCommit, _ = m.LastCommit()
	return s
}

// Close drops the cached version. Versions pinned by handles are destroyed
// when those handles are released.
func (m *Manager[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if v := m.current.Swap(nil); v != nil {
		v.decRef()
	}
	return nil
}
