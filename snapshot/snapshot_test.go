package snapshot

import (
	"errors"
	"io"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/lexstore/lexical"
	"github.com/hupe1980/lexstore/lexical/bm25"
)

type fakeSnap struct {
	id     int
	closes atomic.Int32
}

func (s *fakeSnap) Close() error {
	if s.closes.Add(1) > 1 {
		return errors.New("closed twice")
	}
	return nil
}

type fakeSource struct {
	mu           sync.Mutex
	snaps        []*fakeSnap
	applyDeletes []bool
	failNext     error
	delay        time.Duration
}

func (f *fakeSource) OpenReader(applyDeletes bool) (*fakeSnap, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyDeletes = append(f.applyDeletes, applyDeletes)
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, err
	}
	s := &fakeSnap{id: len(f.snaps)}
	f.snaps = append(f.snaps, s)
	return s, nil
}

func (f *fakeSource) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

type countingObserver struct {
	refreshes atomic.Int32
	failures  atomic.Int32
	destroyed atomic.Int32
}

func (o *countingObserver) OnRefresh(_ time.Duration, err error) {
	o.refreshes.Add(1)
	if err != nil {
		o.failures.Add(1)
	}
}

func (o *countingObserver) OnVersionDestroyed(uint64, error) { o.destroyed.Add(1) }

func acquire[S io.Closer](t *testing.T, m *Manager[S]) (*Handle[S], S) {
	t.Helper()
	h, err := m.Acquire()
	require.NoError(t, err)
	s, err := h.Snapshot()
	require.NoError(t, err)
	return h, s
}

func count(t *testing.T, r lexical.Reader, q string) int {
	t.Helper()
	n, err := r.Count(q)
	require.NoError(t, err)
	return n
}

func doc(id, text string) lexical.Document {
	return lexical.Document{ID: id, Fields: map[string]string{"body": text}}
}

func TestManager_StaleUntilRefresh(t *testing.T) {
	w := bm25.New()
	m := New[lexical.Reader](w)

	h1, r1 := acquire(t, m)
	assert.Equal(t, 0, count(t, r1, "*"))

	// Mutation without WillMutate stays invisible.
	require.NoError(t, w.AddDocument(doc("1", "hello")))
	assert.Equal(t, 0, count(t, r1, "*"))

	h2, r2 := acquire(t, m)
	assert.Equal(t, 0, count(t, r2, "*"))
	assert.Equal(t, h1.Version(), h2.Version())

	require.NoError(t, h1.Release())
	require.NoError(t, h2.Release())
}

func TestManager_LazyRefreshOnAcquire(t *testing.T) {
	w := bm25.New()
	m := New[lexical.Reader](w)

	h1, r1 := acquire(t, m)
	defer h1.Release()

	m.WillMutate(false)
	require.NoError(t, w.AddDocument(doc("1", "hello")))
	assert.True(t, m.RefreshPending())
	assert.Equal(t, 0, count(t, r1, "hello"))

	h2, r2 := acquire(t, m)
	defer h2.Release()
	assert.Equal(t, 1, count(t, r2, "hello"))
	assert.Equal(t, 0, count(t, r1, "hello"))
	assert.False(t, m.RefreshPending())
}

func TestManager_MultiVersionOverlap(t *testing.T) {
	w := bm25.New()
	m := New[lexical.Reader](w)

	m.WillMutate(false)
	require.NoError(t, w.AddDocument(doc("1", "one")))
	m.ChangesCommitted()

	h1, r1 := acquire(t, m)
	assert.Equal(t, 1, r1.NumDocs())

	m.WillMutate(false)
	require.NoError(t, w.AddDocument(doc("2", "two")))
	m.ChangesCommitted()

	h2, r2 := acquire(t, m)
	assert.Equal(t, 2, r2.NumDocs())
	assert.Equal(t, 1, r1.NumDocs())
	assert.Equal(t, int64(2), m.SearcherRefCount())
	assert.Equal(t, int64(2), m.HandleCount())

	require.NoError(t, h1.Release())
	require.NoError(t, h2.Release())
	assert.Equal(t, int64(1), m.SearcherRefCount())
	assert.Equal(t, int64(0), m.HandleCount())
	assert.Equal(t, 1, w.OpenReaders())
}

func TestManager_DeletionVisibility(t *testing.T) {
	w := bm25.New()
	m := New[lexical.Reader](w)

	m.WillMutate(false)
	require.NoError(t, w.AddDocument(doc("1", "ephemeral")))
	require.NoError(t, w.Commit())
	m.ChangesCommitted()

	h1, r1 := acquire(t, m)
	defer h1.Release()
	assert.Equal(t, 1, count(t, r1, "ephemeral"))

	m.WillMutate(true)
	require.NoError(t, w.DeleteDocuments("1"))
	require.NoError(t, w.Commit())
	m.ChangesCommitted()

	h2, r2 := acquire(t, m)
	defer h2.Release()
	assert.Equal(t, 0, count(t, r2, "ephemeral"))
	assert.Equal(t, 1, count(t, r1, "ephemeral"))
}

func TestManager_RefreshDuringOpenBatch(t *testing.T) {
	w := bm25.New()
	m := New[lexical.Reader](w)

	m.WillMutate(false)
	// A reader races in before the batch is applied.
	early, r := acquire(t, m)
	assert.Equal(t, 0, r.NumDocs())
	require.NoError(t, early.Release())

	require.NoError(t, w.AddDocument(doc("1", "late")))
	m.ChangesCommitted()
	assert.True(t, m.RefreshPending())

	h, r := acquire(t, m)
	defer h.Release()
	assert.Equal(t, 1, r.NumDocs())

	// Without an overlapping refresh the commit does not force a reopen.
	m.WillMutate(false)
	require.NoError(t, w.AddDocument(doc("2", "x")))
	m.ChangesCommitted()
	h3, r3 := acquire(t, m)
	defer h3.Release()
	assert.Equal(t, 2, r3.NumDocs())
	assert.False(t, m.RefreshPending())
}

func TestManager_HandleReleaseIsGuarded(t *testing.T) {
	src := &fakeSource{}
	m := New[*fakeSnap](src)

	h, snap := acquire(t, m)
	require.NoError(t, m.Release(h))
	assert.ErrorIs(t, h.Release(), ErrHandleReleased)
	assert.ErrorIs(t, m.Release(h), ErrHandleReleased)
	assert.Equal(t, int64(0), m.HandleCount())

	_, err := h.Snapshot()
	assert.ErrorIs(t, err, ErrHandleReleased)

	// The cached version survives its handles.
	assert.Zero(t, snap.closes.Load())
}

func TestManager_RefcountConservation(t *testing.T) {
	src := &fakeSource{}
	obs := &countingObserver{}
	m := New[*fakeSnap](src, WithObserver(obs))
	rng := rand.New(rand.NewSource(7))

	var (
		held     []*Handle[*fakeSnap]
		acquires int64
		releases int64
	)
	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(10); {
		case op < 5:
			h, snap := acquire(t, m)
			require.Zero(t, snap.closes.Load(), "acquired a destroyed version")
			held = append(held, h)
			acquires++
		case op < 8 && len(held) > 0:
			i := rng.Intn(len(held))
			h := held[i]
			snap, err := h.Snapshot()
			require.NoError(t, err)
			require.Zero(t, snap.closes.Load(), "version destroyed while held")
			require.NoError(t, h.Release())
			held = append(held[:i], held[i+1:]...)
			releases++
		case op == 8:
			m.WillMutate(rng.Intn(2) == 0)
		default:
			m.ChangesCommitted()
		}
		require.Equal(t, acquires-releases, m.HandleCount())
		require.GreaterOrEqual(t, m.HandleCount(), int64(0))
	}

	for _, h := range held {
		require.NoError(t, h.Release())
	}
	assert.Equal(t, int64(0), m.HandleCount())
	assert.Equal(t, int64(1), m.SearcherRefCount())

	require.NoError(t, m.Close())
	assert.Equal(t, int64(0), m.SearcherRefCount())
	for _, s := range src.snaps {
		assert.Equal(t, int32(1), s.closes.Load(), "version %d", s.id)
	}
	assert.Equal(t, int32(len(src.snaps)), obs.destroyed.Load())
}

func TestManager_SingleFlightRefresh(t *testing.T) {
	src := &fakeSource{}
	m := New[*fakeSnap](src)

	h, _ := acquire(t, m)
	require.NoError(t, h.Release())
	require.Equal(t, 1, src.opens())

	src.delay = 20 * time.Millisecond
	m.WillMutate(false)

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			h, err := m.Acquire()
			if err != nil {
				return err
			}
			return h.Release()
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 2, src.opens())
	assert.Equal(t, int64(1), m.SearcherRefCount())
}

func TestManager_RefreshFailureIsRetried(t *testing.T) {
	src := &fakeSource{}
	obs := &countingObserver{}
	m := New[*fakeSnap](src, WithObserver(obs))

	h, _ := acquire(t, m)
	defer h.Release()

	boom := errors.New("reopen failed")
	src.failNext = boom
	m.WillMutate(true)

	_, err := m.Acquire()
	require.ErrorIs(t, err, boom)
	assert.True(t, m.RefreshPending())
	assert.Equal(t, int64(1), m.HandleCount())

	h2, _ := acquire(t, m)
	defer h2.Release()
	assert.NotEqual(t, h.Version(), h2.Version())

	// The deletion hint survives the failed attempt.
	assert.Equal(t, []bool{false, true, true}, src.applyDeletes)
	assert.Equal(t, int32(1), obs.failures.Load())
	assert.Equal(t, int32(3), obs.refreshes.Load())
}

func TestManager_Close(t *testing.T) {
	src := &fakeSource{}
	m := New[*fakeSnap](src)

	h, snap := acquire(t, m)
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Close(), ErrClosed)

	_, err := m.Acquire()
	assert.ErrorIs(t, err, ErrClosed)

	// Outstanding handles keep their version alive.
	assert.Zero(t, snap.closes.Load())
	assert.Equal(t, int64(1), m.SearcherRefCount())
	require.NoError(t, h.Release())
	assert.Equal(t, int32(1), snap.closes.Load())
	assert.Equal(t, int64(0), m.SearcherRefCount())
}

func TestManager_CommitPoints(t *testing.T) {
	now := time.Unix(100, 0)
	m := New[*fakeSnap](&fakeSource{}, WithClock(func() time.Time { return now }))

	_, ok := m.LastCommit()
	assert.False(t, ok)

	m.WillMutate(false)
	cp := m.ChangesCommitted()
	assert.Equal(t, CommitPoint{Generation: 1, Time: now}, cp)

	now = now.Add(time.Second)
	m.WillMutate(false)
	m.ChangesCommitted()
	last, ok := m.LastCommit()
	require.True(t, ok)
	assert.Equal(t, uint64(2), last.Generation)
	assert.Equal(t, now, last.Time)
	assert.Equal(t, uint64(2), m.Stats().LastCommit.Generation)

	h, _ := acquire(t, m)
	assert.Equal(t, uint64(2), h.CommitGeneration())
	require.NoError(t, h.Release())
}

func TestManager_ConcurrentReadersAndWriter(t *testing.T) {
	w := bm25.New(bm25.WithMaxSegments(4))
	require.NoError(t, w.AddDocument(doc("v0", "current")))
	m := New[lexical.Reader](w)

	const batches = 300
	var done atomic.Bool

	var g errgroup.Group
	g.Go(func() error {
		defer done.Store(true)
		for i := 1; i <= batches; i++ {
			m.WillMutate(true)
			prev, next := "v"+itoa(i-1), "v"+itoa(i)
			if err := w.ApplyBatch([]lexical.Document{doc(next, "current")}, []string{prev}); err != nil {
				return err
			}
			if err := w.Commit(); err != nil {
				return err
			}
			m.ChangesCommitted()
		}
		return nil
	})

	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for !done.Load() {
				h, err := m.Acquire()
				if err != nil {
					return err
				}
				r, err := h.Snapshot()
				if err != nil {
					return err
				}
				n, err := r.Count("current")
				if err != nil {
					return err
				}
				if n != 1 {
					return errors.New("torn snapshot")
				}
				if err := h.Release(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	h, r := acquire(t, m)
	hits, err := r.Search("current", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v"+itoa(batches), hits[0].ID)
	require.NoError(t, h.Release())

	assert.Equal(t, int64(0), m.HandleCount())
	assert.Equal(t, int64(1), m.SearcherRefCount())
	assert.Equal(t, 1, w.OpenReaders())
}

func itoa(i int) string { return strconv.Itoa(i) }
