package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexstore/blobstore"
	"github.com/hupe1980/lexstore/checkpoint"
	"github.com/hupe1980/lexstore/journal"
	"github.com/hupe1980/lexstore/store"
	"github.com/hupe1980/lexstore/store/sqlite"
	"github.com/hupe1980/lexstore/wal"
)

func openEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := Open(t.Context(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func doc(title, body string) []byte {
	return []byte(fmt.Sprintf(`{"title":%q,"body":%q,"year":2024}`, title, body))
}

func commit(t *testing.T, e *Engine, fn func(tx *Tx)) {
	t.Helper()
	tx, err := e.Begin(t.Context())
	require.NoError(t, err)
	fn(tx)
	require.NoError(t, tx.Commit(t.Context()))
}

func searchIDs(t *testing.T, e *Engine, query string) []string {
	t.Helper()
	hits, err := e.Search(t.Context(), query, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.Entity+"/"+h.ID.String())
	}
	return ids
}

func TestEngine_PutGetSearch(t *testing.T) {
	e := openEngine(t)
	ctx := t.Context()

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("article", wal.StringID("go"), doc("Go", "concurrency with goroutines")))
		require.NoError(t, tx.Put("article", wal.IntID(7), doc("Rust", "ownership and borrowing")))
	})

	v, err := e.Get(ctx, "article", wal.StringID("go"))
	require.NoError(t, err)
	assert.JSONEq(t, string(doc("Go", "concurrency with goroutines")), string(v))

	hits, err := e.Search(ctx, "goroutines", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "article", hits[0].Entity)
	assert.True(t, hits[0].ID.Equal(wal.StringID("go")))
	assert.Greater(t, hits[0].Score, float32(0))

	assert.Equal(t, []string{"article/7"}, searchIDs(t, e, "borrowing"))
	assert.Empty(t, searchIDs(t, e, "2024"), "non-string fields are not indexed")

	_, err = e.Get(ctx, "article", wal.StringID("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_IntAndStringIDsAreDistinct(t *testing.T) {
	e := openEngine(t)

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("n", wal.IntID(5), doc("int", "five")))
		require.NoError(t, tx.Put("n", wal.StringID("5"), doc("string", "five")))
	})
	assert.ElementsMatch(t, []string{"n/5", "n/5"}, searchIDs(t, e, "five"))

	hits, err := e.Search(t.Context(), "five", 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	kinds := []wal.IDKind{hits[0].ID.Kind(), hits[1].ID.Kind()}
	assert.ElementsMatch(t, []wal.IDKind{wal.KindInt, wal.KindString}, kinds)
}

func TestEngine_UncommittedIsInvisible(t *testing.T) {
	e := openEngine(t)
	ctx := t.Context()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put("doc", wal.IntID(1), doc("draft", "pending words")))

	_, err = e.Get(ctx, "doc", wal.IntID(1))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, searchIDs(t, e, "pending"))

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, []string{"doc/1"}, searchIDs(t, e, "pending"))
	assert.NotZero(t, tx.LSN())
}

func TestEngine_HandleIsPointInTime(t *testing.T) {
	e := openEngine(t)

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("first", "alpha")))
	})

	h, err := e.Acquire()
	require.NoError(t, err)
	defer h.Release()

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(2), doc("second", "alpha")))
		_, err := tx.Delete("doc", wal.IntID(1))
		require.NoError(t, err)
	})

	r, err := h.Snapshot()
	require.NoError(t, err)
	old, err := r.Search("alpha", 0)
	require.NoError(t, err)
	require.Len(t, old, 1)

	assert.Equal(t, []string{"doc/2"}, searchIDs(t, e, "alpha"))
}

func TestEngine_Rollback(t *testing.T) {
	e := openEngine(t)
	ctx := t.Context()

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put("doc", wal.IntID(1), doc("gone", "never visible")))
	require.NoError(t, tx.Rollback())

	require.ErrorIs(t, tx.Rollback(), ErrTxDone)
	require.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
	require.ErrorIs(t, tx.Put("doc", wal.IntID(2), nil), ErrTxDone)

	_, err = e.Get(ctx, "doc", wal.IntID(1))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, searchIDs(t, e, "visible"))

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.ActiveTransactions)
}

func TestEngine_DeleteResult(t *testing.T) {
	e := openEngine(t)

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("a", "a")))
	})

	commit(t, e, func(tx *Tx) {
		res, err := tx.Delete("doc", wal.IntID(1))
		require.NoError(t, err)
		assert.Equal(t, wal.DeleteResult{Known: true, Existed: true}, res)

		res, err = tx.Delete("doc", wal.IntID(1))
		require.NoError(t, err)
		assert.Equal(t, wal.DeleteResult{Known: true, Existed: false}, res, "own delete is visible")

		res, err = tx.Delete("doc", wal.IntID(2))
		require.NoError(t, err)
		assert.False(t, res.Existed)

		require.NoError(t, tx.Put("doc", wal.IntID(3), []byte("x")))
		res, err = tx.Delete("doc", wal.IntID(3))
		require.NoError(t, err)
		assert.True(t, res.Existed, "own put is visible")
	})

	_, err := e.Get(t.Context(), "doc", wal.IntID(1))
	require.ErrorIs(t, err, ErrNotFound)
	_, err = e.Get(t.Context(), "doc", wal.IntID(3))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_InvalidArguments(t *testing.T) {
	e := openEngine(t)

	tx, err := e.Begin(t.Context())
	require.NoError(t, err)
	defer tx.Rollback()

	require.ErrorIs(t, tx.Put("", wal.IntID(1), nil), ErrInvalidArgument)
	require.ErrorIs(t, tx.Put("doc", wal.ID{}, nil), ErrInvalidArgument)
	_, err = tx.Delete("doc", wal.ID{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, tx.Put("doc", wal.IntID(1), []byte("still usable")))
}

func TestEngine_OversizedIDIsRejectedBeforeAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	ctx := t.Context()

	log, err := journal.OpenFile(path)
	require.NoError(t, err)
	e, err := Open(ctx, WithJournal(log))
	require.NoError(t, err)

	long := wal.StringID(strings.Repeat("k", 70000))
	commit(t, e, func(tx *Tx) {
		require.ErrorIs(t, tx.Put("doc", long, doc("long", "oversized key")), ErrInvalidArgument)
		require.ErrorIs(t, tx.PutStream("doc", long, strings.NewReader("x")), ErrInvalidArgument)
		_, err := tx.Delete("doc", long)
		require.ErrorIs(t, err, ErrInvalidArgument)
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("short", "regular key")))
	})
	require.NoError(t, e.Close())

	log, err = journal.OpenFile(path)
	require.NoError(t, err)
	e = openEngine(t, WithJournal(log))
	assert.Equal(t, 1, e.Recovery().Committed)
	assert.Equal(t, []string{"doc/1"}, searchIDs(t, e, "regular"))
}

func TestEngine_NonJSONValues(t *testing.T) {
	e := openEngine(t)
	ctx := t.Context()

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("indexed", "searchable text")))
		require.NoError(t, tx.Put("blob", wal.IntID(1), []byte{0xff, 0x00, 0x10}))
	})
	assert.Equal(t, []string{"doc/1"}, searchIDs(t, e, "searchable"))

	v, err := e.Get(ctx, "blob", wal.IntID(1))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00, 0x10}, v)

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), []byte("plain text")))
	})
	assert.Empty(t, searchIDs(t, e, "searchable"), "replacing with a non-document removes it from the index")
}

func TestEngine_PutStream(t *testing.T) {
	e := openEngine(t, WithChunkSize(8))
	ctx := t.Context()

	body := strings.Repeat("stream ", 50)
	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.PutStream("doc", wal.StringID("s"), strings.NewReader(string(doc("big", body)))))
	})

	v, err := e.Get(ctx, "doc", wal.StringID("s"))
	require.NoError(t, err)
	assert.JSONEq(t, string(doc("big", body)), string(v))
	assert.Equal(t, []string{"doc/s"}, searchIDs(t, e, "stream"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestEngine_PutStreamFailureRequiresRollback(t *testing.T) {
	e := openEngine(t)

	tx, err := e.Begin(t.Context())
	require.NoError(t, err)
	require.Error(t, tx.PutStream("doc", wal.IntID(1), io.MultiReader(strings.NewReader("part"), failingReader{})))

	err = tx.Put("doc", wal.IntID(2), []byte("x"))
	require.ErrorIs(t, err, wal.ErrTxFailed)
	require.NoError(t, tx.Rollback())
}

func TestEngine_ConcurrentTransactions(t *testing.T) {
	e := openEngine(t)
	ctx := t.Context()

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				tx, err := e.Begin(ctx)
				if !assert.NoError(t, err) {
					return
				}
				id := wal.IntID(int64(w*perWriter + i))
				assert.NoError(t, tx.Put("doc", id, doc("concurrent", fmt.Sprintf("writer%d", w))))
				assert.NoError(t, tx.Commit(ctx))
			}
		}()
	}

	var readers sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := e.Search(ctx, "concurrent", 5)
				assert.NoError(t, err)
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	hits, err := e.Search(ctx, "concurrent", 0)
	require.NoError(t, err)
	assert.Len(t, hits, writers*perWriter)

	st, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, st.Documents)
	assert.Zero(t, st.ActiveTransactions)
	assert.Equal(t, st.LastLSN, st.AppliedLSN)
	assert.Equal(t, uint64(writers*perWriter), st.CommitGeneration)
}

func TestEngine_InterleavedCommitOrder(t *testing.T) {
	e := openEngine(t)
	ctx := t.Context()

	a, err := e.Begin(ctx)
	require.NoError(t, err)
	b, err := e.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Put("doc", wal.IntID(1), doc("a", "first")))
	require.NoError(t, b.Put("doc", wal.IntID(1), doc("b", "second")))
	require.NoError(t, b.Commit(ctx))
	require.NoError(t, a.Commit(ctx))

	v, err := e.Get(ctx, "doc", wal.IntID(1))
	require.NoError(t, err)
	assert.Contains(t, string(v), `"first"`, "the later commit wins")
	assert.Greater(t, a.LSN(), b.LSN())
}

func TestEngine_RecoverFromJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	ctx := t.Context()

	log, err := journal.OpenFile(path)
	require.NoError(t, err)
	e, err := Open(ctx, WithJournal(log))
	require.NoError(t, err)

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("kept", "durable words")))
		require.NoError(t, tx.Put("doc", wal.IntID(2), doc("removed", "durable words")))
	})
	commit(t, e, func(tx *Tx) {
		_, err := tx.Delete("doc", wal.IntID(2))
		require.NoError(t, err)
	})

	rolled, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, rolled.Put("doc", wal.IntID(3), doc("rolled", "durable words")))
	require.NoError(t, rolled.Rollback())

	open, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, open.Put("doc", wal.IntID(4), doc("incomplete", "durable words")))
	lastTx := open.ID()
	require.NoError(t, e.Close())

	log, err = journal.OpenFile(path)
	require.NoError(t, err)
	e = openEngine(t, WithJournal(log))

	rec := e.Recovery()
	assert.Equal(t, 2, rec.Committed)
	assert.Equal(t, 1, rec.RolledBack)
	require.Len(t, rec.Discarded, 1)
	assert.Equal(t, lastTx, rec.Discarded[0].ID)
	assert.Empty(t, rec.CheckpointID)

	assert.Equal(t, []string{"doc/1"}, searchIDs(t, e, "durable"))
	_, err = e.Get(ctx, "doc", wal.IntID(4))
	require.ErrorIs(t, err, ErrNotFound)

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	assert.Greater(t, tx.ID(), lastTx, "transaction ids are not reused")
	require.NoError(t, tx.Rollback())
}

func TestEngine_Checkpoint(t *testing.T) {
	dir := t.TempDir()
	ctx := t.Context()
	blobs := blobstore.NewMemoryStore()

	openAll := func() *Engine {
		log, err := journal.OpenFile(filepath.Join(dir, "journal.log"))
		require.NoError(t, err)
		st, err := sqlite.Open(filepath.Join(dir, "store.db"))
		require.NoError(t, err)
		e, err := Open(ctx,
			WithJournal(log),
			WithStore(st),
			WithCheckpoints(checkpoint.New(blobs), 1),
		)
		require.NoError(t, err)
		return e
	}

	e := openAll()
	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("one", "checkpointed")))
	})

	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	_, err = e.Checkpoint(ctx)
	require.ErrorIs(t, err, ErrActiveTransactions)
	require.NoError(t, tx.Rollback())

	m, err := e.Checkpoint(ctx)
	require.NoError(t, err)
	lsn := e.log.LastLSN()
	assert.Equal(t, lsn, m.LSN)

	r, err := e.log.Reader(0)
	require.NoError(t, err)
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF, "journal is truncated for a persistent store")
	require.NoError(t, r.Close())

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(2), doc("two", "checkpointed")))
	})
	require.NoError(t, e.Close())

	e = openAll()
	defer e.Close()

	rec := e.Recovery()
	assert.Equal(t, m.ID, rec.CheckpointID)
	assert.Equal(t, lsn, rec.CheckpointLSN)
	assert.Equal(t, 1, rec.Committed)

	assert.ElementsMatch(t, []string{"doc/1", "doc/2"}, searchIDs(t, e, "checkpointed"))
	v, err := e.Get(ctx, "doc", wal.IntID(1))
	require.NoError(t, err)
	assert.Contains(t, string(v), "one")

	_, err = e.Checkpoint(ctx)
	require.NoError(t, err)
	list, err := checkpoint.New(blobs).List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1, "older checkpoints are pruned")
}

func TestEngine_CheckpointKeepsJournalForVolatileStore(t *testing.T) {
	log := journal.NewMemoryLog()
	blobs := blobstore.NewMemoryStore()
	e := openEngine(t, WithJournal(log), WithCheckpoints(checkpoint.New(blobs), 0))

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("one", "memory")))
	})
	_, err := e.Checkpoint(t.Context())
	require.NoError(t, err)

	r, err := log.Reader(0)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.Next()
	require.NoError(t, err)
}

func TestEngine_CheckpointAheadOfJournal(t *testing.T) {
	ctx := t.Context()
	blobs := blobstore.NewMemoryStore()

	e := openEngine(t, WithCheckpoints(checkpoint.New(blobs), 0))
	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("one", "lost")))
	})
	_, err := e.Checkpoint(ctx)
	require.NoError(t, err)

	_, err = Open(ctx, WithCheckpoints(checkpoint.New(blobs), 0))
	require.ErrorIs(t, err, wal.ErrCorrupt)
}

func TestEngine_NoCheckpointStore(t *testing.T) {
	e := openEngine(t)
	_, err := e.Checkpoint(t.Context())
	require.ErrorIs(t, err, ErrNoCheckpointStore)
}

type flakyStore struct {
	store.Store
	fail atomic.Bool
}

func (s *flakyStore) Apply(ctx context.Context, tx *wal.Transaction) (store.Result, error) {
	if s.fail.Load() {
		return store.Result{}, errors.New("store unavailable")
	}
	return s.Store.Apply(ctx, tx)
}

func TestEngine_ApplyFailurePoisons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	ctx := t.Context()

	log, err := journal.OpenFile(path)
	require.NoError(t, err)
	st := &flakyStore{Store: store.NewMemory()}
	e, err := Open(ctx, WithJournal(log), WithStore(st))
	require.NoError(t, err)

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("ok", "before")))
	})

	st.fail.Store(true)
	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put("doc", wal.IntID(2), doc("lost", "after")))
	require.ErrorIs(t, tx.Commit(ctx), ErrApplyFailed)

	_, err = e.Begin(ctx)
	require.ErrorIs(t, err, ErrApplyFailed)
	_, err = e.Get(ctx, "doc", wal.IntID(1))
	require.NoError(t, err, "reads keep working")
	require.NoError(t, e.Close())

	log, err = journal.OpenFile(path)
	require.NoError(t, err)
	e = openEngine(t, WithJournal(log))
	assert.ElementsMatch(t, []string{"doc/1"}, searchIDs(t, e, "before"))
	assert.ElementsMatch(t, []string{"doc/2"}, searchIDs(t, e, "after"), "the committed transaction is recovered")
}

// unsyncableLog accepts appends but fails to sync them.
type unsyncableLog struct {
	*journal.MemoryLog
	fail atomic.Bool
}

func (l *unsyncableLog) Sync() error {
	if l.fail.Load() {
		return errors.New("fsync failed")
	}
	return l.MemoryLog.Sync()
}

func TestEngine_SyncFailureLeavesStoreUntouched(t *testing.T) {
	ctx := t.Context()
	log := &unsyncableLog{MemoryLog: journal.NewMemoryLog()}
	st := store.NewMemory()
	e := openEngine(t, WithJournal(log), WithStore(st))

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("synced", "first")))
	})

	log.fail.Store(true)
	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Put("doc", wal.IntID(2), doc("unsynced", "second")))
	err = tx.Commit(ctx)
	require.ErrorIs(t, err, ErrApplyFailed)
	require.ErrorIs(t, err, wal.ErrStorage)

	_, err = st.Get(ctx, "doc", wal.IntID(2))
	require.ErrorIs(t, err, store.ErrNotFound, "the store only sees synced transactions")
	_, err = e.Get(ctx, "doc", wal.IntID(2))
	require.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, searchIDs(t, e, "second"))
	assert.Equal(t, []string{"doc/1"}, searchIDs(t, e, "first"))
}

func TestEngine_Closed(t *testing.T) {
	e, err := Open(t.Context())
	require.NoError(t, err)

	tx, err := e.Begin(t.Context())
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.ErrorIs(t, e.Close(), ErrClosed)

	_, err = e.Begin(t.Context())
	require.ErrorIs(t, err, ErrClosed)
	_, err = e.Get(t.Context(), "doc", wal.IntID(1))
	require.ErrorIs(t, err, ErrClosed)
	_, err = e.Search(t.Context(), "x", 1)
	require.ErrorIs(t, err, ErrClosed)
	_, err = e.Stats()
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, tx.Put("doc", wal.IntID(1), nil), ErrClosed)
}

func TestEngine_CloseWaitsForApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	ctx := t.Context()

	log, err := journal.OpenFile(path)
	require.NoError(t, err)
	e, err := Open(ctx, WithJournal(log))
	require.NoError(t, err)

	var (
		mu        sync.Mutex
		committed []int64
		wg        sync.WaitGroup
		next      atomic.Int64
	)
	started := make(chan struct{}, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			for {
				tx, err := e.Begin(ctx)
				if err != nil {
					return
				}
				n := next.Add(1)
				if err := tx.Put("doc", wal.IntID(n), doc("racing", "close")); err != nil {
					_ = tx.Rollback()
					return
				}
				if err := tx.Commit(ctx); err != nil {
					return
				}
				mu.Lock()
				committed = append(committed, n)
				mu.Unlock()
			}
		}()
	}
	for range 4 {
		<-started
	}
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, e.Close())
	wg.Wait()

	log, err = journal.OpenFile(path)
	require.NoError(t, err)
	e = openEngine(t, WithJournal(log))
	for _, n := range committed {
		_, err := e.Get(ctx, "doc", wal.IntID(n))
		require.NoError(t, err, "doc %d was committed before close", n)
	}
}

type recordingObserver struct {
	NoopMetricsObserver
	mu          sync.Mutex
	commits     int
	ops         int
	rollbacks   int
	searches    int
	refreshes   int
	checkpoints int
	replays     int
}

func (o *recordingObserver) OnCommit(_ time.Duration, ops int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		o.commits++
		o.ops += ops
	}
}

func (o *recordingObserver) OnRollback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rollbacks++
}

func (o *recordingObserver) OnSearch(time.Duration, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.searches++
}

func (o *recordingObserver) OnRefresh(time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshes++
}

func (o *recordingObserver) OnCheckpoint(time.Duration, int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checkpoints++
}

func (o *recordingObserver) OnReplay(time.Duration, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replays++
}

func TestEngine_Metrics(t *testing.T) {
	obs := &recordingObserver{}
	e := openEngine(t,
		WithMetricsObserver(obs),
		WithCheckpoints(checkpoint.New(blobstore.NewMemoryStore()), 0),
	)
	ctx := t.Context()

	commit(t, e, func(tx *Tx) {
		require.NoError(t, tx.Put("doc", wal.IntID(1), doc("m", "metrics")))
		require.NoError(t, tx.Put("doc", wal.IntID(2), doc("m", "metrics")))
	})
	tx, err := e.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	_, err = e.Search(ctx, "metrics", 1)
	require.NoError(t, err)
	_, err = e.Checkpoint(ctx)
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.commits)
	assert.Equal(t, 2, obs.ops)
	assert.Equal(t, 1, obs.rollbacks)
	assert.Equal(t, 1, obs.searches)
	assert.Equal(t, 1, obs.refreshes)
	assert.Equal(t, 1, obs.checkpoints)
	assert.Equal(t, 1, obs.replays)
}
