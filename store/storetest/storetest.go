// Package storetest provides a conformance suite for store.Store
// implementations.
package storetest

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexstore/store"
	"github.com/hupe1980/lexstore/wal"
)

// Factory opens a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

func put(entity string, id wal.ID, value string) wal.Op {
	return wal.Op{Kind: wal.OpStore, Entity: entity, ID: id, Value: []byte(value)}
}

func del(entity string, id wal.ID) wal.Op {
	return wal.Op{Kind: wal.OpDelete, Entity: entity, ID: id}
}

// Run runs the conformance suite against stores created by open.
func Run(t *testing.T, open Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		_, err := st.Get(t.Context(), "doc", wal.IntID(1))
		require.ErrorIs(t, err, store.ErrNotFound)

		ok, err := st.Exists(t.Context(), "doc", wal.IntID(1))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ApplyInOrder", func(t *testing.T) {
		st := open(t)
		defer st.Close()
		ctx := t.Context()

		tx := &wal.Transaction{ID: 1, Ops: []wal.Op{
			put("doc", wal.IntID(1), "a"),
			put("doc", wal.StringID("x"), "b"),
			put("doc", wal.IntID(1), "c"),
			del("doc", wal.IntID(2)),
			del("doc", wal.StringID("x")),
		}}
		res, err := st.Apply(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, []bool{false, false, true, false, true}, res.Existed)
		assert.Equal(t, 3, res.Stored)
		assert.Equal(t, 2, res.Deleted)
		assert.Equal(t, 1, res.Removed(tx))

		v, err := st.Get(ctx, "doc", wal.IntID(1))
		require.NoError(t, err)
		assert.Equal(t, "c", string(v))

		_, err = st.Get(ctx, "doc", wal.StringID("x"))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("LargeTransaction", func(t *testing.T) {
		if testing.Short() {
			t.Skip("large transaction skipped in short mode")
		}
		st := open(t)
		defer st.Close()
		ctx := t.Context()

		const n = 200000
		ops := make([]wal.Op, 0, n+2)
		for i := range n {
			ops = append(ops, put("doc", wal.IntID(int64(i)), "v"+strconv.Itoa(i)))
		}
		ops = append(ops, put("doc", wal.IntID(0), "rewritten"), del("doc", wal.IntID(1)))

		res, err := st.Apply(ctx, &wal.Transaction{ID: 1, Ops: ops})
		require.NoError(t, err)
		assert.Equal(t, n+1, res.Stored)
		assert.Equal(t, 1, res.Deleted)
		assert.False(t, res.Existed[0])
		assert.True(t, res.Existed[n], "the first op on the key is seen")
		assert.True(t, res.Existed[n+1])

		v, err := st.Get(ctx, "doc", wal.IntID(0))
		require.NoError(t, err)
		assert.Equal(t, "rewritten", string(v))
		v, err = st.Get(ctx, "doc", wal.IntID(n-1))
		require.NoError(t, err)
		assert.Equal(t, "v"+strconv.Itoa(n-1), string(v))
		_, err = st.Get(ctx, "doc", wal.IntID(1))
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("KeysAreDistinct", func(t *testing.T) {
		st := open(t)
		defer st.Close()
		ctx := t.Context()

		_, err := st.Apply(ctx, &wal.Transaction{ID: 1, Ops: []wal.Op{
			put("a", wal.StringID("1"), "string"),
			put("a", wal.IntID(1), "int"),
			put("a1", wal.StringID(""), "other entity"),
		}})
		require.NoError(t, err)

		v, err := st.Get(ctx, "a", wal.StringID("1"))
		require.NoError(t, err)
		assert.Equal(t, "string", string(v))

		v, err = st.Get(ctx, "a", wal.IntID(1))
		require.NoError(t, err)
		assert.Equal(t, "int", string(v))

		ok, err := st.Exists(ctx, "a", wal.StringID(""))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("EmptyValue", func(t *testing.T) {
		st := open(t)
		defer st.Close()
		ctx := t.Context()

		_, err := st.Apply(ctx, &wal.Transaction{ID: 1, Ops: []wal.Op{
			{Kind: wal.OpStore, Entity: "doc", ID: wal.IntID(7), Value: []byte{}},
		}})
		require.NoError(t, err)

		v, err := st.Get(ctx, "doc", wal.IntID(7))
		require.NoError(t, err)
		assert.Empty(t, v)
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		st := open(t)
		defer st.Close()
		ctx := t.Context()

		value := []byte("hello")
		_, err := st.Apply(ctx, &wal.Transaction{ID: 1, Ops: []wal.Op{
			{Kind: wal.OpStore, Entity: "doc", ID: wal.IntID(1), Value: value},
		}})
		require.NoError(t, err)
		value[0] = 'j'

		v, err := st.Get(ctx, "doc", wal.IntID(1))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(v))
		v[0] = 'y'

		v, err = st.Get(ctx, "doc", wal.IntID(1))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(v))
	})

	t.Run("CanceledContext", func(t *testing.T) {
		st := open(t)
		defer st.Close()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, err := st.Apply(ctx, &wal.Transaction{ID: 1, Ops: []wal.Op{put("doc", wal.IntID(1), "a")}})
		require.ErrorIs(t, err, context.Canceled)

		ok, err := st.Exists(t.Context(), "doc", wal.IntID(1))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ConcurrentReaders", func(t *testing.T) {
		st := open(t)
		defer st.Close()
		ctx := t.Context()

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					if _, err := st.Get(ctx, "doc", wal.IntID(int64(i))); err != nil {
						assert.ErrorIs(t, err, store.ErrNotFound)
					}
				}
			}()
		}
		for i := 0; i < 50; i++ {
			_, err := st.Apply(ctx, &wal.Transaction{ID: uint64(i + 1), Ops: []wal.Op{
				put("doc", wal.IntID(int64(i)), "v"),
			}})
			require.NoError(t, err)
		}
		wg.Wait()
	})
}
