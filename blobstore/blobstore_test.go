package blobstore

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]BlobStore {
	return map[string]BlobStore{
		"local":  NewLocalStore(t.TempDir()),
		"memory": NewMemoryStore(),
	}
}

func TestBlobStore_Lifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			data := []byte("hello world, this is a test blob")

			w, err := store.Create(ctx, "ckpt/a.bin")
			require.NoError(t, err)
			n, err := w.Write(data)
			require.NoError(t, err)
			require.Equal(t, len(data), n)

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names, "blob must not be visible before Close")

			require.NoError(t, w.Close())
			require.ErrorIs(t, w.Close(), ErrBlobClosed)

			blob, err := store.Open(ctx, "ckpt/a.bin")
			require.NoError(t, err)
			defer blob.Close()
			require.Equal(t, int64(len(data)), blob.Size())

			rc, err := blob.ReadRange(ctx, 6, 5)
			require.NoError(t, err)
			part, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, "world", string(part))

			require.NoError(t, store.Put(ctx, "ckpt/b.bin", []byte("b")))
			require.NoError(t, store.Put(ctx, "other", nil))

			names, err = store.List(ctx, "ckpt/")
			require.NoError(t, err)
			assert.Equal(t, []string{"ckpt/a.bin", "ckpt/b.bin"}, names)

			got, err := ReadAll(ctx, store, "ckpt/a.bin")
			require.NoError(t, err)
			assert.Equal(t, data, got)

			got, err = ReadAll(ctx, store, "other")
			require.NoError(t, err)
			assert.Empty(t, got)

			require.NoError(t, store.Delete(ctx, "ckpt/a.bin"))
			require.NoError(t, store.Delete(ctx, "ckpt/a.bin"))

			_, err = store.Open(ctx, "ckpt/a.bin")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBlobStore_Abort(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			w, err := store.Create(ctx, "x")
			require.NoError(t, err)
			_, err = w.Write([]byte("partial"))
			require.NoError(t, err)
			require.NoError(t, w.Abort())

			_, err = w.Write([]byte("more"))
			require.ErrorIs(t, err, ErrBlobClosed)

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestBlobStore_ReadRangeBoundaries(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			require.NoError(t, store.Put(ctx, "r", []byte("0123456789")))

			blob, err := store.Open(ctx, "r")
			require.NoError(t, err)
			defer blob.Close()

			r, err := blob.ReadRange(ctx, 8, 5)
			require.NoError(t, err)
			content, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "89", string(content))
			require.NoError(t, r.Close())

			_, err = blob.ReadRange(ctx, 20, 5)
			require.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))

	names, err := store.List(t.Context(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_OverwriteIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := t.Context()

	require.NoError(t, store.Put(ctx, "CURRENT", []byte("one")))

	w, err := store.Create(ctx, "CURRENT")
	require.NoError(t, err)
	_, err = w.Write([]byte("two"))
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "CURRENT"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	require.NoError(t, w.Close())
	got, err = ReadAll(ctx, store, "CURRENT")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestMemoryStore_Corrupt(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Put(t.Context(), "a", []byte{0x00}))
	assert.True(t, store.Corrupt("a", 0))
	assert.False(t, store.Corrupt("a", 1))

	got, err := ReadAll(t.Context(), store, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff}, got)
}
