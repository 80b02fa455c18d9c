package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexstore/internal/fs"
)

func readAll(t *testing.T, l Log, from uint64) []Entry {
	t.Helper()
	r, err := l.Reader(from)
	require.NoError(t, err)
	defer r.Close()

	var out []Entry
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, e)
	}
}

func TestFileLog_AppendAndReopen(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "journal.log")
			now := time.Unix(1700000000, 0)

			l, err := OpenFile(path, WithCompression(c), WithClock(func() time.Time { return now }))
			require.NoError(t, err)

			payloads := [][]byte{
				[]byte("first"),
				{},
				[]byte(fmt.Sprintf("%0512d", 7)), // compressible
			}
			for i, p := range payloads {
				lsn, err := l.Append(p)
				require.NoError(t, err)
				assert.Equal(t, uint64(i+1), lsn)
			}
			assert.True(t, l.Durable())
			require.NoError(t, l.Close())

			l2, err := OpenFile(path)
			require.NoError(t, err)
			defer l2.Close()

			assert.Equal(t, c, l2.Header().Compression)
			assert.Equal(t, uint64(3), l2.LastLSN())

			entries := readAll(t, l2, 0)
			require.Len(t, entries, 3)
			for i, e := range entries {
				assert.Equal(t, uint64(i+1), e.LSN)
				assert.Equal(t, now.UnixNano(), e.Timestamp)
				assert.Equal(t, string(payloads[i]), string(e.Payload))
			}

			lsn, err := l2.Append([]byte("fourth"))
			require.NoError(t, err)
			assert.Equal(t, uint64(4), lsn)
		})
	}
}

func TestFileLog_ReaderFrom(t *testing.T) {
	l, err := OpenFile(filepath.Join(t.TempDir(), "j.log"), WithDurability(DurabilityAsync))
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < 5; i++ {
		_, err := l.Append([]byte{byte(i)})
		require.NoError(t, err)
	}

	entries := readAll(t, l, 4)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(4), entries[0].LSN)
	assert.Equal(t, []byte{3}, entries[0].Payload)
	assert.False(t, l.Durable())
	assert.NoError(t, l.Sync())
}

func TestFileLog_ReaderSeesPrefix(t *testing.T) {
	l, err := OpenFile(filepath.Join(t.TempDir(), "j.log"), WithDurability(DurabilityAsync))
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append([]byte("a"))
	require.NoError(t, err)

	r, err := l.Reader(0)
	require.NoError(t, err)
	defer r.Close()

	_, err = l.Append([]byte("b"))
	require.NoError(t, err)

	e, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", string(e.Payload))
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestFileLog_TornTailIsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.log")
	l, err := OpenFile(path)
	require.NoError(t, err)
	_, err = l.Append([]byte("complete"))
	require.NoError(t, err)
	_, err = l.Append([]byte("will be torn"))
	require.NoError(t, err)
	size := l.Size()
	require.NoError(t, l.Close())

	// Chop the last frame in half.
	require.NoError(t, os.Truncate(path, size-5))

	l2, err := OpenFile(path)
	require.NoError(t, err)
	defer l2.Close()

	assert.Equal(t, uint64(1), l2.LastLSN())
	entries := readAll(t, l2, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "complete", string(entries[0].Payload))

	lsn, err := l2.Append([]byte("next"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), lsn)
}

func TestFileLog_GarbageTailIsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.log")
	l, err := OpenFile(path)
	require.NoError(t, err)
	_, err = l.Append([]byte("complete"))
	require.NoError(t, err)
	_, err = l.Append([]byte("flipped"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	l2, err := OpenFile(path)
	require.NoError(t, err)
	defer l2.Close()
	assert.Equal(t, uint64(1), l2.LastLSN())
}

func TestFileLog_MidFileCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.log")
	l, err := OpenFile(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = l.Append([]byte("payload"))
		require.NoError(t, err)
	}
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[fileHeaderSize+frameHeaderSize] ^= 0xff // first payload byte
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = OpenFile(path)
	assert.ErrorIs(t, err, ErrCorrupt)

	r, err := OpenFileReader(path)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileLog_InvalidHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.log")
	require.NoError(t, os.WriteFile(path, []byte("NOTAJOURNAL-----------------------------------"), 0o644))

	_, err := OpenFile(path)
	assert.ErrorIs(t, err, ErrInvalidHeader)

	short := filepath.Join(t.TempDir(), "short.log")
	require.NoError(t, os.WriteFile(short, []byte("LX"), 0o644))
	_, err = OpenFile(short)
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestFileLog_Truncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.log")
	l, err := OpenFile(path)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := l.Append([]byte("x"))
		require.NoError(t, err)
	}
	id := l.Header().LogID

	require.NoError(t, l.Truncate())
	assert.Equal(t, uint64(3), l.LastLSN())
	assert.Empty(t, readAll(t, l, 0))

	lsn, err := l.Append([]byte("after"))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), lsn)
	require.NoError(t, l.Close())

	l2, err := OpenFile(path)
	require.NoError(t, err)
	defer l2.Close()
	assert.Equal(t, id, l2.Header().LogID)
	assert.Equal(t, uint64(3), l2.Header().BaseLSN)

	entries := readAll(t, l2, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(4), entries[0].LSN)
}

func TestFileLog_FailedAppendLeavesNoPartialFrame(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	path := filepath.Join(t.TempDir(), "j.log")

	// The header (44 bytes) and one small frame fit, the second frame is torn.
	ffs.AddRule("j.log", fs.Fault{WriteLimit: fileHeaderSize + frameHeaderSize + 4 + 10, Torn: true})

	l, err := OpenFile(path, WithFileSystem(ffs), WithDurability(DurabilityAsync))
	require.NoError(t, err)

	_, err = l.Append([]byte("ok!!"))
	require.NoError(t, err)

	_, err = l.Append([]byte("this frame does not fit"))
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, uint64(1), l.LastLSN())

	entries := readAll(t, l, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, "ok!!", string(entries[0].Payload))
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(fileHeaderSize+frameHeaderSize+4), info.Size())
}

func TestFileLog_SyncFailureIsSticky(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	path := filepath.Join(t.TempDir(), "j.log")

	l, err := OpenFile(path, WithFileSystem(ffs))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	ffs.AddRule("j.log", fs.Fault{WriteLimit: -1, FailSync: true})
	l, err = OpenFile(path, WithFileSystem(ffs))
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Append([]byte("a"))
	require.ErrorIs(t, err, fs.ErrInjected)

	_, err = l.Append([]byte("b"))
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestFileLog_GroupCommitConcurrency(t *testing.T) {
	l, err := OpenFile(filepath.Join(t.TempDir(), "j.log"), WithDurability(DurabilitySync))
	require.NoError(t, err)

	const writers, perWriter = 20, 50

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := l.Append([]byte(fmt.Sprintf("%d-%d", w, i))); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	entries := readAll(t, l, 0)
	require.Len(t, entries, writers*perWriter)

	seen := make(map[string]bool)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.LSN)
		seen[string(e.Payload)] = true
	}
	assert.Len(t, seen, writers*perWriter)
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Close(), ErrClosed)
}

func TestFileLog_ClosedOperations(t *testing.T) {
	l, err := OpenFile(filepath.Join(t.TempDir(), "j.log"))
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = l.Append([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = l.Reader(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, l.Sync(), ErrClosed)
	assert.ErrorIs(t, l.Truncate(), ErrClosed)
}

func TestParseOptions(t *testing.T) {
	d, err := ParseDurability("ASYNC")
	require.NoError(t, err)
	assert.Equal(t, DurabilityAsync, d)
	_, err = ParseDurability("maybe")
	assert.Error(t, err)

	c, err := ParseCompression("lz4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)
	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}
