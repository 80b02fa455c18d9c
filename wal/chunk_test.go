package wal

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	chunks [][]byte
}

func (c *collector) consume(buf []byte, off, n int) error {
	c.chunks = append(c.chunks, bytes.Clone(buf[off:off+n]))
	return nil
}

func TestChunkEncoder_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, size := range []int{1, 3, 16, 1024} {
		for _, n := range []int{0, 1, size - 1, size, size + 1, 5*size + 2} {
			if n < 0 {
				continue
			}
			data := make([]byte, n)
			rng.Read(data)

			c := &collector{}
			enc := NewChunkEncoder(size, c.consume)

			// Feed in uneven writes.
			rest := data
			for len(rest) > 0 {
				k := min(len(rest), rng.Intn(2*size)+1)
				w, err := enc.Write(rest[:k])
				require.NoError(t, err)
				require.Equal(t, k, w)
				rest = rest[k:]
			}
			require.NoError(t, enc.Close())

			var joined []byte
			for _, ch := range c.chunks {
				require.NotEmpty(t, ch, "encoder must never emit empty chunks")
				require.LessOrEqual(t, len(ch), size)
				joined = append(joined, ch...)
			}
			assert.Equal(t, data, append([]byte{}, joined...), "size=%d n=%d", size, n)
		}
	}
}

func TestChunkEncoder_FlushAndClose(t *testing.T) {
	c := &collector{}
	enc := NewChunkEncoder(4, c.consume)

	_, err := enc.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Empty(t, c.chunks)

	require.NoError(t, enc.Flush())
	require.NoError(t, enc.Flush()) // nothing buffered
	assert.Equal(t, [][]byte{[]byte("ab")}, c.chunks)

	_, err = enc.Write([]byte("cdefgh"))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("ab"), []byte("cdef")}, c.chunks)

	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())
	assert.Equal(t, [][]byte{[]byte("ab"), []byte("cdef"), []byte("gh")}, c.chunks)

	_, err = enc.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrEncoderClosed)
	assert.ErrorIs(t, enc.Flush(), ErrEncoderClosed)
}

func TestChunkEncoder_ConsumeErrorIsSticky(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	enc := NewChunkEncoder(2, func([]byte, int, int) error {
		calls++
		return boom
	})

	n, err := enc.Write([]byte("abcd"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, n)

	_, err = enc.Write([]byte("e"))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, enc.Close(), boom)
	assert.Equal(t, 1, calls)
}
