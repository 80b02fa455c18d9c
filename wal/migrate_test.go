package wal

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexstore/journal"
)

func legacyStoreChunk(tx uint64, entity string, id uint64, chunk []byte) []byte {
	b := []byte{byte(TagStoreChunk)}
	b = binary.AppendUvarint(b, tx)
	b = binary.AppendUvarint(b, uint64(len(entity)))
	b = append(b, entity...)
	b = binary.AppendUvarint(b, 9)
	b = append(b, byte(kindLegacyInt))
	b = binary.BigEndian.AppendUint64(b, id)
	b = binary.AppendUvarint(b, uint64(len(chunk)))
	return append(b, chunk...)
}

func TestMigrate(t *testing.T) {
	src := journal.NewMemoryLog()
	start, err := Encode(StartTransaction{Tx: 1})
	require.NoError(t, err)
	commit, err := Encode(CommitTransaction{Tx: 1})
	require.NoError(t, err)

	for _, p := range [][]byte{
		start,
		legacyStoreChunk(1, "doc", 77, []byte("v")),
		legacyStoreChunk(1, "doc", 77, nil),
		commit,
	} {
		_, err := src.Append(p)
		require.NoError(t, err)
	}

	// The normal path refuses the legacy log.
	r, err := src.Reader(0)
	require.NoError(t, err)
	err = Replay(context.Background(), r, func(uint64, Message) error { return nil })
	require.ErrorIs(t, err, ErrLegacyRecord)

	r, err = src.Reader(0)
	require.NoError(t, err)
	dst := journal.NewMemoryLog()
	stats, err := Migrate(context.Background(), r, dst)
	require.NoError(t, err)
	assert.Equal(t, MigrateStats{Records: 4, Rewritten: 2}, stats)

	msgs := decodeLog(t, dst)
	require.Len(t, msgs, 4)
	assert.Equal(t, StoreChunk{Tx: 1, Entity: "doc", ID: IntID(77), Chunk: []byte("v")}, msgs[1])

	// Migrating a current log copies it unchanged.
	r, err = dst.Reader(0)
	require.NoError(t, err)
	again := journal.NewMemoryLog()
	stats, err = Migrate(context.Background(), r, again)
	require.NoError(t, err)
	assert.Equal(t, MigrateStats{Records: 4}, stats)
}

func TestMigrate_UnknownTagFails(t *testing.T) {
	src := journal.NewMemoryLog()
	_, err := src.Append([]byte{0x33, 0x01})
	require.NoError(t, err)

	r, err := src.Reader(0)
	require.NoError(t, err)
	_, err = Migrate(context.Background(), r, journal.NewMemoryLog())
	assert.ErrorIs(t, err, ErrUnknownTag)
}
