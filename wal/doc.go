// Package wal frames transaction lifecycle events into write-ahead log
// records and decodes them again.
//
// Every record is a single journal entry. Values larger than the chunk size
// are split across several STORE_CHUNK records that are always followed by
// one zero-length terminator chunk:
//
//	START     tag=0x01 | uvarint tx
//	STORE     tag=0x02 | uvarint tx | entity | id | uvarint n | n bytes
//	DELETE    tag=0x03 | uvarint tx | entity | id
//	COMMIT    tag=0x04 | uvarint tx
//	ROLLBACK  tag=0x05 | uvarint tx
//
// entity is a uvarint length followed by UTF-8 bytes. id is a uvarint
// length followed by a kind byte and the value (0x01 zig-zag varint
// integer, 0x02 UTF-8 string).
//
// Records of different transactions may interleave. Demux reassembles
// chunked values and emits each transaction once its COMMIT is seen.
package wal
