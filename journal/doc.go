// Package journal provides the append-only log that WAL records are written to.
//
// A [Log] hands out monotonically increasing log sequence numbers (LSNs) and
// guarantees that every [Reader] observes entries in exactly the order they
// were appended. A failed append never leaves a partial entry visible to a
// reader.
//
// Two implementations are provided:
//
//   - [MemoryLog]: in-process, not durable. Useful for tests and for engines
//     that rebuild state from elsewhere.
//   - [FileLog]: a single checksummed file with optional per-frame
//     compression (zstd or lz4) and two durability modes. In
//     [DurabilitySync] mode concurrent appenders share fsyncs through a
//     group-commit syncer.
//
// # File format
//
//	header: magic "LXJOURNL" | version u32 | log id [16] | base LSN u64 |
//	        compression u8 | reserved [3] | crc32c u32
//	frame:  crc32c u32 | length u32 | lsn u64 | timestamp i64 | payload
//
// The frame checksum covers everything after itself. On open, a torn or
// corrupt final frame is truncated away; corruption followed by valid frames
// is reported as [ErrCorrupt].
package journal
