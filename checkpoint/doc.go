// Package checkpoint stores point-in-time copies of the search index in a
// blobstore.BlobStore.
//
// A checkpoint taken at LSN n contains the effect of every transaction
// committed at or before n. Recovery restores the latest checkpoint and
// replays the journal from n+1.
//
// Layout below the prefix (default "ckpt/"):
//
//	<ulid>.bin   zstd-compressed index data
//	<ulid>.json  manifest (lsn, size, crc32c of the .bin blob)
//	CURRENT      id of the latest complete checkpoint
//
// CURRENT is written last, so a crash during Save leaves the previous
// checkpoint in place. Prune removes old checkpoints and orphaned blobs.
package checkpoint
