// Package blobstore provides the object storage abstraction used for
// checkpoints.
//
// BlobStore implementations must be safe for concurrent use. A blob becomes
// visible only when its writer is closed successfully, so readers never
// observe a partially written object.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, temp file plus rename
//   - MemoryStore: in-memory, for tests
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3 with multipart uploads
//
// Reading a whole blob:
//
//	rc, err := blobstore.NewReader(ctx, store, "ckpt/CURRENT")
//	if err != nil {
//	    return err
//	}
//	defer rc.Close()
package blobstore
