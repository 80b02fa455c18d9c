package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// ErrBlobClosed is returned by writes to a closed or aborted WritableBlob.
var ErrBlobClosed = errors.New("blobstore: blob closed")

// BlobStore is an abstraction for storing immutable blobs.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Create starts a streaming write. The blob becomes visible on Close.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Put writes a blob atomically.
	Put(ctx context.Context, name string, data []byte) error

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the sorted names of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored blob.
type Blob interface {
	io.Closer

	// Size returns the size of the blob in bytes.
	Size() int64

	// ReadRange returns a reader over length bytes starting at off. It
	// returns io.EOF when off is past the end.
	ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error)
}

// WritableBlob is a streaming writer for a new blob.
type WritableBlob interface {
	io.WriteCloser

	// Abort discards the blob. It is a no-op after Close.
	Abort() error
}

// NewReader opens name and returns a reader over its full content.
func NewReader(ctx context.Context, s BlobStore, name string) (io.ReadCloser, error) {
	blob, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	if blob.Size() == 0 {
		_ = blob.Close()
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	rc, err := blob.ReadRange(ctx, 0, blob.Size())
	if err != nil {
		_ = blob.Close()
		return nil, err
	}
	return &blobReader{ReadCloser: rc, blob: blob}, nil
}

// ReadAll returns the full content of name.
func ReadAll(ctx context.Context, s BlobStore, name string) ([]byte, error) {
	rc, err := NewReader(ctx, s, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type blobReader struct {
	io.ReadCloser
	blob Blob
}

func (r *blobReader) Close() error {
	return errors.Join(r.ReadCloser.Close(), r.blob.Close())
}
