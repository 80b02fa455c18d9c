package snapshot

import (
	"io"
	"sync/atomic"
)

// Handle is a lease on one version. Its view never changes.
type Handle[S io.Closer] struct {
	v        *version[S]
	m        *Manager[S]
	released atomic.Bool
}

// Snapshot returns the pinned snapshot.
func (h *Handle[S]) Snapshot() (S, error) {
	if h.released.Load() {
		var zero S
		return zero, ErrHandleReleased
	}
	return h.v.snap, nil
}

// Version returns the id of the pinned version. Ids increase with every
// refresh.
func (h *Handle[S]) Version() uint64 { return h.v.id }

// CommitGeneration returns the commit generation that had completed when the
// pinned version was opened. The view contains at least that commit.
func (h *Handle[S]) CommitGeneration() uint64 { return h.v.gen }

// Release drops the lease. The version is closed before Release returns when
// this was its last reference. A second call returns ErrHandleReleased.
func (h *Handle[S]) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrHandleReleased
	}
	h.m.handles.Add(-1)
	h.v.decRef()
	return nil
}
