// Package snapshot hands out versioned, reference-counted read handles over
// a mutable index.
//
// A Manager wraps a Source (the index writer). Readers call Acquire and
// Release concurrently and never wait for the writer. The single writer
// actor brackets every batch with WillMutate and ChangesCommitted; the next
// Acquire after WillMutate opens a new version, at most one reopen runs at a
// time, and each version is closed exactly once when its last reference is
// dropped.
//
//	h, err := m.Acquire()
//	if err != nil {
//		return err
//	}
//	defer h.Release()
//	r, _ := h.Snapshot()
package snapshot
