package snapshot

import (
	"io"
	"sync/atomic"
)

// version is one opened snapshot. refs counts the manager's cache reference
// plus one per handle.
type version[S io.Closer] struct {
	m    *Manager[S]
	snap S
	seq  uint64
	id   uint64
	gen  uint64 // commit generation completed before the open
	refs atomic.Int64
}

func newVersion[S io.Closer](m *Manager[S], snap S, seq, id, gen uint64) *version[S] {
	v := &version[S]{m: m, snap: snap, seq: seq, id: id, gen: gen}
	v.refs.Store(1)
	return v
}

// tryIncRef fails once the version has been destroyed.
func (v *version[S]) tryIncRef() bool {
	for {
		refs := v.refs.Load()
		if refs <= 0 {
			return false
		}
		if v.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

func (v *version[S]) decRef() {
	refs := v.refs.Add(-1)
	if refs > 0 {
		return
	}
	if refs < 0 {
		panic("snapshot: version reference count below zero")
	}

	err := v.snap.Close()
	v.m.live.Add(-1)
	v.m.opts.observer.OnVersionDestroyed(v.id, err)
	if err != nil {
		v.m.opts.logger.Error("closing snapshot version failed", "version", v.id, "error", err)
		return
	}
	v.m.opts.logger.Debug("snapshot version destroyed", "version", v.id)
}
