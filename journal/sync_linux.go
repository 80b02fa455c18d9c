//go:build linux

package journal

import (
	"golang.org/x/sys/unix"

	"github.com/hupe1980/lexstore/internal/fs"
)

type fder interface {
	Fd() uintptr
}

// datasync flushes file data without forcing a metadata update when the
// file exposes a descriptor.
func datasync(f fs.File) error {
	if d, ok := f.(fder); ok {
		for {
			err := unix.Fdatasync(int(d.Fd()))
			if err != unix.EINTR {
				return err
			}
		}
	}
	return f.Sync()
}
