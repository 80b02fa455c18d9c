//go:build !linux

package journal

import "github.com/hupe1980/lexstore/internal/fs"

func datasync(f fs.File) error {
	return f.Sync()
}
