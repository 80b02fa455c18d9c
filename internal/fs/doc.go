// Package fs provides the filesystem seam used by the file-backed journal.
//
// Production code uses [Default] ([LocalFS]). Tests wrap it in [FaultyFS]
// to make writes or syncs fail at a chosen point, including torn writes that
// leave a partial frame on disk.
//
// Operations take no context.Context: they are local syscalls that cannot be
// interrupted.
package fs
