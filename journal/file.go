package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/lexstore/internal/fs"
)

// FileLog is a Log stored in a single file.
type FileLog struct {
	mu     sync.Mutex
	fs     fs.FileSystem
	file   fs.File
	path   string
	header Header
	codec  codec
	opts   options
	logger *slog.Logger

	offset  int64  // end of the last complete frame
	nextLSN uint64 // LSN assigned to the next append
	buf     []byte // reused frame buffer

	// Group commit state
	syncedOffset int64
	syncing      bool
	syncCond     *sync.Cond // wakes the syncer
	doneCond     *sync.Cond // wakes waiters after a sync
	closed       bool
	lastErr      error // terminal syncer error
	wg           sync.WaitGroup
}

var _ Log = (*FileLog)(nil)
var _ Truncater = (*FileLog)(nil)

// OpenFile opens or creates the log at path. A torn final frame left by a
// crash is truncated before the log accepts appends.
func OpenFile(path string, optFns ...Option) (*FileLog, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := opts.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := opts.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	l := &FileLog{
		fs:     opts.fs,
		file:   f,
		path:   path,
		opts:   opts,
		logger: opts.logger.With("journal", path),
	}
	if err := l.init(); err != nil {
		_ = f.Close()
		return nil, err
	}
	l.syncCond = sync.NewCond(&l.mu)
	l.doneCond = sync.NewCond(&l.mu)

	if opts.durability == DurabilitySync {
		l.wg.Add(1)
		go l.runSyncer()
	}
	return l, nil
}

func (l *FileLog) init() error {
	stat, err := l.file.Stat()
	if err != nil {
		return err
	}

	if stat.Size() == 0 {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		l.header = Header{Version: fileVersion, LogID: id, Compression: l.opts.compression}
		if _, err := l.file.Write(l.header.encode()); err != nil {
			return err
		}
		if err := l.file.Sync(); err != nil {
			return err
		}
		if l.codec, err = newCodec(l.header.Compression); err != nil {
			return err
		}
		l.offset = fileHeaderSize
		l.syncedOffset = fileHeaderSize
		l.nextLSN = 1
		l.logger.Debug("journal created", "log_id", l.header.LogID, "compression", l.header.Compression)
		return nil
	}

	raw := make([]byte, fileHeaderSize)
	if _, err := l.file.ReadAt(raw, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: file too small (%d < %d)", ErrInvalidHeader, stat.Size(), fileHeaderSize)
		}
		return err
	}
	if l.header, err = decodeHeader(raw); err != nil {
		return err
	}
	if l.codec, err = newCodec(l.header.Compression); err != nil {
		return err
	}
	if l.header.Compression != l.opts.compression {
		l.logger.Debug("journal keeps recorded compression",
			"recorded", l.header.Compression, "requested", l.opts.compression)
	}

	end, last, err := scan(l.file, stat.Size(), l.header.BaseLSN)
	if err != nil {
		return err
	}
	if end < stat.Size() {
		l.logger.Warn("truncating torn journal tail",
			"valid_bytes", end, "file_bytes", stat.Size(), "last_lsn", last)
		if err := l.file.Truncate(end); err != nil {
			return fmt.Errorf("truncate torn tail: %w", err)
		}
		if err := l.file.Sync(); err != nil {
			return err
		}
	}

	l.offset = end
	l.syncedOffset = end
	l.nextLSN = last + 1
	l.logger.Debug("journal opened", "log_id", l.header.LogID, "last_lsn", last)
	return nil
}

// scan validates every frame and returns the end offset of the last good
// frame and its LSN.
func scan(f fs.File, size int64, base uint64) (int64, uint64, error) {
	fr := &frameReader{r: bufio.NewReaderSize(io.NewSectionReader(f, fileHeaderSize, size-fileHeaderSize), 64<<10)}
	dataSize := size - fileHeaderSize
	last := base
	for {
		lsn, _, _, err := fr.next()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, errTornFrame):
			return fileHeaderSize + fr.offset, last, nil
		case errors.Is(err, errChecksum):
			if fr.end >= dataSize {
				return fileHeaderSize + fr.offset, last, nil
			}
			return 0, 0, fmt.Errorf("%w: checksum mismatch at offset %d", ErrCorrupt, fileHeaderSize+fr.offset)
		default:
			return 0, 0, err
		}
		if lsn != last+1 {
			return 0, 0, fmt.Errorf("%w: lsn %d follows %d", ErrCorrupt, lsn, last)
		}
		last = lsn
	}
}

func (l *FileLog) runSyncer() {
	defer l.wg.Done()
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		for l.offset <= l.syncedOffset && !l.closed {
			l.syncCond.Wait()
		}
		if l.closed && l.offset <= l.syncedOffset {
			return
		}

		target := l.offset
		f := l.file
		l.syncing = true

		l.mu.Unlock()
		err := datasync(f)
		l.mu.Lock()

		l.syncing = false
		if err != nil {
			l.lastErr = fmt.Errorf("journal sync failed: %w", err)
			l.doneCond.Broadcast()
			return
		}
		if target > l.syncedOffset {
			l.syncedOffset = target
		}
		l.doneCond.Broadcast()
	}
}

// Append writes payload as a new frame. In DurabilitySync mode it returns
// after the frame has been fsynced.
func (l *FileLog) Append(payload []byte) (uint64, error) {
	lsn, end, err := l.appendAsync(payload)
	if err != nil {
		return 0, err
	}
	if l.opts.durability == DurabilitySync {
		if err := l.waitFor(end); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

func (l *FileLog) appendAsync(payload []byte) (uint64, int64, error) {
	if len(payload) > MaxPayloadSize {
		return 0, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, 0, ErrClosed
	}
	if l.lastErr != nil {
		return 0, 0, l.lastErr
	}

	body := payload
	if l.codec != nil {
		body = l.codec.encode(nil, payload)
	}
	lsn := l.nextLSN
	l.buf = appendFrame(l.buf[:0], lsn, l.opts.clock().UnixNano(), body)

	n, err := l.file.Write(l.buf)
	if err != nil || n != len(l.buf) {
		if err == nil {
			err = io.ErrShortWrite
		}
		// Drop whatever part of the frame reached the file so readers and
		// later appends never see it.
		if terr := l.file.Truncate(l.offset); terr != nil {
			l.lastErr = fmt.Errorf("journal append failed and tail could not be repaired: %w", errors.Join(err, terr))
		}
		return 0, 0, fmt.Errorf("journal append: %w", err)
	}

	l.offset += int64(n)
	l.nextLSN++
	if l.opts.durability == DurabilitySync {
		l.syncCond.Signal()
	}
	return lsn, l.offset, nil
}

func (l *FileLog) waitFor(offset int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.syncedOffset < offset && !l.closed && l.lastErr == nil {
		l.doneCond.Wait()
	}
	if l.lastErr != nil {
		return l.lastErr
	}
	if l.syncedOffset < offset {
		return ErrClosed
	}
	return nil
}

// Sync forces every appended frame to stable storage.
func (l *FileLog) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.lastErr != nil {
		return l.lastErr
	}

	if l.opts.durability == DurabilityAsync {
		if err := datasync(l.file); err != nil {
			return err
		}
		l.syncedOffset = l.offset
		return nil
	}

	target := l.offset
	l.syncCond.Signal()
	for l.syncedOffset < target && !l.closed && l.lastErr == nil {
		l.doneCond.Wait()
	}
	return l.lastErr
}

// Durable reports whether Append waits for fsync.
func (l *FileLog) Durable() bool {
	return l.opts.durability == DurabilitySync
}

// LastLSN returns the LSN of the last appended entry.
func (l *FileLog) LastLSN() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextLSN - 1
}

// Size returns the file size in bytes, header included.
func (l *FileLog) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offset
}

// Header returns the file header.
func (l *FileLog) Header() Header {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header
}

// Path returns the file path.
func (l *FileLog) Path() string { return l.path }

// Truncate discards every entry. The file is replaced by an empty one whose
// base LSN is the current last LSN, so numbering continues.
func (l *FileLog) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.lastErr != nil {
		return l.lastErr
	}
	for l.syncing {
		l.doneCond.Wait()
	}

	header := l.header
	header.BaseLSN = l.nextLSN - 1

	tmpPath := l.path + ".tmp"
	tmp, err := l.fs.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if _, err := tmp.Write(header.encode()); err != nil {
		_ = tmp.Close()
		_ = l.fs.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = l.fs.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = l.fs.Remove(tmpPath)
		return err
	}
	if err := l.fs.Rename(tmpPath, l.path); err != nil {
		_ = l.fs.Remove(tmpPath)
		return err
	}

	f, err := l.fs.OpenFile(l.path, os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		l.lastErr = fmt.Errorf("journal reopen after truncate: %w", err)
		return l.lastErr
	}
	_ = l.file.Close()
	l.file = f
	l.header = header
	l.offset = fileHeaderSize
	l.syncedOffset = fileHeaderSize
	l.logger.Info("journal truncated", "base_lsn", header.BaseLSN)
	return nil
}

// Close flushes pending syncs and closes the file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.syncCond.Signal()
	l.mu.Unlock()

	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.doneCond.Broadcast()
	return l.file.Close()
}

// Reader returns a reader over the entries appended before the call,
// starting at LSN from.
func (l *FileLog) Reader(from uint64) (Reader, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	limit := l.offset
	header := l.header
	c := l.codec
	l.mu.Unlock()

	f, err := l.fs.OpenFile(l.path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return newFileReader(f, header, c, limit, from), nil
}

// OpenFileReader reads an existing journal without opening it for writes.
// A torn final frame ends the iteration; it is not repaired.
func OpenFileReader(path string, optFns ...Option) (*FileReader, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	f, err := opts.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	raw := make([]byte, fileHeaderSize)
	if _, err := f.ReadAt(raw, 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	header, err := decodeHeader(raw)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	c, err := newCodec(header.Compression)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return newFileReader(f, header, c, stat.Size(), 0), nil
}

// FileReader iterates over the frames of a journal file.
type FileReader struct {
	f      fs.File
	header Header
	codec  codec
	fr     *frameReader
	limit  int64
	from   uint64
}

func newFileReader(f fs.File, header Header, c codec, limit int64, from uint64) *FileReader {
	section := io.NewSectionReader(f, fileHeaderSize, limit-fileHeaderSize)
	return &FileReader{
		f:      f,
		header: header,
		codec:  c,
		fr:     &frameReader{r: bufio.NewReaderSize(section, 64<<10)},
		limit:  limit - fileHeaderSize,
		from:   from,
	}
}

// Header returns the header of the file being read.
func (r *FileReader) Header() Header { return r.header }

// Next returns the next entry, or io.EOF.
func (r *FileReader) Next() (Entry, error) {
	if r.fr == nil {
		return Entry{}, ErrClosed
	}
	for {
		lsn, ts, body, err := r.fr.next()
		switch {
		case err == nil:
		case errors.Is(err, errTornFrame):
			return Entry{}, io.EOF
		case errors.Is(err, errChecksum):
			if r.fr.end >= r.limit {
				return Entry{}, io.EOF
			}
			return Entry{}, fmt.Errorf("%w: checksum mismatch at offset %d", ErrCorrupt, fileHeaderSize+r.fr.offset)
		default:
			return Entry{}, err
		}
		if lsn < r.from {
			continue
		}
		payload := body
		if r.codec != nil {
			if payload, err = r.codec.decode(body); err != nil {
				return Entry{}, fmt.Errorf("lsn %d: %w", lsn, err)
			}
		}
		return Entry{LSN: lsn, Timestamp: ts, Payload: payload}, nil
	}
}

// Close closes the underlying file.
func (r *FileReader) Close() error {
	if r.fr == nil {
		return ErrClosed
	}
	r.fr = nil
	return r.f.Close()
}
