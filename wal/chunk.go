package wal

// DefaultChunkSize is the largest value piece carried by one STORE_CHUNK.
const DefaultChunkSize = 8192

// ConsumeFunc receives buf[off:off+n]. The slice is only valid for the
// duration of the call.
type ConsumeFunc func(buf []byte, off, n int) error

// ChunkEncoder cuts a byte stream into pieces of at most size bytes. Full
// pieces are handed to consume as soon as they are complete, Flush and Close
// hand over whatever is buffered. consume is never called with n == 0; the
// end-of-value terminator is the caller's job.
type ChunkEncoder struct {
	buf     []byte
	n       int
	consume ConsumeFunc
	closed  bool
	err     error
}

// NewChunkEncoder returns an encoder with a buffer of size bytes.
// A size <= 0 selects DefaultChunkSize.
func NewChunkEncoder(size int, consume ConsumeFunc) *ChunkEncoder {
	if size <= 0 {
		size = DefaultChunkSize
	}
	return &ChunkEncoder{buf: make([]byte, size), consume: consume}
}

// Write buffers p. Once consume has failed every later call returns that
// error.
func (e *ChunkEncoder) Write(p []byte) (int, error) {
	if e.closed {
		return 0, ErrEncoderClosed
	}
	if e.err != nil {
		return 0, e.err
	}

	written := 0
	size := len(e.buf)
	for len(p) > 0 {
		// Nothing buffered and a full piece available: skip the copy.
		if e.n == 0 && len(p) >= size {
			if err := e.emit(p, 0, size); err != nil {
				return written, err
			}
			p = p[size:]
			written += size
			continue
		}

		k := copy(e.buf[e.n:], p)
		e.n += k
		p = p[k:]
		written += k
		if e.n == size {
			if err := e.drain(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush hands any buffered bytes to consume.
func (e *ChunkEncoder) Flush() error {
	if e.closed {
		return ErrEncoderClosed
	}
	if e.err != nil {
		return e.err
	}
	return e.drain()
}

// Close flushes and closes the encoder. Closing twice is a no-op.
func (e *ChunkEncoder) Close() error {
	if e.closed {
		return nil
	}
	var err error
	if e.err != nil {
		err = e.err
	} else {
		err = e.drain()
	}
	e.closed = true
	return err
}

func (e *ChunkEncoder) drain() error {
	if e.n == 0 {
		return nil
	}
	n := e.n
	e.n = 0
	return e.emit(e.buf, 0, n)
}

func (e *ChunkEncoder) emit(buf []byte, off, n int) error {
	if err := e.consume(buf, off, n); err != nil {
		e.err = err
		return err
	}
	return nil
}
