package bm25

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexstore/lexical"
)

// ErrInvalidData is returned by ReadFrom for input not produced by WriteTo.
var ErrInvalidData = errors.New("bm25: invalid index data")

const (
	persistMagic   = "LXBM25"
	persistVersion = 1

	// maxPersistString bounds ids and terms read back from a stream.
	maxPersistString = 1 << 20
)

// WriteTo serializes the live documents. Layout:
//
//	magic | version u8 | uvarint docs | docs × (id, uvarint length)
//	uvarint terms | terms × (term, uvarint n, roaring bitmap[n], freqs)
//
// Strings are uvarint length prefixed, freqs are uvarints in document order.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, lexical.ErrWriterClosed
	}
	segs := append(append([]*segment(nil), w.sealed...), w.tail)
	live := compact(segs, w.deleted)
	w.mu.Unlock()

	cw := &countingWriter{w: dst}
	bw := bufio.NewWriter(cw)
	var scratch []byte

	scratch = append(scratch, persistMagic...)
	scratch = append(scratch, persistVersion)
	scratch = binary.AppendUvarint(scratch, uint64(len(live.ids)))
	for i, id := range live.ids {
		scratch = appendString(scratch, id)
		scratch = binary.AppendUvarint(scratch, uint64(live.lengths[i]))
	}

	terms := make([]string, 0, len(live.postings))
	for t := range live.postings {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	scratch = binary.AppendUvarint(scratch, uint64(len(terms)))
	if _, err := bw.Write(scratch); err != nil {
		return cw.n, err
	}

	for _, t := range terms {
		pl := live.postings[t]
		scratch = appendString(scratch[:0], t)
		scratch = binary.AppendUvarint(scratch, pl.docs.GetSerializedSizeInBytes())
		if _, err := bw.Write(scratch); err != nil {
			return cw.n, err
		}
		if _, err := pl.docs.WriteTo(bw); err != nil {
			return cw.n, err
		}
		scratch = scratch[:0]
		for _, f := range pl.freqs {
			scratch = binary.AppendUvarint(scratch, uint64(f))
		}
		if _, err := bw.Write(scratch); err != nil {
			return cw.n, err
		}
	}

	if err := bw.Flush(); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// ReadFrom replaces the contents of w with an index serialized by WriteTo.
func (w *Writer) ReadFrom(src io.Reader) (int64, error) {
	cr := &countingReader{r: src}
	seg, err := readSegment(bufio.NewReader(cr))
	if err != nil {
		return cr.n, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return cr.n, lexical.ErrWriterClosed
	}

	w.sealed = []*segment{seg}
	w.tail = newSegment(seg.end())
	w.deleted = roaring.New()
	w.shared = nil
	w.deletesDirty = false
	w.docOf = make(map[string]uint32, len(seg.ids))
	w.liveLen = 0
	for i, id := range seg.ids {
		w.docOf[id] = uint32(i)
		w.liveLen += int64(seg.lengths[i])
	}
	w.version++
	return cr.n, nil
}

// Restore returns a Writer loaded from an index serialized by WriteTo.
func Restore(r io.Reader, optFns ...Option) (*Writer, error) {
	w := New(optFns...)
	if _, err := w.ReadFrom(r); err != nil {
		return nil, err
	}
	return w, nil
}

func readSegment(br *bufio.Reader) (*segment, error) {
	head := make([]byte, len(persistMagic)+1)
	if _, err := io.ReadFull(br, head); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrInvalidData, err)
	}
	if string(head[:len(persistMagic)]) != persistMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidData)
	}
	if head[len(persistMagic)] != persistVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidData, head[len(persistMagic)])
	}

	numDocs, err := readUvarint(br, "doc count")
	if err != nil {
		return nil, err
	}
	seg := newSegment(0)
	seen := make(map[string]struct{})
	for i := uint64(0); i < numDocs; i++ {
		id, err := readString(br)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup || id == "" {
			return nil, fmt.Errorf("%w: duplicate or empty id %q", ErrInvalidData, id)
		}
		seen[id] = struct{}{}
		length, err := readUvarint(br, "doc length")
		if err != nil {
			return nil, err
		}
		seg.ids = append(seg.ids, id)
		seg.lengths = append(seg.lengths, uint32(length))
	}

	numTerms, err := readUvarint(br, "term count")
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numTerms; i++ {
		term, err := readString(br)
		if err != nil {
			return nil, err
		}
		size, err := readUvarint(br, "bitmap size")
		if err != nil {
			return nil, err
		}
		docs := roaring.New()
		if _, err := docs.ReadFrom(io.LimitReader(br, int64(size))); err != nil {
			return nil, fmt.Errorf("%w: postings of %q: %w", ErrInvalidData, term, err)
		}
		if !docs.IsEmpty() && docs.Maximum() >= uint32(numDocs) {
			return nil, fmt.Errorf("%w: postings of %q reference unknown documents", ErrInvalidData, term)
		}
		pl := &postingList{docs: docs, freqs: make([]uint32, docs.GetCardinality())}
		for j := range pl.freqs {
			f, err := readUvarint(br, "term frequency")
			if err != nil {
				return nil, err
			}
			pl.freqs[j] = uint32(f)
		}
		seg.postings[term] = pl
	}
	return seg, nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func readUvarint(br *bufio.Reader, field string) (uint64, error) {
	v, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrInvalidData, field, err)
	}
	return v, nil
}

func readString(br *bufio.Reader) (string, error) {
	n, err := readUvarint(br, "string length")
	if err != nil {
		return "", err
	}
	if n > maxPersistString {
		return "", fmt.Errorf("%w: string of %d bytes", ErrInvalidData, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(br, b); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidData, err)
	}
	return string(b), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
