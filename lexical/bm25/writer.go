package bm25

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexstore/lexical"
)

const (
	defaultK1          = 1.2
	defaultB           = 0.75
	defaultMaxSegments = 8
)

type options struct {
	k1, b       float64
	maxSegments int
	logger      *slog.Logger
}

// Option configures a Writer.
type Option func(*options)

// WithParams overrides the BM25 parameters.
func WithParams(k1, b float64) Option {
	return func(o *options) {
		o.k1 = k1
		o.b = b
	}
}

// WithMaxSegments sets the number of sealed segments after which OpenReader
// compacts the index into a single segment.
func WithMaxSegments(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSegments = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Writer is an in-memory BM25 index.
type Writer struct {
	mu   sync.Mutex
	opts options

	sealed  []*segment
	tail    *segment
	docOf   map[string]uint32
	deleted *roaring.Bitmap

	// Tombstones handed to the last reader and whether they went stale.
	shared       *roaring.Bitmap
	deletesDirty bool

	liveLen  int64
	version  uint64
	commits  uint64
	closed   bool
	compacts int

	openReaders atomic.Int64
}

var _ lexical.Writer = (*Writer)(nil)

// New returns an empty Writer.
func New(optFns ...Option) *Writer {
	opts := options{
		k1:          defaultK1,
		b:           defaultB,
		maxSegments: defaultMaxSegments,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Writer{
		opts:    opts,
		tail:    newSegment(0),
		docOf:   make(map[string]uint32),
		deleted: roaring.New(),
	}
}

// AddDocument indexes doc, replacing any document with the same id.
func (w *Writer) AddDocument(doc lexical.Document) error {
	if doc.ID == "" {
		return lexical.ErrInvalidDocument
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return lexical.ErrWriterClosed
	}
	w.addLocked(doc)
	w.version++
	return nil
}

// DeleteDocuments removes ids. Unknown ids are ignored.
func (w *Writer) DeleteDocuments(ids ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return lexical.ErrWriterClosed
	}
	if w.deleteLocked(ids) {
		w.version++
	}
	return nil
}

// ApplyBatch deletes and then adds under one lock, so no reader observes a
// partial batch.
func (w *Writer) ApplyBatch(adds []lexical.Document, deletes []string) error {
	for _, d := range adds {
		if d.ID == "" {
			return lexical.ErrInvalidDocument
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return lexical.ErrWriterClosed
	}
	changed := w.deleteLocked(deletes)
	for _, d := range adds {
		w.addLocked(d)
		changed = true
	}
	if changed {
		w.version++
	}
	return nil
}

// Commit records a commit point. The index lives in memory; durability comes
// from the log and from checkpoints written with WriteTo.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return lexical.ErrWriterClosed
	}
	w.commits++
	return nil
}

// Commits returns the number of commits since the writer was created.
func (w *Writer) Commits() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commits
}

// NumDocs returns the number of live documents.
func (w *Writer) NumDocs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.docOf)
}

// OpenReaders returns the number of readers not yet closed.
func (w *Writer) OpenReaders() int { return int(w.openReaders.Load()) }

// OpenReader seals pending additions and returns a view of the current
// state. With applyDeletes false the tombstones of the previous reader are
// reused when no delete happened since.
func (w *Writer) OpenReader(applyDeletes bool) (lexical.Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, lexical.ErrWriterClosed
	}

	if w.tail.size() > 0 {
		w.tail.seal()
		w.sealed = append(w.sealed, w.tail)
		w.tail = newSegment(w.tail.end())
	}
	if len(w.sealed) > w.opts.maxSegments {
		w.compactLocked()
	}

	if applyDeletes || w.deletesDirty || w.shared == nil {
		w.shared = w.deleted.Clone()
		w.deletesDirty = false
	}

	r := &Reader{
		segments:   append([]*segment(nil), w.sealed...),
		deleted:    w.shared,
		numDocs:    len(w.docOf),
		k1:         w.opts.k1,
		b:          w.opts.b,
		generation: w.version,
		onClose:    func() { w.openReaders.Add(-1) },
	}
	if r.numDocs > 0 {
		r.avgLen = float64(w.liveLen) / float64(r.numDocs)
	}
	w.openReaders.Add(1)
	return r, nil
}

// Close releases the writer. Open readers stay usable.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return lexical.ErrWriterClosed
	}
	w.closed = true
	w.sealed = nil
	w.tail = nil
	w.docOf = nil
	return nil
}

func (w *Writer) addLocked(doc lexical.Document) {
	w.deleteLocked([]string{doc.ID})

	fields := make([]string, 0, len(doc.Fields))
	for f := range doc.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var tokens []string
	for _, f := range fields {
		tokens = append(tokens, Tokenize(doc.Fields[f])...)
	}

	num := w.tail.add(doc.ID, tokens)
	w.docOf[doc.ID] = num
	w.liveLen += int64(len(tokens))
}

// deleteLocked tombstones ids and reports whether any was live.
func (w *Writer) deleteLocked(ids []string) bool {
	changed := false
	for _, id := range ids {
		num, ok := w.docOf[id]
		if !ok {
			continue
		}
		delete(w.docOf, id)
		w.deleted.Add(num)
		w.liveLen -= int64(w.lengthLocked(num))
		w.deletesDirty = true
		changed = true
	}
	return changed
}

func (w *Writer) lengthLocked(num uint32) uint32 {
	if w.tail.contains(num) {
		return w.tail.lengths[num-w.tail.base]
	}
	s := findSegment(w.sealed, num)
	return s.lengths[num-s.base]
}

// compactLocked merges all sealed segments, dropping deleted documents.
// Document numbers are reassigned, so the tail must be empty.
func (w *Writer) compactLocked() {
	merged := compact(w.sealed, w.deleted)
	w.sealed = []*segment{merged}
	w.tail = newSegment(merged.end())
	w.deleted = roaring.New()
	w.shared = nil
	w.docOf = make(map[string]uint32, len(merged.ids))
	for i, id := range merged.ids {
		w.docOf[id] = uint32(i)
	}
	w.compacts++
	w.opts.logger.Debug("bm25 segments compacted", "docs", len(merged.ids), "compactions", w.compacts)
}
