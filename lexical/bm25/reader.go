package bm25

import (
	"math"
	"strings"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/lexstore/lexical"
)

// Reader is an immutable view of a Writer.
type Reader struct {
	segments   []*segment
	deleted    *roaring.Bitmap
	numDocs    int
	avgLen     float64
	k1, b      float64
	generation uint64

	closed  atomic.Bool
	onClose func()
}

var _ lexical.Reader = (*Reader)(nil)

// NumDocs returns the number of live documents.
func (r *Reader) NumDocs() int { return r.numDocs }

// Generation returns the writer version the reader was opened on.
func (r *Reader) Generation() uint64 { return r.generation }

// Close releases the reader. A second Close returns lexical.ErrReaderClosed.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return lexical.ErrReaderClosed
	}
	if r.onClose != nil {
		r.onClose()
	}
	return nil
}

// Count returns the number of live documents matching query.
func (r *Reader) Count(query string) (int, error) {
	if r.closed.Load() {
		return 0, lexical.ErrReaderClosed
	}
	if isMatchAll(query) {
		return r.numDocs, nil
	}
	terms := uniqueTerms(query)

	var total uint64
	for _, s := range r.segments {
		var lists []*roaring.Bitmap
		for _, t := range terms {
			if pl, ok := s.postings[t]; ok {
				lists = append(lists, pl.docs)
			}
		}
		if len(lists) == 0 {
			continue
		}
		union := roaring.FastOr(lists...)
		total += union.GetCardinality() - union.AndCardinality(r.deleted)
	}
	return int(total), nil
}

// Search returns the k highest scoring live documents. Query terms are
// OR-ed; "*" matches all documents with score zero in insertion order.
func (r *Reader) Search(query string, k int) ([]lexical.Hit, error) {
	if r.closed.Load() {
		return nil, lexical.ErrReaderClosed
	}
	if k <= 0 {
		k = r.numDocs
	}
	if k == 0 {
		return nil, nil
	}
	if isMatchAll(query) {
		return r.all(k), nil
	}

	var weights []termWeight
	for _, t := range uniqueTerms(query) {
		if df := r.docFreq(t); df > 0 {
			weights = append(weights, termWeight{term: t, idf: r.idf(df)})
		}
	}
	if len(weights) == 0 {
		return nil, nil
	}

	h := &topK{k: k}
	for _, s := range r.segments {
		r.scoreSegment(s, weights, h)
	}
	return h.sorted(), nil
}

func (r *Reader) all(k int) []lexical.Hit {
	hits := make([]lexical.Hit, 0, min(k, r.numDocs))
	for _, s := range r.segments {
		for i, id := range s.ids {
			if len(hits) == k {
				return hits
			}
			if !r.deleted.Contains(s.base + uint32(i)) {
				hits = append(hits, lexical.Hit{ID: id})
			}
		}
	}
	return hits
}

func (r *Reader) docFreq(term string) uint64 {
	var df uint64
	for _, s := range r.segments {
		if pl, ok := s.postings[term]; ok {
			df += pl.docs.GetCardinality() - pl.docs.AndCardinality(r.deleted)
		}
	}
	return df
}

func (r *Reader) idf(df uint64) float64 {
	// IDF = log(1 + (N - n + 0.5) / (n + 0.5))
	n := float64(r.numDocs)
	f := float64(df)
	return math.Log(1 + (n-f+0.5)/(f+0.5))
}

// scoreSegment runs a document-at-a-time pass over the posting lists of one
// segment.
func (r *Reader) scoreSegment(s *segment, weights []termWeight, h *topK) {
	iters := make([]termIterator, 0, len(weights))
	for _, tw := range weights {
		if pl, ok := s.postings[tw.term]; ok {
			iters = append(iters, newTermIterator(pl, tw.idf))
		}
	}
	if len(iters) == 0 {
		return
	}

	// Precompute BM25 constants for this query
	k1Plus1 := r.k1 + 1
	k1Base := r.k1 * (1 - r.b)
	k1Scaled := 0.0
	if r.avgLen > 0 {
		k1Scaled = r.k1 * r.b / r.avgLen
	}

	for {
		minDoc := exhausted
		for i := range iters {
			if d := iters[i].doc(); d < minDoc {
				minDoc = d
			}
		}
		if minDoc == exhausted {
			return
		}

		var score float64
		docLen := float64(s.lengths[minDoc-s.base])
		for i := range iters {
			it := &iters[i]
			if it.doc() != minDoc {
				continue
			}
			tf := float64(it.freq())
			score += it.idf * (tf * k1Plus1) / (tf + k1Base + k1Scaled*docLen)
			it.next()
		}

		if score > 0 && !r.deleted.Contains(minDoc) {
			h.offer(minDoc, s.ids[minDoc-s.base], score)
		}
	}
}

type termWeight struct {
	term string
	idf  float64
}

func isMatchAll(query string) bool {
	return strings.TrimSpace(query) == lexical.MatchAll
}

func uniqueTerms(query string) []string {
	tokens := Tokenize(query)
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
