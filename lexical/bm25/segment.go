package bm25

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// postingList holds the documents containing a term. freqs[i] is the term
// frequency of the i-th document in ascending order.
type postingList struct {
	docs  *roaring.Bitmap
	freqs []uint32
}

// segment is a contiguous range of document numbers starting at base.
// Sealed segments are never modified again.
type segment struct {
	base     uint32
	ids      []string
	lengths  []uint32
	postings map[string]*postingList
}

func newSegment(base uint32) *segment {
	return &segment{base: base, postings: make(map[string]*postingList)}
}

func (s *segment) size() int { return len(s.ids) }

func (s *segment) end() uint32 { return s.base + uint32(len(s.ids)) }

func (s *segment) contains(doc uint32) bool { return doc >= s.base && doc < s.end() }

// add appends a document and returns its number.
func (s *segment) add(id string, tokens []string) uint32 {
	doc := s.end()
	s.ids = append(s.ids, id)
	s.lengths = append(s.lengths, uint32(len(tokens)))

	tf := make(map[string]uint32, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	for t, n := range tf {
		s.appendPosting(t, doc, n)
	}
	return doc
}

func (s *segment) appendPosting(term string, doc, freq uint32) {
	pl, ok := s.postings[term]
	if !ok {
		pl = &postingList{docs: roaring.New()}
		s.postings[term] = pl
	}
	pl.docs.Add(doc)
	pl.freqs = append(pl.freqs, freq)
}

func (s *segment) seal() {
	for _, pl := range s.postings {
		pl.docs.RunOptimize()
	}
}

// findSegment returns the segment holding doc.
func findSegment(segs []*segment, doc uint32) *segment {
	i := sort.Search(len(segs), func(i int) bool { return segs[i].end() > doc })
	if i < len(segs) && segs[i].contains(doc) {
		return segs[i]
	}
	return nil
}

// compact rewrites the live documents of segs into one segment numbered from
// zero.
func compact(segs []*segment, deleted *roaring.Bitmap) *segment {
	out := newSegment(0)
	for _, s := range segs {
		remap := make([]uint32, s.size())
		for i := range s.ids {
			doc := s.base + uint32(i)
			if deleted.Contains(doc) {
				remap[i] = ^uint32(0)
				continue
			}
			remap[i] = out.end()
			out.ids = append(out.ids, s.ids[i])
			out.lengths = append(out.lengths, s.lengths[i])
		}

		for t, pl := range s.postings {
			it := pl.docs.Iterator()
			for i := 0; it.HasNext(); i++ {
				doc := it.Next()
				if n := remap[doc-s.base]; n != ^uint32(0) {
					out.appendPosting(t, n, pl.freqs[i])
				}
			}
		}
	}
	out.seal()
	return out
}
