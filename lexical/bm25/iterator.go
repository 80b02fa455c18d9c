package bm25

import "github.com/RoaringBitmap/roaring/v2"

const exhausted = ^uint32(0)

// termIterator walks one posting list in document order.
type termIterator struct {
	it    roaring.IntPeekable
	freqs []uint32
	pos   int
	cur   uint32
	idf   float64
}

func newTermIterator(pl *postingList, idf float64) termIterator {
	ti := termIterator{it: pl.docs.Iterator(), freqs: pl.freqs, pos: -1, idf: idf}
	ti.next()
	return ti
}

// doc returns the current document, or exhausted.
func (ti *termIterator) doc() uint32 { return ti.cur }

func (ti *termIterator) freq() uint32 { return ti.freqs[ti.pos] }

func (ti *termIterator) next() {
	if !ti.it.HasNext() {
		ti.cur = exhausted
		return
	}
	ti.cur = ti.it.Next()
	ti.pos++
}
