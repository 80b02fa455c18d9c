package bm25

import (
	"container/heap"
	"sort"

	"github.com/hupe1980/lexstore/lexical"
)

type scored struct {
	doc   uint32
	id    string
	score float64
}

// worse orders by score, then prefers the earlier document.
func worse(a, b scored) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.doc > b.doc
}

// topK keeps the k best results in a min-heap.
type topK struct {
	k     int
	items []scored
}

func (h *topK) Len() int           { return len(h.items) }
func (h *topK) Less(i, j int) bool { return worse(h.items[i], h.items[j]) }
func (h *topK) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *topK) Push(x any)         { h.items = append(h.items, x.(scored)) }
func (h *topK) Pop() any {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}

func (h *topK) offer(doc uint32, id string, score float64) {
	s := scored{doc: doc, id: id, score: score}
	if len(h.items) < h.k {
		heap.Push(h, s)
		return
	}
	if worse(h.items[0], s) {
		h.items[0] = s
		heap.Fix(h, 0)
	}
}

func (h *topK) sorted() []lexical.Hit {
	sort.Slice(h.items, func(i, j int) bool { return worse(h.items[j], h.items[i]) })
	hits := make([]lexical.Hit, len(h.items))
	for i, s := range h.items {
		hits[i] = lexical.Hit{ID: s.id, Score: float32(s.score)}
	}
	return hits
}
