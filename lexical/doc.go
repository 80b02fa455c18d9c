// Package lexical defines the full-text index consumed by the engine.
//
// A Writer is owned by a single writer actor. Readers are immutable
// point-in-time views opened from the writer; any number of goroutines may
// search one Reader concurrently.
//
// # Built-in Implementation
//
// The bm25 subpackage provides an in-memory BM25 index:
//
//	w := bm25.New()
//	_ = w.AddDocument(lexical.Document{ID: "doc/1", Fields: map[string]string{"title": "quick fox"}})
//	r, _ := w.OpenReader(false)
//	defer r.Close()
//	hits, _ := r.Search("fox", 10)
package lexical
