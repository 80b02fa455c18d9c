// Package bm25 provides an in-memory BM25 full-text index.
//
// Documents are numbered in insertion order. Added documents accumulate in a
// mutable tail segment; OpenReader seals the tail so that readers share
// immutable segments. Deletes and replacements are tombstones in a roaring
// bitmap that every reader clones, so a reader never observes later
// mutations.
//
// # Parameters
//
// Uses standard BM25 parameters: k1=1.2, b=0.75
//
// # Thread Safety
//
// The Writer serializes its own methods. Readers are safe for concurrent use.
package bm25
