package engine

import (
	"encoding/json"
	"slices"

	"github.com/hupe1980/lexstore/lexical"
	"github.com/hupe1980/lexstore/store"
	"github.com/hupe1980/lexstore/wal"
)

// Indexer extracts the searchable fields of a stored value. ok is false for
// values that should not be searchable; a previously indexed document for
// the same key is then removed.
type Indexer interface {
	Index(entity string, id wal.ID, value []byte) (fields map[string]string, ok bool)
}

// IndexerFunc adapts a function to Indexer.
type IndexerFunc func(entity string, id wal.ID, value []byte) (map[string]string, bool)

func (f IndexerFunc) Index(entity string, id wal.ID, value []byte) (map[string]string, bool) {
	return f(entity, id, value)
}

// JSONIndexer indexes the top-level string fields of JSON objects. Values
// that are not JSON objects are not indexed.
type JSONIndexer struct {
	// Entities restricts indexing to the named entities. Empty means all.
	Entities []string
	// Fields restricts indexing to the named fields. Empty means all.
	Fields []string
}

func (ix JSONIndexer) Index(entity string, _ wal.ID, value []byte) (map[string]string, bool) {
	if len(ix.Entities) > 0 && !slices.Contains(ix.Entities, entity) {
		return nil, false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(value, &obj); err != nil {
		return nil, false
	}

	fields := make(map[string]string, len(obj))
	for name, raw := range obj {
		if len(ix.Fields) > 0 && !slices.Contains(ix.Fields, name) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		fields[name] = s
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

// indexOps reduces the ops of tx to the final index state per key.
func indexOps(ix Indexer, tx *wal.Transaction) (adds []lexical.Document, deletes []string) {
	final := make(map[string]*lexical.Document, len(tx.Ops))
	order := make([]string, 0, len(tx.Ops))
	for _, op := range tx.Ops {
		key := docID(op.Entity, op.ID)
		if _, seen := final[key]; !seen {
			order = append(order, key)
		}
		final[key] = nil
		if op.Kind != wal.OpStore {
			continue
		}
		if fields, ok := ix.Index(op.Entity, op.ID, op.Value); ok {
			final[key] = &lexical.Document{ID: key, Fields: fields}
		}
	}

	for _, id := range order {
		if doc := final[id]; doc != nil {
			adds = append(adds, *doc)
		} else {
			deletes = append(deletes, id)
		}
	}
	return adds, deletes
}

// docID is the index document id of a value: its storage key.
func docID(entity string, id wal.ID) string {
	return string(store.Key(entity, id))
}
