// Package lexstore provides an embedded transactional document store with a
// BM25 full-text index.
//
// Every write is framed into a write-ahead journal before it is applied.
// Committed transactions become visible atomically to Get, Search and
// newly acquired index snapshots; rolled back and unfinished transactions
// never do. After a crash, Open rebuilds the committed state from the
// newest index checkpoint and the journal.
//
// # Quick Start
//
// In-memory (nothing survives Close):
//
//	ctx := context.Background()
//	db, _ := lexstore.Open(ctx)
//	defer db.Close()
//
// Configured from a YAML file and LEXSTORE_ environment variables:
//
//	db, _ := lexstore.Open(ctx, lexstore.WithConfigFile("lexstore.yaml"))
//
// # Writing
//
// Single operations run in their own transaction:
//
//	_ = db.Put(ctx, "doc", lexstore.IntID(1), []byte(`{"title":"hello world"}`))
//	existed, _ := db.Delete(ctx, "doc", lexstore.StringID("draft"))
//
// Update groups several operations. The transaction is committed when fn
// returns nil and rolled back otherwise:
//
//	err := db.Update(ctx, func(tx *lexstore.Tx) error {
//	    if err := tx.Put("doc", lexstore.IntID(2), body); err != nil {
//	        return err
//	    }
//	    _, err := tx.Delete("doc", lexstore.IntID(1))
//	    return err
//	})
//
// Large values can be streamed with Tx.PutStream; they are split into
// journal records of at most the configured chunk size.
//
// # Searching
//
//	results, _ := db.Search("hello").Limit(10).Entity("doc").WithValues().Execute(ctx)
//	for r, err := range db.Search("hello").Stream(ctx) {
//	    ...
//	}
//
// By default, values are indexed when they are JSON objects; every
// top-level string field becomes a searchable field. See engine.JSONIndexer.
//
// # Durability
//
// The journal durability mode decides when Commit returns: "sync" fsyncs
// every record, "async" syncs in the background and once per commit.
// Checkpoint persists the index so that recovery only replays the journal
// tail; with a persistent store the journal is truncated afterwards.
package lexstore
