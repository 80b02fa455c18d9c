// Package store provides the persistent maps that committed transactions
// are applied to.
//
// A Store is keyed by (entity, id). Apply executes all operations of one
// wal.Transaction atomically and in log order:
//
//	res, err := st.Apply(ctx, tx)
//	for i, op := range tx.Ops {
//		if op.Kind == wal.OpDelete && res.Existed[i] {
//			// the delete removed a value
//		}
//	}
//
// Implementations:
//   - Memory: map based, not persistent. Used by tests and as the default.
//   - store/badger: dgraph-io/badger/v3.
//   - store/sqlite: mattn/go-sqlite3 in WAL mode.
package store
