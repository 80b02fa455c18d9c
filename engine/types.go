package engine

import (
	"time"

	"github.com/hupe1980/lexstore/wal"
)

// Hit is one search result.
type Hit struct {
	Entity string
	ID     wal.ID
	Score  float32
}

// RecoveryStats describes what Open found in the journal.
type RecoveryStats struct {
	// CheckpointID is the restored checkpoint, empty when none was found.
	CheckpointID  string
	CheckpointLSN uint64

	// Records is the number of journal records replayed.
	Records    int
	Committed  int
	RolledBack int

	// Discarded lists transactions that were started but never ended.
	Discarded []wal.PendingTx

	Duration time.Duration
}

// Stats is a point-in-time summary of the engine.
type Stats struct {
	// Handles is the number of snapshot handles not yet released.
	Handles int64
	// SearcherRefs is the number of live index reader versions.
	SearcherRefs int64

	ActiveTransactions int
	LastLSN            uint64
	AppliedLSN         uint64
	CommitGeneration   uint64
	LastCommit         time.Time
	Refreshes          uint64
	RefreshPending     bool
	Documents          int

	Recovery RecoveryStats
}
