package prometheus

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexstore/engine"
	"github.com/hupe1980/lexstore/wal"
)

func TestObserver(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	o, err := New(reg)
	require.NoError(t, err)

	o.OnCommit(time.Millisecond, 3, nil)
	o.OnCommit(time.Millisecond, 1, errors.New("boom"))
	o.OnRollback()
	o.OnRollback()
	o.OnSearch(time.Millisecond, 7, nil)
	o.OnRefresh(time.Millisecond, nil)
	o.OnCheckpoint(time.Second, 4096, nil)
	o.OnReplay(time.Second, 12, nil)

	assert.InDelta(t, 2, testutil.ToFloat64(o.rollbacks), 0)
	assert.InDelta(t, 4096, testutil.ToFloat64(o.checkpointBytes), 0)
	assert.InDelta(t, 12, testutil.ToFloat64(o.replayed), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(o.refreshes.WithLabelValues("success")), 0)

	expected := `
# HELP lexstore_rollbacks_total Transactions rolled back.
# TYPE lexstore_rollbacks_total counter
lexstore_rollbacks_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "lexstore_rollbacks_total"))

	n, err := testutil.GatherAndCount(reg, "lexstore_operation_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 6, n, "commit/success, commit/error, search, refresh, checkpoint, replay")
}

func TestObserver_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}

func TestObserver_WithEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := New(reg)
	require.NoError(t, err)

	e, err := engine.Open(t.Context(), engine.WithMetricsObserver(o))
	require.NoError(t, err)
	defer e.Close()

	tx, err := e.Begin(t.Context())
	require.NoError(t, err)
	require.NoError(t, tx.Put("doc", wal.IntID(1), []byte(`{"title":"observed"}`)))
	require.NoError(t, tx.Commit(t.Context()))

	hits, err := e.Search(t.Context(), "observed", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	assert.Equal(t, 1, testutil.CollectAndCount(o.searchHits))
	assert.InDelta(t, 0, testutil.ToFloat64(o.replayed), 0)
}
