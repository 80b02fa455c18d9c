// Package prometheus exports engine metrics to Prometheus.
package prometheus

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/lexstore/engine"
)

const namespace = "lexstore"

// Observer implements engine.MetricsObserver.
type Observer struct {
	opLatency       *prometheus.HistogramVec
	commitOps       prometheus.Histogram
	rollbacks       prometheus.Counter
	searchHits      prometheus.Histogram
	refreshes       *prometheus.CounterVec
	checkpointBytes prometheus.Gauge
	replayed        prometheus.Gauge
}

var _ engine.MetricsObserver = (*Observer)(nil)

// New creates an Observer and registers its collectors with reg. A nil reg
// registers with the default registry.
func New(reg prometheus.Registerer) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		commitOps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_operations",
			Help:      "Operations per committed transaction.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Transactions rolled back.",
		}),
		searchHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_hits",
			Help:      "Hits returned per search.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_refreshes_total",
			Help:      "Index readers opened by the snapshot manager.",
		}, []string{"status"}),
		checkpointBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_size_bytes",
			Help:      "Compressed size of the last checkpoint.",
		}),
		replayed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_committed_transactions",
			Help:      "Committed transactions replayed by the last recovery.",
		}),
	}

	collectors := []prometheus.Collector{
		o.opLatency, o.commitOps, o.rollbacks, o.searchHits,
		o.refreshes, o.checkpointBytes, o.replayed,
	}
	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return o, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (o *Observer) OnCommit(d time.Duration, ops int, err error) {
	o.opLatency.WithLabelValues("commit", status(err)).Observe(d.Seconds())
	if err == nil {
		o.commitOps.Observe(float64(ops))
	}
}

func (o *Observer) OnRollback() { o.rollbacks.Inc() }

func (o *Observer) OnSearch(d time.Duration, hits int, err error) {
	o.opLatency.WithLabelValues("search", status(err)).Observe(d.Seconds())
	if err == nil {
		o.searchHits.Observe(float64(hits))
	}
}

func (o *Observer) OnRefresh(d time.Duration, err error) {
	o.opLatency.WithLabelValues("refresh", status(err)).Observe(d.Seconds())
	o.refreshes.WithLabelValues(status(err)).Inc()
}

func (o *Observer) OnCheckpoint(d time.Duration, size int64, err error) {
	o.opLatency.WithLabelValues("checkpoint", status(err)).Observe(d.Seconds())
	if err == nil {
		o.checkpointBytes.Set(float64(size))
	}
}

func (o *Observer) OnReplay(d time.Duration, committed int, err error) {
	o.opLatency.WithLabelValues("replay", status(err)).Observe(d.Seconds())
	o.replayed.Set(float64(committed))
}
