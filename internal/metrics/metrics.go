// Package metrics collects and exposes Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the full set of hooks used by the duplicate detector, the
// view cache and the hash backfill.
type Recorder interface {
	RecordDuplicateCheck(found bool)
	RecordViewCacheHit()
	RecordViewCacheMiss()
	RecordViewComputation(elapsed time.Duration)
	RecordBackfillChunk(items int)
	RecordBackfillFailure()
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	duplicateChecks  *prometheus.CounterVec
	viewCache        *prometheus.CounterVec
	viewCompute      prometheus.Histogram
	backfillHashed   prometheus.Counter
	backfillChunks   prometheus.Counter
	backfillFailures prometheus.Counter
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		duplicateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refdraft_duplicate_checks_total",
			Help: "Duplicate reference checks by outcome.",
		}, []string{"result"}),
		viewCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "refdraft_view_cache_requests_total",
			Help: "Filtered view lookups by cache outcome.",
		}, []string{"result"}),
		viewCompute: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "refdraft_view_compute_seconds",
			Help:    "Time spent recomputing the filtered view.",
			Buckets: prometheus.DefBuckets,
		}),
		backfillHashed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refdraft_backfill_hashed_total",
			Help: "References hashed by the backfill migration.",
		}),
		backfillChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refdraft_backfill_chunks_total",
			Help: "Backfill chunks committed.",
		}),
		backfillFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "refdraft_backfill_failures_total",
			Help: "Backfill chunks that failed to commit.",
		}),
	}

	reg.MustRegister(
		c.duplicateChecks,
		c.viewCache,
		c.viewCompute,
		c.backfillHashed,
		c.backfillChunks,
		c.backfillFailures,
	)

	return c
}

func (c *Collector) RecordDuplicateCheck(found bool) {
	result := "unique"
	if found {
		result = "duplicate"
	}
	c.duplicateChecks.WithLabelValues(result).Inc()
}

func (c *Collector) RecordViewCacheHit() {
	c.viewCache.WithLabelValues("hit").Inc()
}

func (c *Collector) RecordViewCacheMiss() {
	c.viewCache.WithLabelValues("miss").Inc()
}

func (c *Collector) RecordViewComputation(elapsed time.Duration) {
	c.viewCompute.Observe(elapsed.Seconds())
}

func (c *Collector) RecordBackfillChunk(items int) {
	c.backfillChunks.Inc()
	c.backfillHashed.Add(float64(items))
}

func (c *Collector) RecordBackfillFailure() {
	c.backfillFailures.Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
