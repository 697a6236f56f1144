// Prometheus metrics for a single LookasideRoute instance, in the style of
// felipecampolina-FCReverseProxy/internal/metrics: low-cardinality counters
// and histograms registered once per process, labeled by the route's
// helper name so multiple lookaside routes in one process stay
// distinguishable without per-key cardinality blowup.
package lookaside

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	lookasideHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookaside_cache_hits_total",
			Help: "Total cache hits observed by lookaside routes, by route name.",
		},
		[]string{"route"},
	)
	lookasideMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookaside_cache_misses_total",
			Help: "Total cache misses observed by lookaside routes, by route name.",
		},
		[]string{"route"},
	)
	lookasideReadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookaside_cache_read_errors_total",
			Help: "Total cache read transport errors, by route name.",
		},
		[]string{"route"},
	)
	lookasideWriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookaside_cache_write_errors_total",
			Help: "Total cache write transport errors (best-effort writes), by route name.",
		},
		[]string{"route"},
	)
	lookasideHotMiss = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookaside_cache_hot_miss_total",
			Help: "Total HOT_MISS_SENTINEL responses observed during lease reads, by route name.",
		},
		[]string{"route"},
	)
	lookasideLeaseWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lookaside_cache_lease_wait_seconds",
			Help:    "Observed backoff wait before each lease-read retry.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"route"},
	)
)

func registerCollectors() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			lookasideHits,
			lookasideMisses,
			lookasideReadErrors,
			lookasideWriteErrors,
			lookasideHotMiss,
			lookasideLeaseWait,
		)
	})
}

// counter is a tiny label-bound handle so Metrics fields read like atomic
// counters at call sites (r.metrics.hits.Inc()) without re-resolving the
// label vector on every increment.
type counter struct{ c prometheus.Counter }

func (c counter) Inc() {
	if c.c != nil {
		c.c.Inc()
	}
}

// Metrics bundles the per-route-name collector handles used by
// LookasideRoute. Construct with NewMetrics once per route instance.
type Metrics struct {
	route       string
	hits        counter
	misses      counter
	readErrors  counter
	writeErrors counter
	hotMiss     counter
	leaseWait   prometheus.Observer
}

// NewMetrics registers (process-wide, once) and binds metrics for a route
// identified by name (normally the helper's Name()).
func NewMetrics(name string) *Metrics {
	registerCollectors()
	return &Metrics{
		route:       name,
		hits:        counter{lookasideHits.WithLabelValues(name)},
		misses:      counter{lookasideMisses.WithLabelValues(name)},
		readErrors:  counter{lookasideReadErrors.WithLabelValues(name)},
		writeErrors: counter{lookasideWriteErrors.WithLabelValues(name)},
		hotMiss:     counter{lookasideHotMiss.WithLabelValues(name)},
		leaseWait:   lookasideLeaseWait.WithLabelValues(name),
	}
}

// ObserveLeaseWait records a backoff duration, in seconds, before a
// lease-read retry.
func (m *Metrics) ObserveLeaseWait(seconds float64) {
	if m.leaseWait != nil {
		m.leaseWait.Observe(seconds)
	}
}
