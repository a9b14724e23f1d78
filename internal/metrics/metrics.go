// Package metrics exposes crawl metrics to Prometheus and serves them,
// together with a live progress view, over HTTP.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nao1215/kanpora/internal/network"
)

const namespace = "kanpora"

// Metrics holds the crawl collectors. It implements network.Observer and
// survey.Observer and is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	// request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sessionsCreated prometheus.Counter
	proxiesEvicted  prometheus.Counter

	// quadtree node metrics
	nodesTotal     *prometheus.CounterVec
	nodeDuration   prometheus.Histogram
	listingsFound  prometheus.Counter
	deepestNode    prometheus.Gauge
	nodesSkipped   prometheus.Counter
	nodesSaturated prometheus.Counter

	depthMu  sync.Mutex
	maxDepth int
}

// New creates Metrics registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Request attempts by failure kind; \"none\" counts successes.",
		}, []string{"kind"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of request attempts in seconds.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		sessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created, including renewals after blocks.",
		}),
		proxiesEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxies_evicted_total",
			Help:      "Proxies removed from the pool after a block.",
		}),
		nodesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_searched_total",
			Help:      "Quadtree nodes searched by outcome.",
		}, []string{"outcome"}),
		nodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of box searches in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		listingsFound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_found_total",
			Help:      "Listings returned by box searches, before deduplication.",
		}),
		deepestNode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deepest_node_depth",
			Help:      "Depth of the deepest quadtree node searched.",
		}),
		nodesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_skipped_total",
			Help:      "Quadtree nodes skipped because a previous run completed them.",
		}),
		nodesSaturated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_saturated_total",
			Help:      "Quadtree nodes that reached the page ceiling.",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RequestDone implements network.Observer.
func (m *Metrics) RequestDone(kind network.FailureKind, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(kind.String()).Inc()
	m.requestDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

// SessionCreated implements network.Observer.
func (m *Metrics) SessionCreated() {
	m.sessionsCreated.Inc()
}

// ProxyEvicted implements network.Observer.
func (m *Metrics) ProxyEvicted() {
	m.proxiesEvicted.Inc()
}

// NodeSearched implements survey.Observer.
func (m *Metrics) NodeSearched(depth, found int, saturated, failed bool, elapsed time.Duration) {
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.nodesTotal.WithLabelValues(outcome).Inc()
	m.nodeDuration.Observe(elapsed.Seconds())
	m.listingsFound.Add(float64(found))
	if saturated {
		m.nodesSaturated.Inc()
	}
	m.observeDepth(depth)
}

// NodeSkipped implements survey.Observer.
func (m *Metrics) NodeSkipped(depth int) {
	m.nodesSkipped.Inc()
	m.observeDepth(depth)
}

// observeDepth raises the deepest-node gauge.
func (m *Metrics) observeDepth(depth int) {
	m.depthMu.Lock()
	defer m.depthMu.Unlock()
	if depth > m.maxDepth {
		m.maxDepth = depth
		m.deepestNode.Set(float64(depth))
	}
}
