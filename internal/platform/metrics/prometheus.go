package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsManager holds the catalog's Prometheus collectors on a private registry.
type MetricsManager struct {
	Registry *prometheus.Registry

	ListingWritesTotal   *prometheus.CounterVec // op
	ListingsExpiredTotal prometheus.Counter
	SearchQueriesTotal   *prometheus.CounterVec // result
	SearchLatency        prometheus.Histogram
	SearchHitsDropped    prometheus.Counter
	CacheRequestsTotal   *prometheus.CounterVec // result: hit, miss, error
	OutboxProcessedTotal *prometheus.CounterVec // op, result
	OutboxBatchDuration  prometheus.Histogram
	APIRequestsTotal     *prometheus.CounterVec   // route, status
	APIRequestLatency    *prometheus.HistogramVec // route
}

// NewMetricsManager creates and registers the collectors under namespace.
func NewMetricsManager(namespace string) *MetricsManager {
	registry := prometheus.NewRegistry()

	m := &MetricsManager{
		Registry: registry,
		ListingWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_writes_total",
			Help:      "Committed listing writes by operation.",
		}, []string{"op"}),
		ListingsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_expired_total",
			Help:      "Listings transitioned to expired by the cleanup sweep.",
		}),
		SearchQueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_queries_total",
			Help:      "Listing searches by result.",
		}, []string{"result"}),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_latency_seconds",
			Help:      "End to end latency of listing searches, hydration included.",
			Buckets:   prometheus.DefBuckets,
		}),
		SearchHitsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_hits_dropped_total",
			Help:      "Index hits dropped because the listing was missing or not visible.",
		}),
		CacheRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by result.",
		}, []string{"result"}),
		OutboxProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_records_total",
			Help:      "Outbox records handled by the relay, by operation and result.",
		}, []string{"op", "result"}),
		OutboxBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_batch_duration_seconds",
			Help:      "Duration of one relay drain pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		APIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
		APIRequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_latency_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	registry.MustRegister(
		m.ListingWritesTotal,
		m.ListingsExpiredTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchHitsDropped,
		m.CacheRequestsTotal,
		m.OutboxProcessedTotal,
		m.OutboxBatchDuration,
		m.APIRequestsTotal,
		m.APIRequestLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// NewServer returns the HTTP server exposing /metrics on addr. The caller
// starts and shuts it down.
func NewServer(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
