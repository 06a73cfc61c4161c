package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 1. Throughput (Counters)
	EmbedRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "embedd_embed_requests_total",
		Help: "Total number of embedding requests received",
	})

	RerankRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "embedd_rerank_requests_total",
		Help: "Total number of rerank requests received",
	})

	RequestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "embedd_request_failures_total",
		Help: "Requests that ended with a non-OK status, by method",
	}, []string{"method"})

	// 2. Latency (Histograms)
	EmbedDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "embedd_embed_duration_seconds",
		Help:    "Time taken to encode and quantize a batch",
		Buckets: prometheus.DefBuckets, // []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	})

	RerankDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "embedd_rerank_duration_seconds",
		Help:    "Time taken to score a rerank batch",
		Buckets: prometheus.DefBuckets,
	})

	// 3. State (Gauges)
	InflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "embedd_inflight_requests",
		Help: "Requests currently holding a dispatcher worker",
	})

	LifecycleState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "embedd_lifecycle_state",
		Help: "Current lifecycle state (0=Starting, 1=Serving, 2=Draining, 3=Stopped)",
	})
)
