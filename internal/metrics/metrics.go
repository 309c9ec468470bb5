package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: semantic cache lookups by outcome (hit_exact | hit_similar | miss).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semantic_cache_lookups_total",
			Help: "Semantic cache lookups by result.",
		},
		[]string{"result"},
	)

	// Counter: entries removed from the store (capacity | stale | trim | clear).
	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semantic_cache_evictions_total",
			Help: "Entries removed from the semantic cache by reason.",
		},
		[]string{"reason"},
	)

	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "semantic_cache_entries",
			Help: "Current number of cached query/answer pairs.",
		},
	)

	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "semantic_cache_inflight",
			Help: "Queries currently being computed by an owner.",
		},
	)

	// Counter: callers that joined an existing computation instead of starting one.
	JoinedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "semantic_cache_joined_total",
			Help: "Resolve calls that waited on an in-flight computation.",
		},
	)

	ComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "semantic_cache_computations_total",
			Help: "Fetch+summarize computations by outcome code.",
		},
		[]string{"outcome"},
	)

	// Histogram: best similarity seen per lookup.
	SimilarityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "semantic_cache_similarity",
			Help:    "Best cosine similarity found per lookup.",
			Buckets: []float64{0, 0.25, 0.5, 0.6, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 0.99, 1},
		},
	)

	// Histogram: persistence latency in seconds.
	PersistSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "semantic_cache_persist_seconds",
			Help:    "Latency of cache persistence operations in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
		[]string{"backend", "op"},
	)

	// Counter: calls to external collaborators (llm | embedder | scraper) by outcome code.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryagent_upstream_requests_total",
			Help: "Requests to external services by service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	UpstreamSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryagent_upstream_seconds",
			Help:    "Latency of external service calls in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 90},
		},
		[]string{"service"},
	)

	// Histogram: HTTP latency in seconds.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryagent_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheLookupsTotal,
		CacheEvictionsTotal,
		CacheEntries,
		InFlight,
		JoinedTotal,
		ComputationsTotal,
		SimilarityScore,
		PersistSeconds,
		UpstreamRequestsTotal,
		UpstreamSeconds,
		HTTPLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		HTTPLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
