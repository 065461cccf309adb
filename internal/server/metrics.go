package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/postsearch-go/internal/embedder"
	"github.com/54b3r/postsearch-go/internal/reconcile"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"

	namespace = "postsearch"
)

// Search outcome label values.
const (
	outcomeVector   = "vector"
	outcomeFallback = "fallback"
	outcomeEmpty    = "empty"
	outcomeError    = "error"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// syncRunsTotal counts sync runs by kind ("reconcile", "ingest") and
	// outcome ("ok", "conflict", "error").
	syncRunsTotal *prometheus.CounterVec

	// syncDocumentsTotal counts documents touched by sync, by action
	// ("inserted", "updated", "deleted", "unchanged").
	syncDocumentsTotal *prometheus.CounterVec

	// syncDurationSeconds records the wall-clock duration of sync runs.
	syncDurationSeconds *prometheus.HistogramVec

	// searchRequestsTotal counts searches by outcome: "vector", "fallback",
	// "empty", or "error".
	searchRequestsTotal *prometheus.CounterVec

	// searchFallbackTotal counts lexical fallbacks by reason.
	searchFallbackTotal *prometheus.CounterVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) registers into the provided
// registry rather than the global default. When emb is non-nil its state and
// load duration are exported as gauges read at scrape time.
func newServerMetrics(reg prometheus.Registerer, emb *embedder.Provider) *serverMetrics {
	factory := promauto.With(reg)

	m := &serverMetrics{
		syncRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs, partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),

		syncDocumentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "documents_total",
			Help:      "Documents processed by sync runs, partitioned by action.",
		}, []string{"action"}),

		syncDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of sync runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		}, []string{"kind"}),

		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of searches, partitioned by outcome.",
		}, []string{"outcome"}),

		searchFallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "fallback_total",
			Help:      "Lexical fallbacks, partitioned by the reason the vector path was skipped.",
		}, []string{"reason"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}

	if emb != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "embedder",
			Name:      "state",
			Help:      "Embedding provider state: 0 unloaded, 1 loaded, 2 unavailable.",
		}, func() float64 { return float64(emb.State()) })

		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "embedder",
			Name:      "load_duration_seconds",
			Help:      "Time the embedding model took to load; 0 until the load finishes.",
		}, func() float64 { return emb.LoadDuration().Seconds() })
	}

	return m
}

// observeSync records the outcome of one sync run.
func (m *serverMetrics) observeSync(kind, outcome string, seconds float64, sum reconcile.Summary) {
	m.syncRunsTotal.WithLabelValues(kind, outcome).Inc()
	m.syncDurationSeconds.WithLabelValues(kind).Observe(seconds)
	if outcome != "ok" {
		return
	}
	m.syncDocumentsTotal.WithLabelValues("inserted").Add(float64(sum.Inserted))
	m.syncDocumentsTotal.WithLabelValues("updated").Add(float64(sum.Updated))
	m.syncDocumentsTotal.WithLabelValues("deleted").Add(float64(sum.Deleted))
	m.syncDocumentsTotal.WithLabelValues("unchanged").Add(float64(sum.Unchanged))
}
