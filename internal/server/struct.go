package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/postsearch-go/internal/embedder"
	"github.com/54b3r/postsearch-go/internal/reconcile"
	"github.com/54b3r/postsearch-go/internal/search"
	"github.com/54b3r/postsearch-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// cover a full reconcile run on POST /sync.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on GET /search
	// (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// TrustProxy makes the rate limiter key on the first X-Forwarded-For hop.
	TrustProxy bool
	// SyncToken guards the sync endpoints. If empty, authentication is
	// disabled and a warning is logged once at startup.
	SyncToken string
	// JWTSecret enables HS256 admin tokens on the push feed when non-empty.
	JWTSecret string
	// ProxyTarget enables /api/proxy/ forwarding to this origin when non-empty.
	ProxyTarget string
	// Embedder, when set, is reported through the embedder state gauges.
	Embedder *embedder.Provider
	// MetricsRegistry receives the server metrics. Defaults to a fresh
	// registry so tests and multiple servers never collide.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer serves GET /metrics. Defaults to MetricsRegistry when it
	// is a *prometheus.Registry.
	MetricsGatherer prometheus.Gatherer
}

// searcher runs GET /search. *search.Service satisfies it.
type searcher interface {
	Search(ctx context.Context, query string, limit int) (search.Response, error)
}

// syncer runs POST /sync and ingests the push feed. *reconcile.Reconciler
// satisfies it.
type syncer interface {
	Run(ctx context.Context) (reconcile.Summary, error)
	Ingest(ctx context.Context, items []reconcile.Incoming) (reconcile.Summary, error)
}

// feeder serves the cursor feed. Every store.DocumentStore satisfies it.
type feeder interface {
	Feed(ctx context.Context, limit int, after *store.Cursor) (store.FeedPage, error)
}

// Server is the HTTP surface over search, sync and the post feed.
type Server struct {
	// search answers GET /search.
	search searcher
	// sync runs reconciles and push-feed ingests.
	sync syncer
	// feed pages through stored posts.
	feed feeder
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// handler is the fully wrapped mux, exposed for tests.
	handler http.Handler
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors for this instance.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

// pushFeedRequest is the JSON body for POST /api/v1/posts/sync.
type pushFeedRequest struct {
	Posts []reconcile.Incoming `json:"posts"`
}
