// Package server implements the HTTP server that exposes blog search, the
// store-diff sync, the push-feed receiver and the cursor feed.
// The server is started by the `postsearch serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/postsearch-go/internal/logging"
	"github.com/54b3r/postsearch-go/internal/reconcile"
	"github.com/54b3r/postsearch-go/internal/search"
	"github.com/54b3r/postsearch-go/internal/store"
)

const (
	// defaultFeedLimit applies when the feed limit is absent or out of range.
	defaultFeedLimit = 20
	// maxFeedLimit is the largest accepted feed page.
	maxFeedLimit = 100
	// maxPushBody bounds the push-feed request body.
	maxPushBody = 32 << 20
)

// New constructs a Server. searchSvc, syncSvc and feed are required.
func New(searchSvc searcher, syncSvc syncer, feed feeder, cfg *Config) (*Server, error) {
	if searchSvc == nil {
		return nil, fmt.Errorf("server: search service must not be nil")
	}
	if syncSvc == nil {
		return nil, fmt.Errorf("server: reconciler must not be nil")
	}
	if feed == nil {
		return nil, fmt.Errorf("server: feed store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// A cold reconcile embeds every post before responding.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.NewRegistry()
	}
	if cfg.MetricsGatherer == nil {
		if g, ok := cfg.MetricsRegistry.(prometheus.Gatherer); ok {
			cfg.MetricsGatherer = g
		} else {
			cfg.MetricsGatherer = prometheus.DefaultGatherer
		}
	}

	s := &Server{
		search:  searchSvc,
		sync:    syncSvc,
		feed:    feed,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry, cfg.Embedder),
	}

	if cfg.SyncToken == "" {
		s.log.Warn("auth disabled: POST_SYNC_TOKEN is empty, sync endpoints are open")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.TrustProxy, s.log)
	s.stopRL = stop

	mux := http.NewServeMux()
	mux.Handle("POST /sync", s.instrument("sync", syncAuth(cfg.SyncToken, "", http.HandlerFunc(s.handleSync))))
	mux.Handle("GET /search", s.instrument("search", rl.middleware(http.HandlerFunc(s.handleSearch))))
	mux.Handle("POST /api/v1/posts/sync", s.instrument("push_feed", syncAuth(cfg.SyncToken, cfg.JWTSecret, http.HandlerFunc(s.handlePushFeed))))
	mux.Handle("GET /api/posts/feed", s.instrument("feed", http.HandlerFunc(s.handleFeed)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	if cfg.ProxyTarget != "" {
		proxy, err := newProxy(cfg.ProxyTarget)
		if err != nil {
			stop()
			return nil, err
		}
		mux.Handle(proxyPrefix, s.instrument("proxy", proxy))
		s.log.Info("api proxy enabled", slog.String("target", cfg.ProxyTarget))
	}

	s.handler = requestLogger(s.log, mux)
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler, including logging middleware.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("postsearch server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleSync handles POST /sync: one store-diff reconcile.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	sum, err := s.sync.Run(r.Context())
	elapsed := time.Since(start).Seconds()
	switch {
	case err == nil:
		s.metrics.observeSync("reconcile", "ok", elapsed, sum)
		writeJSON(w, http.StatusOK, sum)
	case errors.Is(err, reconcile.ErrSyncInProgress):
		s.metrics.observeSync("reconcile", "conflict", elapsed, sum)
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.metrics.observeSync("reconcile", "error", elapsed, sum)
		log.Error("sync failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// handlePushFeed handles POST /api/v1/posts/sync: upsert pushed posts.
func (s *Server) handlePushFeed(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req pushFeedRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Posts == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "posts is required"})
		return
	}
	for _, p := range req.Posts {
		if err := p.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}

	start := time.Now()
	sum, err := s.sync.Ingest(r.Context(), req.Posts)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.metrics.observeSync("ingest", "error", elapsed, sum)
		if errors.Is(err, reconcile.ErrInvalidPost) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		log.Error("push feed ingest failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.metrics.observeSync("ingest", "ok", elapsed, sum)
	writeJSON(w, http.StatusOK, sum)
}

// handleSearch handles GET /search?q=&limit=.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	q := r.URL.Query()

	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = search.DefaultLimit
	}

	resp, err := s.search.Search(r.Context(), q.Get("q"), limit)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing to write.
			return
		}
		s.metrics.searchRequestsTotal.WithLabelValues(outcomeError).Inc()
		log.Error("search failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "search failed"})
		return
	}

	switch {
	case resp.Fallback:
		s.metrics.searchRequestsTotal.WithLabelValues(outcomeFallback).Inc()
		s.metrics.searchFallbackTotal.WithLabelValues(resp.Reason).Inc()
	case len(resp.Results) == 0:
		s.metrics.searchRequestsTotal.WithLabelValues(outcomeEmpty).Inc()
	default:
		s.metrics.searchRequestsTotal.WithLabelValues(outcomeVector).Inc()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFeed handles GET /api/posts/feed?limit=&cursorCreatedAt=&cursorId=.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	q := r.URL.Query()

	limit := defaultFeedLimit
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= maxFeedLimit {
			limit = n
		}
	}

	var cursor *store.Cursor
	if at, id := q.Get("cursorCreatedAt"), q.Get("cursorId"); at != "" && id != "" {
		t, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "cursorCreatedAt must be RFC 3339"})
			return
		}
		cursor = &store.Cursor{CreatedAt: t, ID: id}
	}

	page, err := s.feed.Feed(r.Context(), limit, cursor)
	if err != nil {
		log.Error("feed query failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal Server Error"})
		return
	}
	if page.Rows == nil {
		page.Rows = []store.FeedRow{}
	}
	writeJSON(w, http.StatusOK, page)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Debug("response encode failed", slog.Any("error", err))
	}
}
