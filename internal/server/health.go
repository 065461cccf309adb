package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/postsearch-go/internal/logging"
	"github.com/54b3r/postsearch-go/internal/version"
)

// probeTimeout bounds each dependency probe on GET /api/ready.
const probeTimeout = 5 * time.Second

// Pinger is a dependency that can report its own reachability. The document
// stores, the embedding provider, the Qdrant index and the Redis lock all
// satisfy it. Ping must be safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness output, e.g. "store:sqlite".
	Name() string
}

type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type readyResponse struct {
	Ready  bool         `json:"ready"`
	Checks []readyCheck `json:"checks"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version})
}

// handleReady probes every dependency in parallel. The response lists the
// checks in registration order and is 503 if any probe failed.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := probeAll(r.Context(), s.pingers)

	resp := readyResponse{Ready: true, Checks: checks}
	log := logging.FromContext(r.Context())
	for _, c := range checks {
		if c.OK {
			continue
		}
		resp.Ready = false
		log.Warn("ready: dependency unavailable",
			slog.String("dependency", c.Name),
			slog.String("error", c.Error),
			slog.Int64("latency_ms", c.LatencyMS),
		)
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// probeAll pings each dependency under its own probeTimeout so one slow
// dependency does not delay the others.
func probeAll(ctx context.Context, pingers []Pinger) []readyCheck {
	checks := make([]readyCheck, len(pingers))
	var wg sync.WaitGroup
	for i, p := range pingers {
		wg.Go(func() {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			start := time.Now()
			err := p.Ping(pctx)
			checks[i] = readyCheck{
				Name:      p.Name(),
				OK:        err == nil,
				LatencyMS: time.Since(start).Milliseconds(),
			}
			if err != nil {
				checks[i].Error = err.Error()
			}
		})
	}
	wg.Wait()
	return checks
}
