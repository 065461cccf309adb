package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/postsearch-go/internal/logging"
)

const (
	// defaultRateLimit and defaultRateBurst size the per-client bucket on
	// GET /search. Search-as-you-type sends one request per keystroke, so the
	// burst covers a typed word.
	defaultRateLimit = 10
	defaultRateBurst = 20

	// clientIdleTTL is how long an unseen client keeps its bucket.
	clientIdleTTL = 5 * time.Minute
	sweepInterval = time.Minute
)

// searchClient is one caller's bucket.
type searchClient struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles GET /search per client IP. Idle clients are swept
// on a ticker so the map stays bounded.
type rateLimiter struct {
	mu      sync.Mutex
	clients map[string]*searchClient

	rps        rate.Limit
	burst      int
	trustProxy bool
	log        *slog.Logger
	now        func() time.Time
}

// newRateLimiter starts the sweeper; call the returned func to stop it.
func newRateLimiter(rps float64, burst int, trustProxy bool, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		clients:    make(map[string]*searchClient),
		rps:        rate.Limit(rps),
		burst:      burst,
		trustProxy: trustProxy,
		log:        log,
		now:        time.Now,
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				rl.sweep()
			}
		}
	}()
	return rl, func() { once.Do(func() { close(done) }) }
}

// allow takes a token for ip. When the bucket is empty it reports how long
// until the next token.
func (rl *rateLimiter) allow(ip string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &searchClient{bucket: rate.NewLimiter(rl.rps, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	res := c.bucket.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

// sweep drops clients idle for longer than clientIdleTTL.
func (rl *rateLimiter) sweep() {
	cutoff := rl.now().Add(-clientIdleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	dropped := 0
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
			dropped++
		}
	}
	if dropped > 0 {
		rl.log.Debug("search: rate limiter swept idle clients",
			slog.Int("dropped", dropped),
			slog.Int("remaining", len(rl.clients)),
		)
	}
}

// retryAfter renders d as whole seconds, at least 1.
func retryAfter(d time.Duration) string {
	return strconv.Itoa(max(1, int(math.Ceil(d.Seconds()))))
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, rl.trustProxy)
		ok, wait := rl.allow(ip)
		if !ok {
			logging.FromContext(r.Context()).Warn("search: rate limited",
				slog.String("ip", ip),
				slog.Duration("retry_in", wait),
			)
			w.Header().Set("Retry-After", retryAfter(wait))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the caller's address without its port. X-Forwarded-For is
// only read when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
