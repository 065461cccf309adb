// Package keepalive pings a deployed instance on an interval so idle hosting
// plans do not spin it down.
package keepalive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/postsearch-go/internal/logging"
	"github.com/54b3r/postsearch-go/internal/version"
)

const (
	// DefaultTimeout bounds each ping.
	DefaultTimeout = 5 * time.Second

	// previewLen is the maximum number of runes of body logged per ping.
	previewLen = 120
	// maxBodyRead bounds how much of the response body is read.
	maxBodyRead = 4096
)

// ErrInvalidInterval is returned for a non-positive interval.
var ErrInvalidInterval = errors.New("keepalive: interval must be positive")

// Config configures a Pinger.
type Config struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	// HTTPClient defaults to a client without its own timeout; Timeout is
	// applied per request through the context.
	HTTPClient *http.Client
}

// Pinger issues periodic GET requests against one URL.
type Pinger struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	log      *slog.Logger
}

// Result is the outcome of one ping.
type Result struct {
	Status  int
	Elapsed time.Duration
	Preview string
}

// New validates cfg. A non-positive Interval is rejected; a non-positive
// Timeout takes DefaultTimeout.
func New(cfg Config, log *slog.Logger) (*Pinger, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("keepalive: url is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, cfg.Interval)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Pinger{
		url:      NormalizeURL(cfg.URL),
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		client:   cfg.HTTPClient,
		log:      log,
	}, nil
}

// NormalizeURL trims trailing slashes and appends exactly one.
func NormalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/") + "/"
}

// URL returns the normalized target.
func (p *Pinger) URL() string { return p.url }

// Run pings once immediately and then every interval until ctx is done.
// Ping failures are logged and never stop the loop.
func (p *Pinger) Run(ctx context.Context) error {
	p.log.Info("keepalive: started",
		slog.String("url", p.url),
		slog.Duration("interval", p.interval),
		slog.Duration("timeout", p.timeout),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pingAndLog(ctx)
		select {
		case <-ctx.Done():
			p.log.Info("keepalive: stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Pinger) pingAndLog(ctx context.Context) {
	res, err := p.Ping(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("keepalive: ping failed",
			slog.String("url", p.url),
			slog.Int64("elapsed_ms", res.Elapsed.Milliseconds()),
			slog.Any("error", err),
		)
		return
	}
	p.log.Info("keepalive: ping",
		slog.String("url", p.url),
		slog.Int("status", res.Status),
		slog.Int64("elapsed_ms", res.Elapsed.Milliseconds()),
		slog.String("preview", res.Preview),
	)
}

// Ping issues one GET bounded by the configured timeout. Any HTTP status is
// a successful ping; only transport failures return an error.
func (p *Pinger) Ping(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("keepalive: build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Elapsed: time.Since(start)}, fmt.Errorf("keepalive: request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
	return Result{
		Status:  resp.StatusCode,
		Elapsed: time.Since(start),
		Preview: Preview(string(body)),
	}, nil
}

// Preview collapses runs of whitespace and truncates to 120 runes.
func Preview(body string) string {
	s := strings.Join(strings.Fields(body), " ")
	if r := []rune(s); len(r) > previewLen {
		return string(r[:previewLen])
	}
	return s
}
