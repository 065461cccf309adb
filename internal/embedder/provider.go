// Package embedder turns text into fixed-dimension, L2-normalized vectors.
//
// A [Provider] owns exactly one model instance for the process. The model is
// loaded lazily by the first caller; concurrent first callers share a single
// in-flight load. A failed load moves the provider into the Unavailable state
// for the rest of the process lifetime, and every later call returns
// [ErrUnavailable] without touching the backend. Callers treat that error as
// a signal to degrade (lexical search, null embeddings), never as fatal.
//
// Backends (selected by EMBEDDING_PROVIDER, see [NewFromEnv]):
//
//	local   deterministic in-process hashing model (default, no network)
//	ollama  Ollama /api/embed
//	openai  OpenAI embeddings API
//	azure   Azure OpenAI embeddings API
//	none    always unavailable (lexical-only deployments)
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/54b3r/postsearch-go/internal/budget"
	"github.com/54b3r/postsearch-go/internal/logging"
)

// ErrUnavailable is returned by [Provider.Embed] once the model failed to
// load. It is a standing condition until the process restarts.
var ErrUnavailable = errors.New("embedder: model unavailable")

// State is the lifecycle state of a Provider's model.
type State int32

const (
	// StateUnloaded means no load has completed yet.
	StateUnloaded State = iota
	// StateLoaded means the model is ready and shared by all callers.
	StateLoaded
	// StateUnavailable means the load failed; there is no way back.
	StateUnavailable
)

// String returns the lowercase state name used in logs and readiness output.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unloaded"
	}
}

// Model is a loaded embedding backend. Embed returns one vector per input
// text, parallel to texts. Implementations must be safe for concurrent use.
type Model interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LoaderFunc constructs and verifies a Model. It runs at most once per Provider.
type LoaderFunc func(ctx context.Context) (Model, error)

// defaultLoadTimeout bounds a single model load.
const defaultLoadTimeout = 60 * time.Second

// Options configures a Provider.
type Options struct {
	// Name labels the backend in logs (e.g. "local", "ollama").
	Name string
	// Dimensions is the expected vector length. Zero disables the check.
	Dimensions int
	// LoadTimeout bounds the model load. Defaults to 60s.
	LoadTimeout time.Duration
	// Logger receives load and failure events. Defaults to a no-op logger.
	Logger *slog.Logger
	// MaxInputTokens trims each input to the backend's context window.
	// Zero disables trimming.
	MaxInputTokens int
}

// Provider is the process-wide embedding entry point. Construct it once with
// [NewProvider] and pass it to every consumer.
type Provider struct {
	// load builds the model on first use.
	load LoaderFunc
	// opts holds the resolved options.
	opts Options

	// once starts the single in-flight load.
	once sync.Once
	// ready is closed when the load finishes, successfully or not.
	ready chan struct{}
	// state mirrors the lifecycle state for lock-free reads.
	state atomic.Int32

	// model and loadErr are written once before ready is closed.
	model   Model
	loadErr error

	// loadDuration is recorded for metrics after the load completes.
	loadDuration time.Duration
}

// NewProvider constructs a Provider in the Unloaded state. No backend work
// happens until the first Embed or Warm call.
func NewProvider(load LoaderFunc, opts Options) *Provider {
	if opts.Name == "" {
		opts.Name = "custom"
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Provider{
		load:  load,
		opts:  opts,
		ready: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (p *Provider) State() State {
	return State(p.state.Load())
}

// Name returns the backend label. It doubles as the Pinger name.
func (p *Provider) Name() string { return "embedder:" + p.opts.Name }

// Dimensions returns the configured vector length (0 when unchecked).
func (p *Provider) Dimensions() int { return p.opts.Dimensions }

// LoadDuration returns how long the model load took. Zero until loaded.
func (p *Provider) LoadDuration() time.Duration {
	select {
	case <-p.ready:
		return p.loadDuration
	default:
		return 0
	}
}

// Warm starts the model load if it has not started and waits for it.
// It returns ErrUnavailable when the load failed.
func (p *Provider) Warm(ctx context.Context) error {
	_, err := p.acquire(ctx)
	return err
}

// Ping reports readiness: it fails only once the provider is Unavailable.
// An unloaded provider is considered ready; loading happens on demand.
func (p *Provider) Ping(_ context.Context) error {
	if p.State() == StateUnavailable {
		return ErrUnavailable
	}
	return nil
}

// Embed returns the normalized embedding of text.
//
// Errors:
//   - ErrUnavailable when the model could not be loaded.
//   - ctx.Err() when ctx ends while waiting for the load.
//   - a wrapped backend error when a loaded model fails this one call; the
//     provider stays Loaded.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	m, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}

	vecs, err := m.Embed(ctx, []string{budget.Truncate(text, p.opts.MaxInputTokens)})
	if err != nil {
		return nil, fmt.Errorf("embedder: %s: %w", p.opts.Name, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder: %s: empty embedding", p.opts.Name)
	}
	if d := p.opts.Dimensions; d > 0 && len(vecs[0]) != d {
		return nil, fmt.Errorf("embedder: %s: dimension mismatch: want %d, got %d", p.opts.Name, d, len(vecs[0]))
	}
	return Normalize(vecs[0]), nil
}

// acquire returns the loaded model, starting the load on the first call.
// Waiters honour their own ctx; the load itself runs detached under
// LoadTimeout so a cancelled request cannot poison the provider.
func (p *Provider) acquire(ctx context.Context) (Model, error) {
	p.once.Do(func() { go p.doLoad() })

	select {
	case <-p.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if p.loadErr != nil {
		return nil, ErrUnavailable
	}
	return p.model, nil
}

// doLoad runs the loader exactly once and publishes the outcome.
func (p *Provider) doLoad() {
	log := p.opts.Logger.With(slog.String("backend", p.opts.Name))
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.LoadTimeout)
	defer cancel()

	m, err := p.safeLoad(ctx)
	if err == nil && m == nil {
		err = errors.New("loader returned no model")
	}

	p.loadDuration = time.Since(start)
	if err != nil {
		p.loadErr = err
		p.state.Store(int32(StateUnavailable))
		log.Warn("embedder: model unavailable, callers will degrade",
			slog.Duration("duration", p.loadDuration),
			slog.Any("error", err),
		)
	} else {
		p.model = m
		p.state.Store(int32(StateLoaded))
		log.Info("embedder: model loaded", slog.Duration("duration", p.loadDuration))
	}
	close(p.ready)
}

// safeLoad converts a loader panic into an error.
func (p *Provider) safeLoad(ctx context.Context) (m Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loader panic: %v", r)
		}
	}()
	return p.load(ctx)
}

// Normalize returns a copy of v scaled to unit L2 norm. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
