package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/54b3r/postsearch-go/internal/config"
	"github.com/54b3r/postsearch-go/internal/corpus"
	"github.com/54b3r/postsearch-go/internal/embedder"
	"github.com/54b3r/postsearch-go/internal/index"
	"github.com/54b3r/postsearch-go/internal/lock"
	"github.com/54b3r/postsearch-go/internal/reconcile"
	"github.com/54b3r/postsearch-go/internal/search"
	"github.com/54b3r/postsearch-go/internal/server"
	"github.com/54b3r/postsearch-go/internal/store"
)

// deps holds the components shared by serve, sync, watch and search.
// Build it with buildDeps and release it with close.
type deps struct {
	settings config.Settings
	log      *slog.Logger

	embedder *embedder.Provider
	store    store.DocumentStore
	locker   lock.Locker
	corpus   *corpus.Dir

	// pingers feed GET /api/ready.
	pingers []server.Pinger
	// closers run in reverse order on close.
	closers []func() error
}

// buildEmbedder validates the embedding configuration and returns the
// lazily-loaded provider.
func buildEmbedder(log *slog.Logger) (*embedder.Provider, error) {
	if err := embedder.ValidateConfig(log); err != nil {
		return nil, err
	}
	p, err := embedder.NewFromEnv(log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder configured", slog.String("name", p.Name()), slog.Int("dimensions", p.Dimensions()))
	return p, nil
}

// buildDeps opens the store (and optional Qdrant index and Redis lock)
// described by s.
func buildDeps(ctx context.Context, s config.Settings, log *slog.Logger) (*deps, error) {
	emb, err := buildEmbedder(log)
	if err != nil {
		return nil, err
	}

	rt := &deps{
		settings: s,
		log:      log,
		embedder: emb,
		corpus:   corpus.NewDir(s.PostsDir, log),
		pingers:  []server.Pinger{emb},
	}

	if err := rt.openStore(ctx); err != nil {
		rt.close()
		return nil, err
	}
	if err := rt.openLocker(ctx); err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

// openStore opens the primary document store and, when QDRANT_HOST is set,
// wraps it with the Qdrant vector index.
func (rt *deps) openStore(ctx context.Context) error {
	s := rt.settings
	dims := rt.embedder.Dimensions()

	var primary interface {
		store.DocumentStore
		server.Pinger
	}
	switch s.DatabaseDriver {
	case "postgres":
		pg, err := store.OpenPostgres(ctx, store.DefaultPostgresConfig(s.DatabaseURL, dims))
		if err != nil {
			return err
		}
		primary = pg
	default:
		lite, err := store.OpenSQLite(s.SQLitePath)
		if err != nil {
			return err
		}
		primary = lite
	}
	rt.closers = append(rt.closers, primary.Close)
	rt.pingers = append(rt.pingers, primary)
	rt.store = primary
	rt.log.Info("store opened", slog.String("store", primary.Name()))

	if s.QdrantHost == "" {
		return nil
	}
	idx, err := index.NewQdrantIndex(ctx, index.Config{
		Host:       s.QdrantHost,
		Port:       s.QdrantPort,
		Collection: s.QdrantCollection,
		VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
		APIKey:     s.QdrantAPIKey,
		UseTLS:     s.QdrantTLS,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", s.QdrantHost, s.QdrantPort, err)
	}
	rt.closers = append(rt.closers, idx.Close)
	rt.pingers = append(rt.pingers, idx)
	rt.store = store.NewIndexed(primary, idx)
	rt.log.Info("qdrant index ready",
		slog.String("host", s.QdrantHost),
		slog.Int("port", s.QdrantPort),
		slog.String("collection", s.QdrantCollection),
	)
	return nil
}

// openLocker uses Redis when REDIS_URL is set so concurrent instances never
// reconcile at the same time; otherwise an in-process lock.
func (rt *deps) openLocker(ctx context.Context) error {
	if rt.settings.RedisURL == "" {
		rt.locker = lock.NewLocal()
		return nil
	}
	opts, err := redis.ParseURL(rt.settings.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	rt.closers = append(rt.closers, client.Close)

	rl := lock.NewRedis(client)
	if err := rl.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	rt.locker = rl
	rt.pingers = append(rt.pingers, rl)
	rt.log.Info("redis lock ready", slog.String("owner", rl.OwnerID()))
	return nil
}

// reconciler builds the store-diff reconciler over the posts directory.
func (rt *deps) reconciler(full bool) (*reconcile.Reconciler, error) {
	return reconcile.New(rt.corpus, rt.store, rt.embedder, rt.locker, reconcile.Config{
		EmbedTimeout: rt.settings.EmbedTimeout,
		Full:         full,
	}, rt.log)
}

// searchService builds the search service. SEARCH_FALLBACK=files scans the
// posts directory instead of the store when the vector path is unavailable.
func (rt *deps) searchService() (*search.Service, error) {
	var lexical search.Lexical = rt.store
	if rt.settings.SearchFallback == "files" {
		lexical = rt.corpus
	}
	emb := search.NewCachedEmbedder(rt.embedder, rt.settings.SearchCacheSize)
	return search.NewService(emb, rt.store, lexical, rt.log)
}

// close releases every opened resource, newest first.
func (rt *deps) close() {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		rt.log.Warn("shutdown: close failed", slog.Any("error", err))
	}
}

// buildPusher builds the ledger-gated pusher. It needs no store.
func buildPusher(s config.Settings, emb *embedder.Provider, dryRun bool, log *slog.Logger) (*reconcile.Pusher, error) {
	return reconcile.NewPusher(corpus.NewDir(s.PostsDir, log), emb, reconcile.PushConfig{
		BaseURL:      s.APIBaseURL,
		Token:        s.SyncToken,
		LedgerPath:   s.StateFile,
		BatchSize:    s.PushBatchSize,
		EmbedTimeout: s.EmbedTimeout,
		DryRun:       dryRun,
	}, log)
}
