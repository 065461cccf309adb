// Package reconcile keeps the document store in line with the post corpus.
// It diffs the source against persisted state, embeds only what changed, and
// applies upserts and deletes. The same embedding policy backs the push-feed
// receiver (Ingest) and the ledger-gated client (Pusher).
package reconcile

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/postsearch-go/internal/lock"
	"github.com/54b3r/postsearch-go/internal/logging"
	"github.com/54b3r/postsearch-go/internal/store"
)

// ErrSyncInProgress is returned by Run when another run holds the lock.
var ErrSyncInProgress = errors.New("reconcile: sync already in progress")

// LockName is the lock key shared by every reconcile run.
const LockName = "reconcile"

const (
	defaultEmbedTimeout = 20 * time.Second
	defaultLockTTL      = 10 * time.Minute
)

// Source yields the authoritative document set for a run.
type Source interface {
	Documents(ctx context.Context) ([]store.Document, error)
}

// Embedder turns text into a vector. *embedder.Provider satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Summary reports the outcome of a run. Inserted+Updated+Unchanged equals
// Total.
type Summary struct {
	Total     int `json:"total"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Config holds the reconciler settings.
type Config struct {
	// EmbedTimeout bounds each per-document embed call. Defaults to 20s.
	EmbedTimeout time.Duration

	// LockTTL bounds how long a crashed holder can block other replicas.
	// Ignored by the in-process lock. Defaults to 10m.
	LockTTL time.Duration

	// Full re-embeds and rewrites every source document regardless of hash.
	Full bool
}

// Reconciler runs store-diff syncs and push-feed ingests.
type Reconciler struct {
	// source is the authoritative corpus for Run.
	source Source

	// store persists documents.
	store store.DocumentStore

	// embedder produces document vectors; failures degrade to nil.
	embedder Embedder

	// locker serializes runs, possibly across replicas.
	locker lock.Locker

	// cfg holds the resolved settings.
	cfg Config

	// log receives stage and failure events.
	log *slog.Logger
}

// New constructs a Reconciler. source may be nil when only Ingest is used.
// A nil locker defaults to an in-process lock.
func New(source Source, st store.DocumentStore, emb Embedder, locker lock.Locker, cfg Config, log *slog.Logger) (*Reconciler, error) {
	if st == nil {
		return nil, fmt.Errorf("reconcile: store must not be nil")
	}
	if emb == nil {
		return nil, fmt.Errorf("reconcile: embedder must not be nil")
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = defaultEmbedTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Reconciler{
		source:   source,
		store:    st,
		embedder: emb,
		locker:   locker,
		cfg:      cfg,
		log:      log,
	}, nil
}

// ContentHash is the change digest of a post: md5 hex of title + ":" + content.
func ContentHash(title, content string) string {
	sum := md5.Sum([]byte(title + ":" + content))
	return hex.EncodeToString(sum[:])
}

// EmbedText is the text embedded for a document.
func EmbedText(title, content string) string {
	return title + "\n\n" + content
}

// Run performs one store-diff reconcile. An empty source returns a zero
// Summary and deletes nothing.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	if r.source == nil {
		return Summary{}, fmt.Errorf("reconcile: no source configured")
	}

	release, ok, err := r.locker.Acquire(ctx, LockName, r.cfg.LockTTL)
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: acquire lock: %w", err)
	}
	if !ok {
		return Summary{}, ErrSyncInProgress
	}
	defer func() {
		// Release must succeed even when ctx is already cancelled.
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn("reconcile: release lock failed", slog.Any("error", err))
		}
	}()

	started := time.Now()
	r.log.Info("reconcile: start", slog.Bool("full", r.cfg.Full))

	stage := time.Now()
	docs, err := r.source.Documents(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: read source: %w", err)
	}
	if len(docs) == 0 {
		r.log.Info("reconcile: source is empty, nothing to do")
		return Summary{}, nil
	}

	manifest, err := r.store.Manifest(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: read manifest: %w", err)
	}
	plan := r.diff(docs, manifest)
	r.log.Info("reconcile: diff",
		slog.Int("total", len(docs)),
		slog.Int("pending", len(plan.pending)),
		slog.Int("stale", len(plan.stale)),
		slog.Duration("elapsed", time.Since(stage)),
	)

	stage = time.Now()
	for i := range plan.pending {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		d := &plan.pending[i]
		d.Embedding = r.embed(ctx, d.Slug, EmbedText(d.Title, d.Content))
	}
	r.log.Info("reconcile: embed", slog.Int("documents", len(plan.pending)), slog.Duration("elapsed", time.Since(stage)))

	stage = time.Now()
	sum := Summary{Total: len(docs), Unchanged: len(docs) - len(plan.pending)}
	for _, d := range plan.pending {
		if _, err := r.store.Upsert(ctx, d); err != nil {
			return sum, fmt.Errorf("reconcile: upsert %s: %w", d.Slug, err)
		}
		if plan.existing[d.Slug] {
			sum.Updated++
		} else {
			sum.Inserted++
		}
	}
	if len(plan.stale) > 0 {
		n, err := r.store.DeleteBySlug(ctx, plan.stale)
		if err != nil {
			return sum, fmt.Errorf("reconcile: delete stale: %w", err)
		}
		sum.Deleted = n
	}
	r.log.Info("reconcile: apply", slog.Duration("elapsed", time.Since(stage)))

	r.log.Info("reconcile: done",
		slog.Int("total", sum.Total),
		slog.Int("inserted", sum.Inserted),
		slog.Int("updated", sum.Updated),
		slog.Int("deleted", sum.Deleted),
		slog.Int("unchanged", sum.Unchanged),
		slog.Duration("elapsed", time.Since(started)),
	)
	return sum, nil
}

// plan is the outcome of diffing a source against the manifest.
type plan struct {
	pending  []store.Document
	stale    []string
	existing map[string]bool
}

// diff classifies docs. Only authorless rows can be stale; user-submitted
// posts are outside the file corpus.
func (r *Reconciler) diff(docs []store.Document, manifest []store.ManifestEntry) plan {
	stored := make(map[string]store.ManifestEntry, len(manifest))
	for _, m := range manifest {
		stored[m.Slug] = m
	}

	p := plan{existing: make(map[string]bool, len(docs))}
	inSource := make(map[string]bool, len(docs))
	for _, d := range docs {
		inSource[d.Slug] = true
		d.ContentHash = ContentHash(d.Title, d.Content)
		prev, ok := stored[d.Slug]
		p.existing[d.Slug] = ok
		if ok && !r.cfg.Full && prev.HasEmbedding && prev.ContentHash == d.ContentHash {
			continue
		}
		p.pending = append(p.pending, d)
	}
	for _, m := range manifest {
		if m.AuthorID == nil && !inSource[m.Slug] {
			p.stale = append(p.stale, m.Slug)
		}
	}
	return p
}

// embed returns the vector for text, or nil on any failure. The run never
// aborts on an embedding error.
func (r *Reconciler) embed(ctx context.Context, slug, text string) []float32 {
	ectx, cancel := context.WithTimeout(ctx, r.cfg.EmbedTimeout)
	defer cancel()

	vec, err := r.embedder.Embed(ectx, text)
	if err != nil {
		r.log.Warn("reconcile: embedding failed, storing without vector",
			slog.String("slug", slug),
			slog.Any("error", err),
		)
		return nil
	}
	return vec
}
