package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/postsearch-go/internal/corpus"
	"github.com/54b3r/postsearch-go/internal/logging"
	"github.com/54b3r/postsearch-go/internal/version"
)

// PushPath is the remote push-feed endpoint, relative to the API base URL.
const PushPath = "/api/v1/posts/sync"

const (
	defaultPushBatchSize = 50
	defaultPushTimeout   = 60 * time.Second
	maxPushErrorBody     = 4 << 10
)

// PostSource yields the local corpus for a push.
type PostSource interface {
	Posts(ctx context.Context) ([]corpus.Post, error)
}

// PushConfig configures a Pusher.
type PushConfig struct {
	// BaseURL is the remote API root, e.g. https://api.example.com.
	BaseURL string

	// Token is sent as a Bearer credential. Required unless DryRun is set.
	Token string

	// LedgerPath is the sync ledger file. Defaults to .sync-state.json.
	LedgerPath string

	// BatchSize is the number of posts per request. Defaults to 50.
	BatchSize int

	// EmbedTimeout bounds each per-post embed call. Defaults to 20s.
	EmbedTimeout time.Duration

	// DryRun skips embedding and network calls and logs the payload preview.
	DryRun bool

	// HTTPClient is used for push requests. Defaults to a 60s-timeout client.
	HTTPClient *http.Client
}

// Pusher sends changed local posts to a remote push feed, gated by the
// ledger of what was last pushed.
type Pusher struct {
	source   PostSource
	embedder Embedder
	cfg      PushConfig
	log      *slog.Logger
	now      func() time.Time
}

// NewPusher constructs a Pusher.
func NewPusher(source PostSource, emb Embedder, cfg PushConfig, log *slog.Logger) (*Pusher, error) {
	if source == nil {
		return nil, fmt.Errorf("reconcile: push source must not be nil")
	}
	if emb == nil && !cfg.DryRun {
		return nil, fmt.Errorf("reconcile: embedder must not be nil")
	}
	if cfg.BaseURL == "" && !cfg.DryRun {
		return nil, fmt.Errorf("reconcile: API base URL is required")
	}
	if cfg.Token == "" && !cfg.DryRun {
		return nil, fmt.Errorf("reconcile: sync token is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = ".sync-state.json"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultPushBatchSize
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = defaultEmbedTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultPushTimeout}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Pusher{source: source, embedder: emb, cfg: cfg, log: log, now: time.Now}, nil
}

type pushRequest struct {
	Posts []Incoming `json:"posts"`
}

// pending pairs a payload item with the hash recorded on success.
type pending struct {
	item Incoming
	hash string
}

// Run performs one push. With nothing pending it makes no embedding or
// network calls. The ledger is saved after the last successful batch, even
// when a later batch fails.
func (p *Pusher) Run(ctx context.Context) (Summary, error) {
	ledger, err := LoadLedger(p.cfg.LedgerPath)
	if err != nil {
		return Summary{}, err
	}
	posts, err := p.source.Posts(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: read posts: %w", err)
	}

	var queue []pending
	for _, post := range posts {
		hash := ContentHash(post.Title, post.Content)
		if prev, ok := ledger[post.Slug]; ok && prev.Hash == hash {
			p.log.Debug("push: unchanged", slog.String("slug", post.Slug))
			continue
		}
		queue = append(queue, pending{item: incomingFromPost(post), hash: hash})
	}

	sum := Summary{Total: len(posts), Unchanged: len(posts) - len(queue)}
	p.log.Info("push: diff", slog.Int("total", len(posts)), slog.Int("pending", len(queue)), slog.Bool("dry_run", p.cfg.DryRun))
	if len(queue) == 0 {
		return sum, nil
	}

	if p.cfg.DryRun {
		for _, q := range queue {
			p.log.Info("push: would send", slog.String("slug", q.item.Slug), slog.String("title", q.item.Title))
		}
		return sum, nil
	}

	for i := range queue {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		queue[i].item.Embedding = p.embed(ctx, queue[i].item)
	}

	var pushErr error
	dirty := false
	for start := 0; start < len(queue); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(queue))
		batch := queue[start:end]

		remote, err := p.send(ctx, batch)
		if err != nil {
			pushErr = fmt.Errorf("reconcile: push batch %d-%d: %w", start, end, err)
			break
		}
		sum.Inserted += remote.Inserted
		sum.Updated += remote.Updated
		sum.Deleted += remote.Deleted

		syncedAt := p.now().UTC()
		for _, q := range batch {
			ledger[q.item.Slug] = LedgerEntry{Hash: q.hash, LastSynced: syncedAt}
		}
		dirty = true
		p.log.Info("push: batch sent", slog.Int("from", start), slog.Int("to", end))
	}

	if dirty {
		if err := ledger.Save(p.cfg.LedgerPath); err != nil {
			return sum, errors.Join(pushErr, err)
		}
	}
	return sum, pushErr
}

func (p *Pusher) embed(ctx context.Context, in Incoming) []float32 {
	ectx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	defer cancel()
	vec, err := p.embedder.Embed(ectx, EmbedText(in.Title, in.Content))
	if err != nil {
		p.log.Warn("push: embedding failed, server will regenerate",
			slog.String("slug", in.Slug),
			slog.Any("error", err),
		)
		return nil
	}
	return vec
}

// send posts one batch and decodes the remote summary.
func (p *Pusher) send(ctx context.Context, batch []pending) (Summary, error) {
	body := pushRequest{Posts: make([]Incoming, len(batch))}
	for i, q := range batch {
		body.Posts[i] = q.item
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Summary{}, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+PushPath, bytes.NewReader(raw))
	if err != nil {
		return Summary{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return Summary{}, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxPushErrorBody))
		return Summary{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var remote Summary
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		return Summary{}, fmt.Errorf("decode response: %w", err)
	}
	return remote, nil
}

func incomingFromPost(post corpus.Post) Incoming {
	in := Incoming{
		Slug:     post.Slug,
		Title:    post.Title,
		Content:  post.Content,
		AuthorID: post.AuthorID,
	}
	if !post.Date.IsZero() {
		t := post.Date
		in.CreatedAt = &t
	}
	return in
}
