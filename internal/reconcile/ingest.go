package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/postsearch-go/internal/store"
)

// ErrInvalidPost marks a push-feed item that fails validation.
var ErrInvalidPost = errors.New("reconcile: invalid post")

// Incoming is one item of the push feed.
type Incoming struct {
	ID        string     `json:"id,omitempty"`
	Slug      string     `json:"slug"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Embedding []float32  `json:"embedding,omitempty"`
	AuthorID  *string    `json:"authorId,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Validate reports the first missing required field.
func (in Incoming) Validate() error {
	if strings.TrimSpace(in.Slug) == "" {
		return fmt.Errorf("%w: slug is required", ErrInvalidPost)
	}
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required for %q", ErrInvalidPost, in.Slug)
	}
	return nil
}

// Ingest upserts pushed posts. Missing or wrong-sized embeddings are
// regenerated. Ingest never deletes; Unchanged is always zero.
func (r *Reconciler) Ingest(ctx context.Context, items []Incoming) (Summary, error) {
	for _, in := range items {
		if err := in.Validate(); err != nil {
			return Summary{}, err
		}
	}
	if len(items) == 0 {
		return Summary{}, nil
	}

	hashes, err := r.store.Hashes(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reconcile: read hashes: %w", err)
	}

	dims := r.embedder.Dimensions()
	sum := Summary{Total: len(items)}
	for _, in := range items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		vec := in.Embedding
		if len(vec) == 0 || (dims > 0 && len(vec) != dims) {
			if len(vec) > 0 {
				r.log.Warn("reconcile: pushed embedding has wrong dimension, regenerating",
					slog.String("slug", in.Slug),
					slog.Int("got", len(vec)),
					slog.Int("want", dims),
				)
			}
			vec = r.embed(ctx, in.Slug, EmbedText(in.Title, in.Content))
		}

		doc := store.Document{
			Slug:        in.Slug,
			Title:       in.Title,
			Content:     in.Content,
			Embedding:   vec,
			AuthorID:    in.AuthorID,
			ContentHash: ContentHash(in.Title, in.Content),
		}
		if in.CreatedAt != nil {
			doc.CreatedAt = *in.CreatedAt
		}
		if _, err := r.store.Upsert(ctx, doc); err != nil {
			return sum, fmt.Errorf("reconcile: upsert %s: %w", in.Slug, err)
		}
		if _, ok := hashes[in.Slug]; ok {
			sum.Updated++
		} else {
			sum.Inserted++
			hashes[in.Slug] = doc.ContentHash
		}
	}

	r.log.Info("reconcile: ingest done",
		slog.Int("total", sum.Total),
		slog.Int("inserted", sum.Inserted),
		slog.Int("updated", sum.Updated),
	)
	return sum, nil
}
