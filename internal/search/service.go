// Package search answers blog queries: vector ranking first, with a lexical
// fallback whenever the vector path fails or finds nothing.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/postsearch-go/internal/excerpt"
	"github.com/54b3r/postsearch-go/internal/logging"
	"github.com/54b3r/postsearch-go/internal/store"
)

const (
	// DefaultLimit applies when the caller gives no usable limit.
	DefaultLimit = 5
	// MaxLimit caps the number of results.
	MaxLimit = 10
)

// FallbackMessage is reported when the vector path errored.
const FallbackMessage = "Vector search unavailable. Showing lexical matches instead."

// Fallback reasons, used as metric labels.
const (
	ReasonEmbed     = "embed_error"
	ReasonRank      = "rank_error"
	ReasonNoResults = "no_results"
)

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Ranker orders stored documents by vector similarity.
type Ranker interface {
	RankBySimilarity(ctx context.Context, vec []float32, limit int) ([]store.Scored, error)
}

// Lexical is the fallback source: the store or the file corpus.
type Lexical interface {
	LexicalScan(ctx context.Context, query string, limit int) ([]store.Scored, error)
}

// Result is one search hit.
type Result struct {
	Slug        string  `json:"slug"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Date        string  `json:"date,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
}

// Response is the search payload. Results is never nil.
type Response struct {
	Results  []Result `json:"results"`
	Fallback bool     `json:"fallback,omitempty"`
	Error    string   `json:"error,omitempty"`

	// Reason is set when Fallback is true.
	Reason string `json:"-"`
}

// Service runs searches. It holds no mutable state.
type Service struct {
	embedder Embedder
	ranker   Ranker
	lexical  Lexical
	log      *slog.Logger
}

// NewService constructs a Service. emb and ranker may be nil for a
// lexical-only deployment; lexical is required.
func NewService(emb Embedder, ranker Ranker, lexical Lexical, log *slog.Logger) (*Service, error) {
	if lexical == nil {
		return nil, fmt.Errorf("search: lexical source must not be nil")
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{embedder: emb, ranker: ranker, lexical: lexical, log: log}, nil
}

// ClampLimit bounds n to [1, MaxLimit].
func ClampLimit(n int) int {
	return max(1, min(n, MaxLimit))
}

// Search runs query. Only a failure of the lexical fallback, or a done
// context, is returned as an error.
func (s *Service) Search(ctx context.Context, query string, limit int) (Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{Results: []Result{}}, nil
	}
	limit = ClampLimit(limit)

	hits, reason, vecErr := s.vector(ctx, query, limit)
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if vecErr == nil && len(hits) > 0 {
		return Response{Results: toResults(hits, true)}, nil
	}

	resp := Response{Fallback: true, Reason: reason}
	if vecErr != nil {
		s.log.Warn("search: vector search failed, using lexical fallback",
			slog.String("reason", reason),
			slog.Any("error", vecErr),
		)
		resp.Error = FallbackMessage
	}

	lex, err := s.lexical.LexicalScan(ctx, query, limit)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Response{}, ctxErr
	}
	if err != nil {
		return Response{}, fmt.Errorf("search: lexical fallback: %w", err)
	}
	resp.Results = toResults(lex, false)
	return resp, nil
}

// vector embeds and ranks. reason names the failed stage.
func (s *Service) vector(ctx context.Context, query string, limit int) ([]store.Scored, string, error) {
	if s.embedder == nil || s.ranker == nil {
		return nil, ReasonEmbed, errors.New("search: vector search not configured")
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, ReasonEmbed, err
	}
	hits, err := s.ranker.RankBySimilarity(ctx, vec, limit)
	if err != nil {
		return nil, ReasonRank, err
	}
	if len(hits) == 0 {
		return nil, ReasonNoResults, nil
	}
	return hits, "", nil
}

// toResults maps hits to results. Lexical scores only order the hits and
// are not reported, so Similarity is set for vector hits alone.
func toResults(hits []store.Scored, vector bool) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Slug == "" {
			continue
		}
		r := Result{
			Slug:        h.Slug,
			Title:       h.Title,
			Description: excerpt.Create(h.Content, excerpt.DefaultLength),
		}
		if vector {
			r.Similarity = h.Similarity
		}
		if !h.CreatedAt.IsZero() {
			r.Date = h.CreatedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, r)
	}
	return out
}
