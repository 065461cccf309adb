// Package store persists blog documents and answers the two ranking queries
// the search path needs: nearest-neighbour by embedding and a lexical
// substring scan.
//
// Two backends implement DocumentStore: SQLiteStore (default, cosine ranked
// in Go) and PostgresStore (pgvector). Indexed decorates either one with an
// external Qdrant index for ranking.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a slug has no stored document.
var ErrNotFound = errors.New("store: not found")

// Document is a persisted post.
type Document struct {
	// ID is the immutable UUID assigned at first insert.
	ID string
	// Slug is the unique natural key and the upsert conflict target.
	Slug string
	// Title is the post title.
	Title string
	// Content is markdown or Novel rich-text JSON.
	Content string
	// Embedding is nil when the post has no vector.
	Embedding []float32
	// AuthorID is nil for the file-backed primary corpus.
	AuthorID *string
	// CreatedAt defaults to insert time; zero on Upsert means "not supplied".
	CreatedAt time.Time
	// ContentHash is the reconciler digest of title and content.
	ContentHash string
	// UpdatedAt is set on every upsert.
	UpdatedAt time.Time
}

// Scored is a ranked document. Similarity is cosine similarity in [0,1] for
// vector results. For lexical results it holds the occurrence score, which
// orders hits but is not a similarity and is never returned to clients.
type Scored struct {
	Document
	Similarity float64
}

// ManifestEntry is the per-slug state the reconciler diffs against.
type ManifestEntry struct {
	Slug        string
	ContentHash string
	AuthorID    *string
	// HasEmbedding is false when the row was stored without a vector.
	HasEmbedding bool
}

// Cursor is a keyset position in the feed.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// FeedRow is the projection returned by Feed.
type FeedRow struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedPage is one page of the feed. NextCursor is nil on the last page.
type FeedPage struct {
	Rows       []FeedRow `json:"rows"`
	NextCursor *Cursor   `json:"nextCursor"`
}

// DocumentStore persists documents. Implementations must be safe for
// concurrent use.
type DocumentStore interface {
	// Upsert inserts or updates by slug in one statement and returns the
	// persisted row.
	Upsert(ctx context.Context, doc Document) (Document, error)
	// Get returns the document with the given slug or ErrNotFound.
	Get(ctx context.Context, slug string) (Document, error)
	// ByIDs returns the documents with the given IDs in no particular order.
	// Missing IDs are skipped.
	ByIDs(ctx context.Context, ids []string) ([]Document, error)
	// DeleteBySlug deletes in chunks of MaxBatchSize and returns the number
	// of rows removed.
	DeleteBySlug(ctx context.Context, slugs []string) (int, error)
	// RankBySimilarity returns up to limit documents with a non-nil
	// embedding, nearest first.
	RankBySimilarity(ctx context.Context, vec []float32, limit int) ([]Scored, error)
	// LexicalScan returns up to limit documents scored by ScoreLexical.
	LexicalScan(ctx context.Context, query string, limit int) ([]Scored, error)
	// Hashes returns slug -> content hash for every document.
	Hashes(ctx context.Context) (map[string]string, error)
	// Manifest returns slug, hash, author and vector presence for every
	// document.
	Manifest(ctx context.Context) ([]ManifestEntry, error)
	// Feed returns a keyset page ordered by (created_at DESC, id DESC).
	Feed(ctx context.Context, limit int, after *Cursor) (FeedPage, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// clampSimilarity bounds a cosine similarity to [0,1].
func clampSimilarity(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

// feedPage trims rows to a page and derives the next cursor. Callers query
// limit rows; a full page means there may be more.
func feedPage(rows []FeedRow, limit int) FeedPage {
	page := FeedPage{Rows: rows}
	if page.Rows == nil {
		page.Rows = []FeedRow{}
	}
	if limit > 0 && len(rows) == limit {
		last := rows[len(rows)-1]
		page.NextCursor = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return page
}
