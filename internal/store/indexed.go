package store

import (
	"context"
	"fmt"

	"github.com/54b3r/postsearch-go/internal/index"
)

// VectorIndex is the external nearest-neighbour index used by Indexed.
// *index.QdrantIndex satisfies it.
type VectorIndex interface {
	Upsert(ctx context.Context, id, slug string, vec []float32) error
	Delete(ctx context.Context, ids []string) error
	DeleteBySlug(ctx context.Context, slugs []string) error
	Search(ctx context.Context, vec []float32, limit int) ([]index.Hit, error)
}

// Indexed is a DocumentStore whose vectors are mirrored into a VectorIndex.
// Rows stay authoritative in the wrapped store; ranking asks the index for
// IDs and hydrates them from the store.
type Indexed struct {
	DocumentStore
	idx VectorIndex
}

// NewIndexed wraps inner with idx.
func NewIndexed(inner DocumentStore, idx VectorIndex) *Indexed {
	return &Indexed{DocumentStore: inner, idx: idx}
}

// Upsert writes the row, then mirrors its vector. A row without an
// embedding has any previous point removed.
func (s *Indexed) Upsert(ctx context.Context, doc Document) (Document, error) {
	out, err := s.DocumentStore.Upsert(ctx, doc)
	if err != nil {
		return Document{}, err
	}
	if out.Embedding == nil {
		err = s.idx.Delete(ctx, []string{out.ID})
	} else {
		err = s.idx.Upsert(ctx, out.ID, out.Slug, out.Embedding)
	}
	if err != nil {
		return out, fmt.Errorf("store: index %s: %w", out.Slug, err)
	}
	return out, nil
}

// DeleteBySlug deletes rows, then the matching points, both chunked.
func (s *Indexed) DeleteBySlug(ctx context.Context, slugs []string) (int, error) {
	n, err := s.DocumentStore.DeleteBySlug(ctx, slugs)
	if err != nil {
		return n, err
	}
	err = forEachBatch(ctx, slugs, MaxBatchSize, func(chunk []string) error {
		return s.idx.DeleteBySlug(ctx, chunk)
	})
	if err != nil {
		return n, fmt.Errorf("store: index delete: %w", err)
	}
	return n, nil
}

// RankBySimilarity queries the index and returns hydrated rows in index
// order. Points whose row has disappeared are skipped.
func (s *Indexed) RankBySimilarity(ctx context.Context, vec []float32, limit int) ([]Scored, error) {
	hits, err := s.idx.Search(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("store: index search: %w", err)
	}
	if len(hits) == 0 {
		return []Scored{}, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	docs, err := s.DocumentStore.ByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	out := make([]Scored, 0, len(hits))
	for _, h := range hits {
		d, ok := byID[h.ID]
		if !ok || d.Embedding == nil {
			continue
		}
		out = append(out, Scored{Document: d, Similarity: clampSimilarity(float64(h.Score))})
	}
	return out, nil
}
