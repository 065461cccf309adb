package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/54b3r/postsearch-go/internal/index"
)

// memIndex is an in-process VectorIndex.
type memIndex struct {
	mu          sync.Mutex
	points      map[string]memPoint
	deleteCalls int
}

type memPoint struct {
	slug string
	vec  []float32
}

func newMemIndex() *memIndex { return &memIndex{points: map[string]memPoint{}} }

func (m *memIndex) Upsert(_ context.Context, id, slug string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points[id] = memPoint{slug: slug, vec: vec}
	return nil
}

func (m *memIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

func (m *memIndex) DeleteBySlug(_ context.Context, slugs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	set := map[string]bool{}
	for _, s := range slugs {
		set[s] = true
	}
	for id, p := range m.points {
		if set[p.slug] {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *memIndex) Search(_ context.Context, vec []float32, limit int) ([]index.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []index.Hit
	for id, p := range m.points {
		hits = append(hits, index.Hit{ID: id, Slug: p.slug, Score: float32(cosine(vec, p.vec))})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func Test_Indexed_MirrorsWritesAndRanks(t *testing.T) {
	t.Parallel()
	idx := newMemIndex()
	s := NewIndexed(openTestStore(t), idx)
	ctx := context.Background()

	a := mustUpsert(t, s, Document{Slug: "a", Title: "A", Embedding: []float32{1, 0}})
	mustUpsert(t, s, Document{Slug: "b", Title: "B", Embedding: []float32{0, 1}})
	mustUpsert(t, s, Document{Slug: "c", Title: "C"})

	if len(idx.points) != 2 {
		t.Fatalf("index points: got %d, want 2", len(idx.points))
	}

	got, err := s.RankBySimilarity(ctx, []float32{1, 0.1}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != a.ID || got[0].Title != "A" {
		t.Fatalf("rank: %+v", got)
	}

	// Clearing the embedding removes the point.
	mustUpsert(t, s, Document{Slug: "a", Title: "A"})
	if _, ok := idx.points[a.ID]; ok {
		t.Error("point should be removed when embedding is cleared")
	}
}

func Test_Indexed_DeleteBySlugChunks(t *testing.T) {
	t.Parallel()
	idx := newMemIndex()
	s := NewIndexed(openTestStore(t), idx)

	slugs := make([]string, 1200)
	for i := range slugs {
		slugs[i] = fmt.Sprintf("s%d", i)
		mustUpsert(t, s, Document{Slug: slugs[i], Title: "t", Embedding: []float32{1, 0}})
	}

	n, err := s.DeleteBySlug(context.Background(), slugs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1200 {
		t.Errorf("deleted rows: %d", n)
	}
	if len(idx.points) != 0 {
		t.Errorf("points left: %d", len(idx.points))
	}
	if idx.deleteCalls != 2 {
		t.Errorf("index delete calls: got %d, want 2", idx.deleteCalls)
	}
}
