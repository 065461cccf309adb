//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// TestPostgresStore_Integration runs the store contract against a pgvector
// database.
//
//	docker run -e POSTGRES_PASSWORD=pg -p 5432:5432 pgvector/pgvector:pg16
//	TEST_DATABASE_URL=postgres://postgres:pg@localhost:5432/postgres?sslmode=disable \
//	  go test -tags=integration -run TestPostgresStore_Integration ./internal/store/
func TestPostgresStore_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, err := OpenPostgres(ctx, DefaultPostgresConfig(url, 2))
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer s.Close()
	if _, err := s.db.ExecContext(ctx, `TRUNCATE posts`); err != nil {
		t.Fatal(err)
	}
	// Second init must be a no-op.
	if err := s.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema twice: %v", err)
	}

	a := mustUpsert(t, s, Document{Slug: "a", Title: "Go", Content: "go go", Embedding: []float32{1, 0}, ContentHash: "ha"})
	mustUpsert(t, s, Document{Slug: "b", Title: "Rust", Content: "cargo", Embedding: []float32{0, 1}})
	mustUpsert(t, s, Document{Slug: "c", Title: "Plain", Content: "no vector"})

	again := mustUpsert(t, s, Document{Slug: "a", Title: "Go!", Content: "go go", Embedding: []float32{1, 0}})
	if again.ID != a.ID || !again.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("update should keep ID and CreatedAt")
	}

	ranked, err := s.RankBySimilarity(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranked) != 2 || ranked[0].Slug != "a" {
		t.Fatalf("rank: %+v", ranked)
	}

	lex, err := s.LexicalScan(ctx, "go", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(lex) != 2 || lex[0].Slug != "a" {
		t.Fatalf("lexical: %+v", lex)
	}

	slugs := make([]string, 2500)
	for i := range slugs {
		slugs[i] = fmt.Sprintf("bulk-%d", i)
		mustUpsert(t, s, Document{Slug: slugs[i], Title: "bulk"})
	}
	n, err := s.DeleteBySlug(ctx, slugs)
	if err != nil || n != 2500 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}

	page, err := s.Feed(ctx, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Rows) != 2 || page.NextCursor == nil {
		t.Fatalf("feed: %+v", page)
	}
}
