package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/54b3r/postsearch-go/internal/embedder"
	"github.com/54b3r/postsearch-go/internal/store"
)

type stubEmbedder struct {
	calls atomic.Int32
	err   error
	last  atomic.Value
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	e.last.Store(text)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{1, 0}, nil
}

type stubRanker struct {
	hits []store.Scored
	err  error
}

func (r stubRanker) RankBySimilarity(context.Context, []float32, int) ([]store.Scored, error) {
	return r.hits, r.err
}

type stubLexical struct {
	hits  []store.Scored
	err   error
	calls atomic.Int32
	limit atomic.Int32
}

func (l *stubLexical) LexicalScan(_ context.Context, _ string, limit int) ([]store.Scored, error) {
	l.calls.Add(1)
	l.limit.Store(int32(limit))
	return l.hits, l.err
}

func scored(slug string, sim float64) store.Scored {
	return store.Scored{
		Document: store.Document{
			Slug:      slug,
			Title:     "T " + slug,
			Content:   "# Heading\n\nBody of " + slug,
			CreatedAt: time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC),
		},
		Similarity: sim,
	}
}

func newSvc(t *testing.T, e Embedder, r Ranker, l Lexical) *Service {
	t.Helper()
	s, err := NewService(e, r, l, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSearch_EmptyQuery(t *testing.T) {
	t.Parallel()
	emb := &stubEmbedder{}
	lex := &stubLexical{}
	svc := newSvc(t, emb, stubRanker{}, lex)

	resp, err := svc.Search(context.Background(), "   ", 5)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Results == nil || len(resp.Results) != 0 || resp.Fallback {
		t.Errorf("want empty results, got %+v", resp)
	}
	if emb.calls.Load() != 0 || lex.calls.Load() != 0 {
		t.Error("empty query must not embed or scan")
	}
}

func TestSearch_VectorResults(t *testing.T) {
	t.Parallel()
	lex := &stubLexical{}
	svc := newSvc(t, &stubEmbedder{}, stubRanker{hits: []store.Scored{scored("a", 0.9), scored("b", 0.5)}}, lex)

	resp, err := svc.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Fallback || resp.Error != "" || len(resp.Results) != 2 {
		t.Fatalf("resp: %+v", resp)
	}
	r := resp.Results[0]
	if r.Slug != "a" || r.Similarity != 0.9 || r.Date != "2024-02-03T04:05:06Z" || r.Description != "Heading Body of a" {
		t.Errorf("result: %+v", r)
	}
	if lex.calls.Load() != 0 {
		t.Error("lexical must not run when vectors hit")
	}
}

func TestSearch_NoVectorHitsFallsBackWithoutError(t *testing.T) {
	t.Parallel()
	lex := &stubLexical{hits: []store.Scored{scored("lex", 2)}}
	svc := newSvc(t, &stubEmbedder{}, stubRanker{}, lex)

	resp, err := svc.Search(context.Background(), "query", 5)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Fallback || resp.Error != "" || resp.Reason != ReasonNoResults {
		t.Errorf("resp: %+v", resp)
	}
	if len(resp.Results) != 1 || resp.Results[0].Slug != "lex" {
		t.Errorf("results: %+v", resp.Results)
	}
}

func TestSearch_LexicalResultsOmitSimilarity(t *testing.T) {
	t.Parallel()
	lex := &stubLexical{hits: []store.Scored{scored("v", 3), scored("w", 1)}}
	svc := newSvc(t, &stubEmbedder{err: embedder.ErrUnavailable}, stubRanker{}, lex)

	resp, err := svc.Search(context.Background(), "vector db", 5)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Fallback || len(resp.Results) != 2 || resp.Results[0].Slug != "v" {
		t.Fatalf("resp: %+v", resp)
	}
	for _, r := range resp.Results {
		if r.Similarity != 0 {
			t.Errorf("%s: lexical result reports similarity %v", r.Slug, r.Similarity)
		}
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "similarity") {
		t.Errorf("payload carries similarity: %s", raw)
	}
}

func TestSearch_VectorErrorsFallBackWithMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		emb    *stubEmbedder
		ranker stubRanker
		reason string
	}{
		{"embedder unavailable", &stubEmbedder{err: embedder.ErrUnavailable}, stubRanker{}, ReasonEmbed},
		{"ranker error", &stubEmbedder{}, stubRanker{err: errors.New("db down")}, ReasonRank},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lex := &stubLexical{}
			resp, err := newSvc(t, tt.emb, tt.ranker, lex).Search(context.Background(), "q", 5)
			if err != nil {
				t.Fatal(err)
			}
			if !resp.Fallback || resp.Error != FallbackMessage || resp.Reason != tt.reason {
				t.Errorf("resp: %+v", resp)
			}
			if resp.Results == nil {
				t.Error("results must be an empty list, not null")
			}
		})
	}
}

func TestSearch_LexicalFailureIsAnError(t *testing.T) {
	t.Parallel()
	lex := &stubLexical{err: errors.New("scan failed")}
	_, err := newSvc(t, &stubEmbedder{err: embedder.ErrUnavailable}, stubRanker{}, lex).Search(context.Background(), "q", 5)
	if err == nil {
		t.Fatal("want error when the fallback fails")
	}
}

func TestSearch_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newSvc(t, &stubEmbedder{err: context.Canceled}, stubRanker{}, &stubLexical{})
	if _, err := svc.Search(ctx, "q", 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestSearch_ClampsLimit(t *testing.T) {
	t.Parallel()

	for in, want := range map[int]int{-3: 1, 0: 1, 7: 7, 50: MaxLimit} {
		lex := &stubLexical{}
		if _, err := newSvc(t, nil, nil, lex).Search(context.Background(), "q", in); err != nil {
			t.Fatal(err)
		}
		if got := int(lex.limit.Load()); got != want {
			t.Errorf("limit %d: got %d, want %d", in, got, want)
		}
	}
}

func TestSearch_OverSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	model := embedder.NewLocalModel(64)
	p := embedder.NewProvider(func(context.Context) (embedder.Model, error) { return model, nil }, embedder.Options{Name: "local", Dimensions: 64})
	for _, d := range []store.Document{
		{Slug: "go", Title: "Go channels", Content: "goroutines and channels"},
		{Slug: "bread", Title: "Sourdough", Content: "flour water salt"},
	} {
		d.Embedding, err = p.Embed(ctx, d.Title+"\n\n"+d.Content)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := st.Upsert(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	svc := newSvc(t, NewCachedEmbedder(p, 8), st, st)
	resp, err := svc.Search(ctx, "goroutines channels", 1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Fallback || len(resp.Results) != 1 || resp.Results[0].Slug != "go" {
		t.Errorf("resp: %+v", resp)
	}
}
