package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/54b3r/postsearch-go/internal/corpus"
	"github.com/54b3r/postsearch-go/internal/logging"
)

type postList []corpus.Post

func (p postList) Posts(context.Context) ([]corpus.Post, error) { return p, nil }

// pushServer records pushed batches and replies with an insert-only summary.
type pushServer struct {
	mu       sync.Mutex
	batches  [][]Incoming
	requests atomic.Int32
	failFrom int32 // 1-based request number that starts failing; 0 never fails
}

func (s *pushServer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.requests.Add(1)
		if r.URL.Path != PushPath {
			t.Errorf("path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization: %q", got)
		}
		if s.failFrom > 0 && n >= s.failFrom {
			http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
			return
		}
		var body pushRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		s.mu.Lock()
		s.batches = append(s.batches, body.Posts)
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(Summary{Total: len(body.Posts), Inserted: len(body.Posts)})
	})
}

func testPosts(n int) postList {
	out := make(postList, n)
	for i := range out {
		out[i] = corpus.Post{
			Slug:    string(rune('a'+i)) + "-post",
			Title:   "Post",
			Content: "body " + string(rune('a'+i)),
		}
	}
	return out
}

func newTestPusher(t *testing.T, src PostSource, emb Embedder, baseURL, ledger string, batch int) *Pusher {
	t.Helper()
	p, err := NewPusher(src, emb, PushConfig{
		BaseURL:    baseURL + "/",
		Token:      "tok",
		LedgerPath: ledger,
		BatchSize:  batch,
	}, nil)
	if err != nil {
		t.Fatalf("NewPusher: %v", err)
	}
	return p
}

func TestPusher_SendsChangedAndRecordsLedger(t *testing.T) {
	t.Parallel()
	ps := &pushServer{}
	srv := httptest.NewServer(ps.handler(t))
	defer srv.Close()

	ledgerPath := filepath.Join(t.TempDir(), ".sync-state.json")
	emb := newCountingEmbedder(8)
	posts := testPosts(5)
	when := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	author := "u1"
	posts[0].Date = when
	posts[0].AuthorID = &author

	sum, err := newTestPusher(t, posts, emb, srv.URL, ledgerPath, 2).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum != (Summary{Total: 5, Inserted: 5}) {
		t.Errorf("summary: %+v", sum)
	}
	if len(ps.batches) != 3 {
		t.Fatalf("want 3 batches of <=2, got %d", len(ps.batches))
	}
	first := ps.batches[0][0]
	if first.CreatedAt == nil || !first.CreatedAt.Equal(when) || first.AuthorID == nil || *first.AuthorID != "u1" {
		t.Errorf("payload fields: %+v", first)
	}
	if len(first.Embedding) != 8 {
		t.Errorf("embedding length: %d", len(first.Embedding))
	}

	ledger, err := LoadLedger(ledgerPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 5 || ledger[posts[1].Slug].Hash != ContentHash(posts[1].Title, posts[1].Content) {
		t.Errorf("ledger: %+v", ledger)
	}

	// Second run: nothing changed, so no embeddings and no requests.
	calls, reqs := emb.calls.Load(), ps.requests.Load()
	sum, err = newTestPusher(t, posts, emb, srv.URL, ledgerPath, 2).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum != (Summary{Total: 5, Unchanged: 5}) {
		t.Errorf("second summary: %+v", sum)
	}
	if emb.calls.Load() != calls || ps.requests.Load() != reqs {
		t.Error("unchanged push must not embed or send")
	}
}

func TestPusher_PartialFailureKeepsSuccessfulBatches(t *testing.T) {
	t.Parallel()
	ps := &pushServer{failFrom: 2}
	srv := httptest.NewServer(ps.handler(t))
	defer srv.Close()

	ledgerPath := filepath.Join(t.TempDir(), "ledger.json")
	posts := testPosts(4)

	sum, err := newTestPusher(t, posts, newCountingEmbedder(8), srv.URL, ledgerPath, 2).Run(context.Background())
	if err == nil {
		t.Fatal("want error from failed batch")
	}
	if sum.Inserted != 2 {
		t.Errorf("summary: %+v", sum)
	}

	ledger, err := LoadLedger(ledgerPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(ledger) != 2 {
		t.Fatalf("only the first batch should be recorded, got %d", len(ledger))
	}
	if _, ok := ledger[posts[0].Slug]; !ok {
		t.Error("first batch slug missing from ledger")
	}
	if _, ok := ledger[posts[3].Slug]; ok {
		t.Error("failed batch slug must not be recorded")
	}
}

func TestPusher_EmbeddingFailureSendsWithoutVector(t *testing.T) {
	t.Parallel()
	ps := &pushServer{}
	srv := httptest.NewServer(ps.handler(t))
	defer srv.Close()

	posts := testPosts(1)
	emb := newCountingEmbedder(8)
	emb.fail[EmbedText(posts[0].Title, posts[0].Content)] = true

	if _, err := newTestPusher(t, posts, emb, srv.URL, filepath.Join(t.TempDir(), "l.json"), 10).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := ps.batches[0][0].Embedding; got != nil {
		t.Errorf("want nil embedding, got %v", got)
	}
}

func TestPusher_DryRun(t *testing.T) {
	t.Parallel()
	ledgerPath := filepath.Join(t.TempDir(), "ledger.json")
	emb := newCountingEmbedder(8)

	p, err := NewPusher(testPosts(3), emb, PushConfig{DryRun: true, LedgerPath: ledgerPath}, nil)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Total != 3 || sum.Inserted != 0 {
		t.Errorf("summary: %+v", sum)
	}
	if emb.calls.Load() != 0 {
		t.Error("dry run must not embed")
	}
	if _, err := os.Stat(ledgerPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("dry run must not write the ledger")
	}
}

func TestNewPusher_RequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := NewPusher(postList{}, newCountingEmbedder(8), PushConfig{BaseURL: "http://x"}, nil); err == nil {
		t.Error("missing token should fail")
	}
}

func TestLedger_SaveLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")

	empty, err := LoadLedger(path)
	if err != nil || len(empty) != 0 {
		t.Fatalf("missing ledger: %v %v", empty, err)
	}

	when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	l := Ledger{"a": {Hash: "h", LastSynced: when}}
	if err := l.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := LoadLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	if got["a"].Hash != "h" || !got["a"].LastSynced.Equal(when) {
		t.Errorf("loaded: %+v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLedger(path); err == nil {
		t.Error("corrupt ledger should error")
	}
}

func TestLedger_NullFileIsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), ".sync-state.json")
	if err := os.WriteFile(path, []byte("null\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := LoadLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	if l == nil {
		t.Fatal("null ledger should load as an empty, writable map")
	}

	ps := &pushServer{}
	srv := httptest.NewServer(ps.handler(t))
	defer srv.Close()

	sum, err := newTestPusher(t, testPosts(2), newCountingEmbedder(8), srv.URL, path, 10).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum != (Summary{Total: 2, Inserted: 2}) {
		t.Errorf("summary: %+v", sum)
	}
	saved, err := LoadLedger(path)
	if err != nil || len(saved) != 2 {
		t.Errorf("ledger after push: %v %v", saved, err)
	}
}

func TestReconciler_Ingest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t)
	emb := newCountingEmbedder(8)
	r := newReconciler(t, nil, st, emb, Config{})

	if _, err := st.Upsert(ctx, doc("existing", "Old", "old")); err != nil {
		t.Fatal(err)
	}

	good := make([]float32, 8)
	good[0] = 1
	when := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	sum, err := r.Ingest(ctx, []Incoming{
		{Slug: "existing", Title: "New", Content: "new", Embedding: good},
		{Slug: "fresh", Title: "Fresh", Content: "x", CreatedAt: &when},
		{Slug: "wrong-dim", Title: "W", Content: "y", Embedding: []float32{0.1, 0.2}},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if sum != (Summary{Total: 3, Inserted: 2, Updated: 1}) {
		t.Errorf("summary: %+v", sum)
	}
	if emb.calls.Load() != 2 {
		t.Errorf("only missing and wrong-sized embeddings are regenerated, calls=%d", emb.calls.Load())
	}

	fresh, err := st.Get(ctx, "fresh")
	if err != nil {
		t.Fatal(err)
	}
	if !fresh.CreatedAt.Equal(when) || len(fresh.Embedding) != 8 {
		t.Errorf("fresh: %+v", fresh)
	}
	wd, _ := st.Get(ctx, "wrong-dim")
	if len(wd.Embedding) != 8 {
		t.Errorf("wrong-dim embedding length %d", len(wd.Embedding))
	}
}

func TestReconciler_IngestValidates(t *testing.T) {
	t.Parallel()
	r := newReconciler(t, nil, openStore(t), newCountingEmbedder(8), Config{})

	for _, in := range []Incoming{{Title: "no slug"}, {Slug: "no-title"}} {
		if _, err := r.Ingest(context.Background(), []Incoming{in}); !errors.Is(err, ErrInvalidPost) {
			t.Errorf("%+v: want ErrInvalidPost, got %v", in, err)
		}
	}
}

type slowRunner struct{ delay time.Duration }

func (s slowRunner) Run(ctx context.Context) (Summary, error) {
	select {
	case <-time.After(s.delay):
		return Summary{Total: 1}, nil
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
}

func TestRunDetached_TimesOut(t *testing.T) {
	t.Parallel()

	done := RunDetached(context.Background(), slowRunner{delay: time.Minute}, 20*time.Millisecond, logging.Nop())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("detached run did not honour its timeout")
	}
}

func TestRunDetached_IgnoresParentCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var got atomic.Bool
	done := RunDetached(ctx, runnerFunc(func(ctx context.Context) (Summary, error) {
		got.Store(ctx.Err() == nil)
		return Summary{}, nil
	}), time.Second, logging.Nop())
	<-done
	if !got.Load() {
		t.Error("boot sync should not inherit the caller's cancellation")
	}
}

type runnerFunc func(ctx context.Context) (Summary, error)

func (f runnerFunc) Run(ctx context.Context) (Summary, error) { return f(ctx) }
