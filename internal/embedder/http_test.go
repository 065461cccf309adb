package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestOllamaModel_Embed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != DefaultOllamaModel {
			t.Errorf("model: got %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 2}}})
	}))
	defer srv.Close()

	m := NewOllamaModel(OllamaConfig{Host: srv.URL + "/"})
	vecs, err := m.Embed(context.Background(), []string{"hi"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 1 || len(vecs[0]) != 2 {
		t.Errorf("unexpected vectors: %v", vecs)
	}
}

func TestOllamaModel_ErrorBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"all-minilm\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	_, err := NewOllamaModel(OllamaConfig{Host: srv.URL}).Embed(context.Background(), []string{"x"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("want backend message, got %v", err)
	}
}

func TestProbeLoader_FailureMakesProviderUnavailable(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewOllamaModel(OllamaConfig{Host: srv.URL})
	p := NewProvider(probeLoader(m, 0), Options{Name: "ollama"})

	for range 2 {
		if _, err := p.Embed(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("want ErrUnavailable, got %v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("backend hit %d times, want 1 (probe only)", n)
	}
}

func TestProbe_DimensionMismatch(t *testing.T) {
	t.Parallel()

	m := &fakeModel{vec: make([]float32, 768)}
	if err := probe(context.Background(), m, 384); err == nil {
		t.Fatal("want dimension mismatch")
	}
}

func TestOpenAIModel_EmbedReordersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header: got %q", got)
		}
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		var req openaiEmbedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Dimensions != 384 {
			t.Errorf("dimensions: got %d", req.Dimensions)
		}
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	m := NewOpenAIModel(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Dimensions: 384})
	vecs, err := m.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("order not restored: %v", vecs)
	}
}

func TestOpenAIModel_AzureLayout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("api-key"); got != "az-key" {
			t.Errorf("api-key: got %q", got)
		}
		if r.URL.Path != "/openai/deployments/emb/embeddings" || r.URL.Query().Get("api-version") != "2024-10-21" {
			t.Errorf("url: got %s", r.URL)
		}
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	defer srv.Close()

	m := NewOpenAIModel(OpenAIConfig{
		BaseURL: srv.URL + "/openai", APIKey: "az-key", Model: "emb",
		Azure: true, APIVersion: "2024-10-21",
	})
	_, err := m.Embed(context.Background(), []string{"a"})
	if err == nil || !strings.Contains(err.Error(), "invalid key") {
		t.Fatalf("want invalid key error, got %v", err)
	}
}

func TestNewFromEnv(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	t.Setenv("EMBEDDING_PROVIDER", "")
	p, err := NewFromEnv(nil)
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if p.Name() != "embedder:local" || p.Dimensions() != DefaultLocalDimensions {
		t.Errorf("default: name=%q dims=%d", p.Name(), p.Dimensions())
	}

	t.Setenv("EMBEDDING_PROVIDER", "openai")
	if _, err := NewFromEnv(nil); err == nil {
		t.Error("openai without key should fail")
	}

	t.Setenv("EMBEDDING_PROVIDER", "none")
	p, err = NewFromEnv(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Embed(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("none backend: want ErrUnavailable, got %v", err)
	}

	t.Setenv("EMBEDDING_PROVIDER", "bert")
	if _, err := NewFromEnv(nil); err == nil {
		t.Error("unknown backend should fail")
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()

	for model, want := range map[string]bool{
		"all-minilm":             false,
		"text-embedding-3-small": false,
		"gpt-4o":                 true,
		"llama3.1:8b":            true,
	} {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("%s: got %v, want %v", model, got, want)
		}
	}
}
