package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultOllamaModel is a 384-dimension sentence embedding model, matching
// the default column width of the document store.
const DefaultOllamaModel = "all-minilm"

// OllamaModel implements Model using the Ollama /api/embed endpoint.
// It is safe for concurrent use. No API key is required.
type OllamaModel struct {
	// host is the Ollama server base URL without a trailing slash.
	host string
	// model is the embedding model name.
	model string
	// client performs the HTTP calls.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaModel.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name. Defaults to DefaultOllamaModel.
	Model string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// NewOllamaModel constructs an OllamaModel from the given config.
func NewOllamaModel(cfg OllamaConfig) *OllamaModel {
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	return &OllamaModel{
		host:   strings.TrimRight(cfg.Host, "/"),
		model:  model,
		client: httpClientOrDefault(cfg.HTTPClient),
	}
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed converts a batch of texts into embeddings, parallel to texts.
func (m *OllamaModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result ollamaEmbedResponse
	err := postJSON(ctx, m.client, m.host+"/api/embed", nil,
		ollamaEmbedRequest{Model: m.model, Input: texts}, &result, ollamaErrorMessage)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}
	return result.Embeddings, nil
}

// ollamaErrorMessage extracts {"error": "..."} from an Ollama error body.
func ollamaErrorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		return body.Error
	}
	return ""
}

// probe verifies the model is pulled and returns the expected dimension by
// embedding a single word. A mismatch against want (when non-zero) fails.
func probe(ctx context.Context, m Model, want int) error {
	vecs, err := m.Embed(ctx, []string{"probe"})
	if err != nil {
		return err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return fmt.Errorf("probe returned no vector")
	}
	if want > 0 && len(vecs[0]) != want {
		return fmt.Errorf("probe dimension %d does not match EMBEDDING_DIMENSIONS=%d", len(vecs[0]), want)
	}
	return nil
}
