package embedder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultOpenAIModel is the default OpenAI embedding model. It supports the
// dimensions parameter, so it can be asked for 384-wide vectors.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIModel implements Model using the OpenAI (or Azure OpenAI) embeddings
// REST API. It is safe for concurrent use.
type OpenAIModel struct {
	// url is the fully-resolved embeddings endpoint.
	url string
	// headers carry the auth header for the selected flavour.
	headers map[string]string
	// model is the embedding model (or Azure deployment) name.
	model string
	// dimensions is the requested vector length (0 = model default).
	dimensions int
	// client performs the HTTP calls.
	client *http.Client
}

// OpenAIConfig holds the settings for constructing an OpenAIModel.
type OpenAIConfig struct {
	// BaseURL is the API base. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com/openai".
	BaseURL string
	// APIKey is the authentication key.
	APIKey string
	// Model is the embedding model name. Defaults to DefaultOpenAIModel.
	Model string
	// Dimensions is the requested vector length (0 = model default).
	Dimensions int
	// Azure selects the api-key header and deployment URL layout.
	Azure bool
	// APIVersion is the Azure api-version query parameter.
	APIVersion string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// NewOpenAIModel constructs an OpenAIModel from the given config.
func NewOpenAIModel(cfg OpenAIConfig) *OpenAIModel {
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	m := &OpenAIModel{
		model:      model,
		dimensions: cfg.Dimensions,
		client:     httpClientOrDefault(cfg.HTTPClient),
	}
	if cfg.Azure {
		m.url = base + "/deployments/" + model + "/embeddings?api-version=" + cfg.APIVersion
		m.headers = map[string]string{"api-key": cfg.APIKey}
	} else {
		m.url = base + "/embeddings"
		m.headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}
	return m
}

type openaiEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed converts a batch of texts into embeddings, parallel to texts.
func (m *OpenAIModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var result openaiEmbedResponse
	err := postJSON(ctx, m.client, m.url, m.headers,
		openaiEmbedRequest{Input: texts, Model: m.model, Dimensions: m.dimensions},
		&result, openaiErrorMessage)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return data out of order.
	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai: index %d out of range [0, %d)", d.Index, len(texts))
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// openaiErrorMessage extracts {"error": {"message": "..."}}.
func openaiErrorMessage(raw []byte) string {
	var body struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != nil {
		return body.Error.Message
	}
	return ""
}
