package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/postsearch-go/internal/budget"
)

// ErrDisabled is the load error of the "none" backend.
var ErrDisabled = errors.New("embedder: disabled by EMBEDDING_PROVIDER=none")

// DefaultDimensions returns the expected vector length: EMBEDDING_DIMENSIONS
// when set, otherwise DefaultLocalDimensions. Ollama and OpenAI backends are
// expected to be configured for the same width as the store column.
func DefaultDimensions() int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	return DefaultLocalDimensions
}

// NewFromEnv constructs an Unloaded Provider for the backend named by
// EMBEDDING_PROVIDER (default "local").
//
// Resolution:
//
//  1. EMBEDDING_PROVIDER  local | ollama | openai | azure | none
//  2. EMBEDDING_MODEL     backend model name override
//  3. EMBEDDING_ENDPOINT  base URL override (OLLAMA_HOST for ollama)
//  4. EMBEDDING_API_KEY   key override (OPENAI_API_KEY / AZURE_OPENAI_API_KEY)
//  5. EMBEDDING_DIMENSIONS expected vector length (default 384)
//  6. EMBEDDING_MAX_TOKENS input budget for remote backends (default 8000)
//
// Only configuration errors are returned here; backend reachability is
// discovered by the lazy load and surfaces as ErrUnavailable.
func NewFromEnv(log *slog.Logger) (*Provider, error) {
	backend := strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", "local"))
	dims := DefaultDimensions()
	opts := Options{Name: backend, Dimensions: dims, Logger: log}
	if backend != "local" {
		opts.MaxInputTokens = getEnvInt("EMBEDDING_MAX_TOKENS", budget.DefaultMaxInputTokens)
	}

	switch backend {
	case "local":
		m := NewLocalModel(dims)
		return NewProvider(func(context.Context) (Model, error) { return m, nil }, opts), nil

	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		m := NewOllamaModel(OllamaConfig{Host: host, Model: getEnv("EMBEDDING_MODEL")})
		return NewProvider(probeLoader(m, dims), opts), nil

	case "openai":
		apiKey := firstEnv("EMBEDDING_API_KEY", "OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		m := NewOpenAIModel(OpenAIConfig{
			BaseURL:    getEnvOrDefault("EMBEDDING_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:     apiKey,
			Model:      getEnv("EMBEDDING_MODEL"),
			Dimensions: dims,
		})
		return NewProvider(probeLoader(m, dims), opts), nil

	case "azure":
		apiKey := firstEnv("EMBEDDING_API_KEY", "AZURE_OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := firstEnv("EMBEDDING_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		m := NewOpenAIModel(OpenAIConfig{
			BaseURL:    strings.TrimRight(endpoint, "/") + "/openai",
			APIKey:     apiKey,
			Model:      getEnv("EMBEDDING_MODEL"),
			Dimensions: dims,
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2024-10-21"),
		})
		return NewProvider(probeLoader(m, dims), opts), nil

	case "none":
		return NewProvider(func(context.Context) (Model, error) { return nil, ErrDisabled }, opts), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q (valid: local, ollama, openai, azure, none)", backend)
	}
}

// probeLoader returns a LoaderFunc that verifies m with a single embed call
// before handing it to the Provider.
func probeLoader(m Model, dims int) LoaderFunc {
	return func(ctx context.Context) (Model, error) {
		if err := probe(ctx, m, dims); err != nil {
			return nil, err
		}
		return m, nil
	}
}

func getEnv(key string) string {
	return os.Getenv(key)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
