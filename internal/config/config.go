// Package config provides layered configuration for postsearch.
// Precedence, lowest to highest: built-in defaults → YAML file → dotenv files
// → process environment. Environment variables always win.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. POSTSEARCH_CONFIG environment variable
//  3. ~/.postsearch/config.yaml
//  4. ./postsearch.yaml
//
// Dotenv files (.env.local, then .env) in the working directory are read
// before the YAML file and never override variables that are already set.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DotEnvFiles is the ordered list of dotenv files consulted by LoadDotEnv.
var DotEnvFiles = []string{".env.local", ".env"}

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Database selects and configures the document store.
	Database DatabaseConfig `yaml:"database"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the optional Qdrant vector index.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Redis configures the optional distributed sync lock.
	Redis RedisConfig `yaml:"redis"`

	// Sync configures the reconciler, boot sync, and push client.
	Sync SyncConfig `yaml:"sync"`

	// Search configures the search service.
	Search SearchConfig `yaml:"search"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// KeepAlive configures the keep-alive pinger.
	KeepAlive KeepAliveConfig `yaml:"keep_alive"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// DatabaseConfig holds document store settings.
type DatabaseConfig struct {
	// Driver is sqlite or postgres.
	Driver string `yaml:"driver"`
	// URL is the postgres connection string. Prefer env var DATABASE_URL.
	URL string `yaml:"url"`
	// SQLitePath is the sqlite database file.
	SQLitePath string `yaml:"sqlite_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the backend: local, ollama, openai, azure, none.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions is the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// OllamaHost is the Ollama base URL used when Endpoint is empty.
	OllamaHost string `yaml:"ollama_host"`
	// TimeoutMS bounds each per-document embedding call during sync.
	TimeoutMS int `yaml:"timeout_ms"`
}

// QdrantConfig holds Qdrant vector index settings.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
	APIKey     string `yaml:"api_key"`
	TLS        bool   `yaml:"tls"`
}

// RedisConfig holds the Redis lock settings.
type RedisConfig struct {
	// URL is a redis:// URL. Empty selects the in-process lock.
	URL string `yaml:"url"`
}

// SyncConfig holds reconciler settings.
type SyncConfig struct {
	// PostsDir is the file-backed corpus directory.
	PostsDir string `yaml:"posts_dir"`
	// Token is the shared secret required by the sync endpoints. Prefer env var POST_SYNC_TOKEN.
	Token string `yaml:"token"`
	// OnBoot runs a detached sync when `serve` starts.
	OnBoot bool `yaml:"on_boot"`
	// TimeoutMS bounds the boot sync.
	TimeoutMS int `yaml:"timeout_ms"`
	// StateFile is the push ledger path.
	StateFile string `yaml:"state_file"`
	// APIBaseURL is the remote server the push command targets.
	APIBaseURL string `yaml:"api_base_url"`
	// PushBatchSize is the number of posts per push request.
	PushBatchSize int `yaml:"push_batch_size"`
}

// SearchConfig holds search service settings.
type SearchConfig struct {
	// Fallback selects the lexical source: db or files.
	Fallback string `yaml:"fallback"`
	// CacheSize is the query embedding cache capacity.
	CacheSize int `yaml:"cache_size"`
	// RateLimit is the sustained per-IP request rate on /search.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst on /search.
	RateBurst int `yaml:"rate_burst"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// JWTSecret enables admin-JWT auth on the push feed. Prefer env var JWT_SECRET.
	JWTSecret string `yaml:"jwt_secret"`
	// ProxyTarget enables the /api/proxy reverse proxy.
	ProxyTarget string `yaml:"proxy_target"`
}

// KeepAliveConfig holds keep-alive pinger settings.
type KeepAliveConfig struct {
	URL        string `yaml:"url"`
	IntervalMS int    `yaml:"interval_ms"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"DATABASE_DRIVER", func(c *Config) string { return c.Database.Driver }},
	{"DATABASE_URL", func(c *Config) string { return c.Database.URL }},
	{"SQLITE_PATH", func(c *Config) string { return c.Database.SQLitePath }},
	{"EMBEDDING_PROVIDER", func(c *Config) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *Config) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"OLLAMA_HOST", func(c *Config) string { return c.Embedding.OllamaHost }},
	{"EMBED_TIMEOUT_MS", func(c *Config) string { return intStr(c.Embedding.TimeoutMS) }},
	{"QDRANT_HOST", func(c *Config) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *Config) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_COLLECTION", func(c *Config) string { return c.Qdrant.Collection }},
	{"QDRANT_API_KEY", func(c *Config) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *Config) string { return boolStr(c.Qdrant.TLS) }},
	{"REDIS_URL", func(c *Config) string { return c.Redis.URL }},
	{"POSTS_DIR", func(c *Config) string { return c.Sync.PostsDir }},
	{"POST_SYNC_TOKEN", func(c *Config) string { return c.Sync.Token }},
	{"POST_SYNC_ON_BOOT", func(c *Config) string { return boolStr(c.Sync.OnBoot) }},
	{"POST_SYNC_TIMEOUT_MS", func(c *Config) string { return intStr(c.Sync.TimeoutMS) }},
	{"SYNC_STATE_FILE", func(c *Config) string { return c.Sync.StateFile }},
	{"API_BASE_URL", func(c *Config) string { return c.Sync.APIBaseURL }},
	{"PUSH_BATCH_SIZE", func(c *Config) string { return intStr(c.Sync.PushBatchSize) }},
	{"SEARCH_FALLBACK", func(c *Config) string { return c.Search.Fallback }},
	{"SEARCH_CACHE_SIZE", func(c *Config) string { return intStr(c.Search.CacheSize) }},
	{"SEARCH_RATE_LIMIT", func(c *Config) string { return floatStr(c.Search.RateLimit) }},
	{"SEARCH_RATE_BURST", func(c *Config) string { return intStr(c.Search.RateBurst) }},
	{"POSTSEARCH_HOST", func(c *Config) string { return c.Server.Host }},
	{"POSTSEARCH_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"JWT_SECRET", func(c *Config) string { return c.Server.JWTSecret }},
	{"PROXY_TARGET", func(c *Config) string { return c.Server.ProxyTarget }},
	{"KEEP_ALIVE_URL", func(c *Config) string { return c.KeepAlive.URL }},
	{"KEEP_ALIVE_INTERVAL_MS", func(c *Config) string { return intStr(c.KeepAlive.IntervalMS) }},
	{"KEEP_ALIVE_TIMEOUT_MS", func(c *Config) string { return intStr(c.KeepAlive.TimeoutMS) }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// LoadDotEnv reads the dotenv files in DotEnvFiles that exist in dir.
// Variables already present in the environment are left untouched.
// Returns the files that were applied.
func LoadDotEnv(dir string) ([]string, error) {
	var applied []string
	for _, name := range DotEnvFiles {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return applied, fmt.Errorf("config: failed to read %s: %w", p, err)
		}
		applied = append(applied, p)
	}
	return applied, nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("POSTSEARCH_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".postsearch", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("postsearch.yaml"); err == nil {
		return "postsearch.yaml"
	}

	return ""
}

// ErrInvalid is wrapped by Validate errors.
var ErrInvalid = errors.New("config: invalid setting")

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// floatStr converts a float64 to string, returning "" for zero values.
func floatStr(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
