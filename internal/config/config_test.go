package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
database:
  driver: postgres
  url: postgres://blog@db.internal/blog?sslmode=disable
embedding:
  provider: ollama
  model: all-minilm
  dimensions: 384
qdrant:
  host: qdrant.internal
  port: 6334
  collection: blog-posts
sync:
  posts_dir: /srv/blog/posts
  on_boot: true
  timeout_ms: 30000
search:
  fallback: files
  rate_limit: 2.5
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	checks := map[string]string{
		"DATABASE_DRIVER":      "postgres",
		"DATABASE_URL":         "postgres://blog@db.internal/blog?sslmode=disable",
		"EMBEDDING_PROVIDER":   "ollama",
		"EMBEDDING_MODEL":      "all-minilm",
		"EMBEDDING_DIMENSIONS": "384",
		"QDRANT_HOST":          "qdrant.internal",
		"QDRANT_PORT":          "6334",
		"QDRANT_COLLECTION":    "blog-posts",
		"POSTS_DIR":            "/srv/blog/posts",
		"POST_SYNC_ON_BOOT":    "true",
		"POST_SYNC_TIMEOUT_MS": "30000",
		"SEARCH_FALLBACK":      "files",
		"SEARCH_RATE_LIMIT":    "2.5",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "text",
	}
	// Clear env vars that the YAML should set.
	for k := range checks {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	loaded, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: ollama
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading; it must not be overwritten.
	t.Setenv("EMBEDDING_PROVIDER", "local")

	if _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("EMBEDDING_PROVIDER"); got != "local" {
		t.Errorf("EMBEDDING_PROVIDER: expected env override %q, got %q", "local", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	local := "POST_SYNC_TOKEN=from-local\nPOSTS_DIR=/from/local\n"
	base := "POSTS_DIR=/from/env\nKEEP_ALIVE_URL=https://blog.example.com\n"
	if err := os.WriteFile(filepath.Join(dir, ".env.local"), []byte(local), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(base), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("POST_SYNC_TOKEN", "from-process")
	for _, k := range []string{"POSTS_DIR", "KEEP_ALIVE_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	applied, err := LoadDotEnv(dir)
	if err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("want 2 files applied, got %v", applied)
	}

	if got := os.Getenv("POST_SYNC_TOKEN"); got != "from-process" {
		t.Errorf("POST_SYNC_TOKEN: process env must win, got %q", got)
	}
	if got := os.Getenv("POSTS_DIR"); got != "/from/local" {
		t.Errorf("POSTS_DIR: .env.local must win over .env, got %q", got)
	}
	if got := os.Getenv("KEEP_ALIVE_URL"); got != "https://blog.example.com" {
		t.Errorf("KEEP_ALIVE_URL: got %q", got)
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"DATABASE_DRIVER", "POSTS_DIR", "POST_SYNC_TIMEOUT_MS", "EMBED_TIMEOUT_MS",
		"SEARCH_FALLBACK", "PUSH_BATCH_SIZE", "SYNC_STATE_FILE", "KEEP_ALIVE_INTERVAL_MS",
	} {
		t.Setenv(k, "")
	}

	s := FromEnv()
	if s.DatabaseDriver != "sqlite" {
		t.Errorf("DatabaseDriver: got %q", s.DatabaseDriver)
	}
	if s.PostsDir != DefaultPostsDir {
		t.Errorf("PostsDir: got %q", s.PostsDir)
	}
	if s.BootSyncTimeout != 15*time.Second {
		t.Errorf("BootSyncTimeout: got %v", s.BootSyncTimeout)
	}
	if s.StateFile != ".sync-state.json" {
		t.Errorf("StateFile: got %q", s.StateFile)
	}
	if s.KeepAliveInterval != 5*time.Minute {
		t.Errorf("KeepAliveInterval: got %v", s.KeepAliveInterval)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("POST_SYNC_TIMEOUT_MS", "2500")
	t.Setenv("POST_SYNC_ON_BOOT", "true")
	t.Setenv("API_BASE_URL", "https://api.example.com/")
	t.Setenv("SEARCH_FALLBACK", "FILES")

	s := FromEnv()
	if s.BootSyncTimeout != 2500*time.Millisecond {
		t.Errorf("BootSyncTimeout: got %v", s.BootSyncTimeout)
	}
	if !s.SyncOnBoot {
		t.Error("SyncOnBoot: want true")
	}
	if s.APIBaseURL != "https://api.example.com" {
		t.Errorf("APIBaseURL: trailing slash should be trimmed, got %q", s.APIBaseURL)
	}
	if s.SearchFallback != "files" {
		t.Errorf("SearchFallback: got %q", s.SearchFallback)
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		s    Settings
		ok   bool
	}{
		{"sqlite", Settings{DatabaseDriver: "sqlite", SearchFallback: "db", PushBatchSize: 1}, true},
		{"postgres without url", Settings{DatabaseDriver: "postgres", SearchFallback: "db", PushBatchSize: 1}, false},
		{"unknown driver", Settings{DatabaseDriver: "mysql", SearchFallback: "db", PushBatchSize: 1}, false},
		{"bad fallback", Settings{DatabaseDriver: "sqlite", SearchFallback: "web", PushBatchSize: 1}, false},
		{"zero batch", Settings{DatabaseDriver: "sqlite", SearchFallback: "db"}, false},
	}
	for _, tc := range cases {
		err := tc.s.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: want ErrInvalid, got %v", tc.name, err)
		}
	}
}

func TestFloatStr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0, ""},
		{0.5, "0.5"},
		{10, "10"},
	}
	for _, tt := range tests {
		if got := floatStr(tt.in); got != tt.want {
			t.Errorf("floatStr(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
