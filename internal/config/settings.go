package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by FromEnv when a variable is unset or unparsable.
const (
	DefaultDatabaseDriver  = "sqlite"
	DefaultSQLitePath      = "postsearch.db"
	DefaultPostsDir        = "content/posts"
	DefaultStateFile       = ".sync-state.json"
	DefaultBootSyncTimeout = 15 * time.Second
	DefaultEmbedTimeout    = 20 * time.Second
	DefaultPushBatchSize   = 50
	DefaultCacheSize       = 256
	DefaultQdrantPort      = 6334
	DefaultQdrantName      = "posts"
	DefaultKeepAlive       = 5 * time.Minute
	DefaultKeepAliveTO     = 5 * time.Second
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8080
)

// Settings is the resolved runtime configuration read from the environment
// after Load and LoadDotEnv have run. Commands build their components from it
// instead of reading env vars ad hoc.
type Settings struct {
	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string

	EmbedTimeout time.Duration

	QdrantHost       string
	QdrantPort       int
	QdrantCollection string
	QdrantAPIKey     string
	QdrantTLS        bool

	RedisURL string

	PostsDir        string
	SyncToken       string
	SyncOnBoot      bool
	BootSyncTimeout time.Duration
	StateFile       string
	APIBaseURL      string
	PushBatchSize   int

	SearchFallback  string
	SearchCacheSize int
	RateLimit       float64
	RateBurst       int

	Host        string
	Port        int
	JWTSecret   string
	ProxyTarget string

	KeepAliveURL      string
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration
}

// FromEnv reads Settings from the process environment.
func FromEnv() Settings {
	return Settings{
		DatabaseDriver: strings.ToLower(envOr("DATABASE_DRIVER", DefaultDatabaseDriver)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     envOr("SQLITE_PATH", DefaultSQLitePath),

		EmbedTimeout: envMillis("EMBED_TIMEOUT_MS", DefaultEmbedTimeout),

		QdrantHost:       os.Getenv("QDRANT_HOST"),
		QdrantPort:       envInt("QDRANT_PORT", DefaultQdrantPort),
		QdrantCollection: envOr("QDRANT_COLLECTION", DefaultQdrantName),
		QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:        os.Getenv("QDRANT_TLS") == "true",

		RedisURL: os.Getenv("REDIS_URL"),

		PostsDir:        envOr("POSTS_DIR", DefaultPostsDir),
		SyncToken:       os.Getenv("POST_SYNC_TOKEN"),
		SyncOnBoot:      os.Getenv("POST_SYNC_ON_BOOT") == "true",
		BootSyncTimeout: envMillis("POST_SYNC_TIMEOUT_MS", DefaultBootSyncTimeout),
		StateFile:       envOr("SYNC_STATE_FILE", DefaultStateFile),
		APIBaseURL:      strings.TrimRight(os.Getenv("API_BASE_URL"), "/"),
		PushBatchSize:   envInt("PUSH_BATCH_SIZE", DefaultPushBatchSize),

		SearchFallback:  strings.ToLower(envOr("SEARCH_FALLBACK", "db")),
		SearchCacheSize: envInt("SEARCH_CACHE_SIZE", DefaultCacheSize),
		RateLimit:       envFloat("SEARCH_RATE_LIMIT", 0),
		RateBurst:       envInt("SEARCH_RATE_BURST", 0),

		Host:        envOr("POSTSEARCH_HOST", DefaultHost),
		Port:        envInt("POSTSEARCH_PORT", DefaultPort),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		ProxyTarget: strings.TrimRight(os.Getenv("PROXY_TARGET"), "/"),

		KeepAliveURL:      os.Getenv("KEEP_ALIVE_URL"),
		KeepAliveInterval: envMillisExact("KEEP_ALIVE_INTERVAL_MS", DefaultKeepAlive),
		KeepAliveTimeout:  envMillis("KEEP_ALIVE_TIMEOUT_MS", DefaultKeepAliveTO),
	}
}

// Validate reports settings that cannot produce a working process.
func (s Settings) Validate() error {
	switch s.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if s.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required when DATABASE_DRIVER=postgres", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: DATABASE_DRIVER %q (valid: sqlite, postgres)", ErrInvalid, s.DatabaseDriver)
	}
	switch s.SearchFallback {
	case "db", "files":
	default:
		return fmt.Errorf("%w: SEARCH_FALLBACK %q (valid: db, files)", ErrInvalid, s.SearchFallback)
	}
	if s.PushBatchSize <= 0 {
		return fmt.Errorf("%w: PUSH_BATCH_SIZE must be positive", ErrInvalid)
	}
	return nil
}

// envOr returns the value of key, or fallback when unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt returns the integer value of key, or fallback when unset or unparsable.
func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// envFloat returns the float value of key, or fallback when unset or unparsable.
func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envMillis reads key as a millisecond count. Non-positive values fall back.
func envMillis(key string, fallback time.Duration) time.Duration {
	ms := envInt(key, 0)
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// envMillisExact is envMillis without the positivity fallback: a set but
// non-positive or unparsable value is returned as zero or less so the
// consumer can reject it.
func envMillisExact(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
