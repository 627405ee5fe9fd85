package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// KnownKeys defines environment variable keys that semsearch recognizes.
var KnownKeys = []string{
	"SEMSEARCH_ADDR",
	"SEMSEARCH_SERVER_URL",
	"SEMSEARCH_VECTOR_PROVIDER",
	"SEMSEARCH_DATABASE_URL",
	"SEMSEARCH_SQLITE_PATH",
	"SEMSEARCH_POOL_SIZE",
	"SEMSEARCH_POOL_ACQUIRE_TIMEOUT_MS",
	"SEMSEARCH_STORE_RETRIES",
	"SEMSEARCH_METRIC",
	"SEMSEARCH_EMBEDDING_DIM",
	"SEMSEARCH_EMBEDDING_MODEL",
	"SEMSEARCH_OPENAI_BASE_URL",
	"SEMSEARCH_OPENAI_API_KEY",
	"SEMSEARCH_MAX_TEXT_LEN",
	"SEMSEARCH_MAX_TOP_K",
	"SEMSEARCH_ENCODE_TIMEOUT_MS",
	"SEMSEARCH_BATCH_WINDOW_MS",
	"SEMSEARCH_BATCH_MAX",
	"SEMSEARCH_EMBED_CACHE_DISABLE",
	"SEMSEARCH_EMBED_CACHE_TTL_SEC",
	"SEMSEARCH_EMBED_CACHE_MAX_ENTRIES",
	"SEMSEARCH_RATE_LIMIT_RPS",
	"SEMSEARCH_RATE_LIMIT_IP_RPS",
	"SEMSEARCH_API_TOKEN",
	"SEMSEARCH_LOG_LEVEL",
}

// Settings is the resolved runtime configuration. Components receive the
// values they need through constructors; nothing reads the environment after
// startup.
type Settings struct {
	Addr           string
	Provider       string // pgvector | sqlite | memory
	DatabaseURL    string
	SQLitePath     string
	PoolSize       int
	AcquireTimeout time.Duration
	StoreRetries   int

	Metric string // l2 | cosine
	Dim    int

	EmbeddingModel string
	OpenAIBaseURL  string
	OpenAIAPIKey   string
	EncodeTimeout  time.Duration
	BatchWindow    time.Duration
	BatchMax       int

	MaxTextLen int
	MaxTopK    int

	CacheDisabled   bool
	CacheTTL        time.Duration
	CacheMaxEntries int

	RateLimitRPS   float64 // global, 0 disables
	RateLimitIPRPS float64 // per client IP, 0 disables

	APIToken string
}

// FromEnv resolves Settings from the environment, applying defaults.
func FromEnv() (*Settings, error) {
	s := &Settings{
		Addr:           getenv("SEMSEARCH_ADDR", ":8091"),
		Provider:       strings.ToLower(getenv("SEMSEARCH_VECTOR_PROVIDER", "pgvector")),
		DatabaseURL:    os.Getenv("SEMSEARCH_DATABASE_URL"),
		SQLitePath:     os.Getenv("SEMSEARCH_SQLITE_PATH"),
		PoolSize:       intenv("SEMSEARCH_POOL_SIZE", 8),
		AcquireTimeout: msenv("SEMSEARCH_POOL_ACQUIRE_TIMEOUT_MS", 2*time.Second),
		StoreRetries:   intenv("SEMSEARCH_STORE_RETRIES", 3),
		Metric:         strings.ToLower(getenv("SEMSEARCH_METRIC", "l2")),
		Dim:            intenv("SEMSEARCH_EMBEDDING_DIM", 384),
		EmbeddingModel: getenv("SEMSEARCH_EMBEDDING_MODEL", "all-MiniLM-L6-v2"),
		OpenAIBaseURL:  getenv("SEMSEARCH_OPENAI_BASE_URL", "http://localhost:8080/v1"),
		OpenAIAPIKey:   os.Getenv("SEMSEARCH_OPENAI_API_KEY"),
		EncodeTimeout:  msenv("SEMSEARCH_ENCODE_TIMEOUT_MS", 30*time.Second),
		BatchWindow:    msenv("SEMSEARCH_BATCH_WINDOW_MS", 10*time.Millisecond),
		BatchMax:       intenv("SEMSEARCH_BATCH_MAX", 32),
		MaxTextLen:     intenv("SEMSEARCH_MAX_TEXT_LEN", 8000),
		MaxTopK:        intenv("SEMSEARCH_MAX_TOP_K", 100),
		CacheDisabled:  os.Getenv("SEMSEARCH_EMBED_CACHE_DISABLE") == "1",
		CacheTTL:       time.Duration(intenv("SEMSEARCH_EMBED_CACHE_TTL_SEC", 3600)) * time.Second,
		CacheMaxEntries: intenv("SEMSEARCH_EMBED_CACHE_MAX_ENTRIES", 4096),
		RateLimitRPS:    floatenv("SEMSEARCH_RATE_LIMIT_RPS"),
		RateLimitIPRPS:  floatenv("SEMSEARCH_RATE_LIMIT_IP_RPS"),
		APIToken:        os.Getenv("SEMSEARCH_API_TOKEN"),
	}
	switch s.Metric {
	case "l2", "cosine":
	default:
		return nil, fmt.Errorf("config: unknown metric %q (want l2 or cosine)", s.Metric)
	}
	switch s.Provider {
	case "pgvector", "sqlite", "memory":
	default:
		return nil, fmt.Errorf("config: unknown vector provider %q", s.Provider)
	}
	if s.Dim <= 0 {
		return nil, fmt.Errorf("config: embedding dim must be positive, got %d", s.Dim)
	}
	if s.PoolSize <= 0 {
		return nil, fmt.Errorf("config: pool size must be positive, got %d", s.PoolSize)
	}
	if s.MaxTopK <= 0 {
		return nil, fmt.Errorf("config: max top_k must be positive, got %d", s.MaxTopK)
	}
	return s, nil
}

// LoadAndApply loads configuration from ~/.semsearch/config.yaml (or
// .yml/.json) and applies values into the process environment for known keys
// if they are not already set. Environment variables take precedence over
// file values.
func LoadAndApply() error {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil // non-fatal
	}
	base := filepath.Join(home, ".semsearch")
	paths := []string{
		filepath.Join(base, "config.yaml"),
		filepath.Join(base, "config.yml"),
		filepath.Join(base, "config.json"),
	}
	var data map[string]any
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var m map[string]any
		if strings.HasSuffix(p, ".json") {
			err = json.Unmarshal(b, &m)
		} else {
			err = yaml.Unmarshal(b, &m)
		}
		if err == nil && len(m) > 0 {
			data = m
			break
		}
	}
	if len(data) == 0 {
		return nil
	}
	for _, key := range KnownKeys {
		if os.Getenv(key) != "" {
			continue
		}
		if v, ok := lookupInsensitive(data, key); ok {
			os.Setenv(key, toString(v))
		}
	}
	return nil
}

func lookupInsensitive(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intenv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatenv(key string) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return 0
}

func msenv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return def
}
