package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	Search    SearchConfig    `yaml:"search"`
	Enroll    EnrollConfig    `yaml:"enroll"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log"`
}

type EmbeddingConfig struct {
	URL            string  `yaml:"url"`             // face embedding server base URL
	Dim            int     `yaml:"dim"`             // fixed vector length D of the face model
	TimeoutSeconds int     `yaml:"timeout_seconds"` // per-request timeout
	RateLimit      float64 `yaml:"rate_limit"`      // requests per second, 0 disables limiting
	MaxImageSize   int     `yaml:"max_image_size"`  // longest edge in pixels before upload
}

// Timeout returns the per-request timeout as a duration.
func (c *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type DatabaseConfig struct {
	Backend       string `yaml:"backend"`   // postgres or bolt
	URL           string `yaml:"-"`         // PostgreSQL connection URL
	BoltPath      string `yaml:"bolt_path"` // bbolt file for the embedded backend
	MaxOpenConns  int    `yaml:"max_open_conns"`
	MaxIdleConns  int    `yaml:"max_idle_conns"`
	HNSWIndexPath string `yaml:"-"` // Path to persist the centroid HNSW index (optional)
	HNSWEnabled   bool   `yaml:"-"`
}

type SearchConfig struct {
	TopK int `yaml:"top_k"`
}

type EnrollConfig struct {
	MaxImages    int     `yaml:"max_images"`
	Workers      int     `yaml:"workers"`
	Aggregation  string  `yaml:"aggregation"` // mean or trimmed
	TrimFraction float64 `yaml:"trim_fraction"`
}

type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	MaxUploadSize int64  `yaml:"max_upload_size"`

	// AllowedOrigins receive CORS headers in addition to localhost
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Debug bool `yaml:"-"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float environment variable.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envString returns the env var value or the default when unset.
func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated list, skipping empty items.
func envList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envBool parses a boolean env var with strconv.ParseBool (1, t, true, 0, f,
// false in any case). Other values such as "yes" fall back to the default.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

// Defaults returns the embedded defaults without environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// Embedded file, this can only fail on a broken build.
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	cfg := Defaults()

	cfg.Embedding = EmbeddingConfig{
		URL:            envString("EMBEDDING_URL", cfg.Embedding.URL),
		Dim:            envInt("EMBEDDING_DIM", cfg.Embedding.Dim),
		TimeoutSeconds: envInt("EMBEDDING_TIMEOUT", cfg.Embedding.TimeoutSeconds),
		RateLimit:      envFloat("EMBEDDING_RATE_LIMIT", cfg.Embedding.RateLimit),
		MaxImageSize:   envInt("EMBEDDING_MAX_IMAGE_SIZE", cfg.Embedding.MaxImageSize),
	}
	cfg.Database = DatabaseConfig{
		Backend:       envString("DATABASE_BACKEND", cfg.Database.Backend),
		URL:           os.Getenv("DATABASE_URL"),
		BoltPath:      envString("BOLT_PATH", cfg.Database.BoltPath),
		MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns),
		MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns),
		HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		HNSWEnabled:   envBool("HNSW_ENABLED", false),
	}
	cfg.Search.TopK = envInt("SEARCH_TOP_K", cfg.Search.TopK)
	cfg.Enroll = EnrollConfig{
		MaxImages:    envInt("ENROLL_MAX_IMAGES", cfg.Enroll.MaxImages),
		Workers:      envInt("ENROLL_WORKERS", cfg.Enroll.Workers),
		Aggregation:  envString("ENROLL_AGGREGATION", cfg.Enroll.Aggregation),
		TrimFraction: envFloat("ENROLL_TRIM_FRACTION", cfg.Enroll.TrimFraction),
	}
	cfg.Web = WebConfig{
		Host:           envString("WEB_HOST", cfg.Web.Host),
		Port:           envInt("WEB_PORT", cfg.Web.Port),
		MaxUploadSize:  int64(envInt("WEB_MAX_UPLOAD_SIZE", int(cfg.Web.MaxUploadSize))),
		AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", cfg.Web.AllowedOrigins),
	}
	cfg.Log.Debug = envBool("LOG_DEBUG", false)

	return cfg
}
