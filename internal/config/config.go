// Package config provides application configuration with multi-source
// priority.
//
// Sources (highest to lowest):
//  1. Environment variables (RAGCORE_* and DATABASE_URL)
//  2. Config file (~/.ragcore/config.yaml, or ./config.yaml)
//  3. Defaults
//
// Validation uses sentinel errors checkable with errors.Is(); Load
// fails fast on the first invalid value.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/studyloop/ragcore/internal/chunk"
	"github.com/studyloop/ragcore/internal/collection"
	"github.com/studyloop/ragcore/internal/embed"
	"github.com/studyloop/ragcore/internal/ingest"
	"github.com/studyloop/ragcore/internal/rag"
	"github.com/studyloop/ragcore/internal/schedule"
)

// Embedding provider identifiers used in Config.Provider.
const (
	ProviderGoogleAI = "googleai"
)

const (
	// DefaultEmbedderModel is the default Gemini embedding model.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbedderDimension matches the pgvector column width the
	// store creates for new collections.
	DefaultEmbedderDimension = 768
)

// Config stores application configuration. Construct through Load.
type Config struct {
	// Embedding provider and model
	Provider          string `mapstructure:"provider"`
	EmbedderModel     string `mapstructure:"embedder_model"`
	EmbedderDimension int    `mapstructure:"embedder_dimension"`
	EmbedBatchSize    int    `mapstructure:"embed_batch_size"`
	EmbedRatePerSec   int    `mapstructure:"embed_rate_per_sec"`

	// Collection naming
	GlobalCollection string `mapstructure:"global_collection"`
	SessionPrefix    string `mapstructure:"session_prefix"`

	// Chunking
	ChunkMaxLen  int `mapstructure:"chunk_max_len"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`

	// Retrieval
	TopK int `mapstructure:"top_k"`

	// Scheduler
	Workers         int           `mapstructure:"workers"`
	JobRetries      int           `mapstructure:"job_retries"`
	JobRetryBackoff time.Duration `mapstructure:"job_retry_backoff"`

	// Storage (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never logged
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// HTTP API
	APIAddr       string `mapstructure:"api_addr"`
	APIRatePerSec int    `mapstructure:"api_rate_per_sec"`
	APIRateBurst  int    `mapstructure:"api_rate_burst"`
	APITrustProxy bool   `mapstructure:"api_trust_proxy"`

	// Observability (optional; empty endpoint disables tracing export)
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
	Environment  string `mapstructure:"environment"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads configuration from file, environment, and defaults, then
// validates it.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".ragcore")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("RAGCORE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("config file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGoogleAI)
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dimension", DefaultEmbedderDimension)
	v.SetDefault("embed_batch_size", embed.DefaultBatchSize)
	v.SetDefault("embed_rate_per_sec", embed.DefaultRequestsPerSecond)

	v.SetDefault("global_collection", collection.DefaultGlobalCollection)
	v.SetDefault("session_prefix", collection.DefaultSessionPrefix)

	v.SetDefault("chunk_max_len", chunk.DefaultMaxLen)
	v.SetDefault("chunk_overlap", chunk.DefaultOverlap)

	v.SetDefault("top_k", rag.DefaultTopK)

	v.SetDefault("workers", schedule.DefaultWorkers)
	v.SetDefault("job_retries", schedule.DefaultJobRetries)
	v.SetDefault("job_retry_backoff", schedule.DefaultRetryBackoff)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "ragcore")
	v.SetDefault("postgres_password", "ragcore_dev_password")
	v.SetDefault("postgres_db_name", "ragcore")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("api_addr", "127.0.0.1:8085")
	v.SetDefault("api_rate_per_sec", 20)
	v.SetDefault("api_rate_burst", 40)

	v.SetDefault("service_name", "ragcore")
	v.SetDefault("environment", "dev")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// Naming builds the collection naming scheme from configuration.
func (c *Config) Naming() collection.Naming {
	return collection.NewNaming(c.GlobalCollection, c.SessionPrefix)
}

// Chunking builds the chunker configuration.
func (c *Config) Chunking() chunk.Config {
	return chunk.Config{MaxLen: c.ChunkMaxLen, Overlap: c.ChunkOverlap}
}

// Ingest builds the ingester configuration.
func (c *Config) Ingest() ingest.Config {
	return ingest.Config{Chunking: c.Chunking()}
}

// Schedule builds the scheduler configuration.
func (c *Config) Schedule() schedule.Config {
	return schedule.Config{
		Workers:      c.Workers,
		JobRetries:   c.JobRetries,
		RetryBackoff: c.JobRetryBackoff,
	}
}
