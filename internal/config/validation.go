package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the embedding provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder dimension is out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidCollectionName indicates an empty or unusable collection name.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidChunking indicates chunk length/overlap values that cannot work.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidWorkers indicates the worker count is out of range.
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidAPIAddr indicates the HTTP listen address is empty.
	ErrInvalidAPIAddr = errors.New("invalid API address")
)

// Validate checks configuration values. Returns sentinel errors
// checkable with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.Provider != ProviderGoogleAI {
		return fmt.Errorf("%w: %q is not supported, use %q",
			ErrInvalidProvider, c.Provider, ProviderGoogleAI)
	}
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	// pgvector indexes cap out at 2000 dimensions.
	if c.EmbedderDimension < 1 || c.EmbedderDimension > 2000 {
		return fmt.Errorf("%w: must be between 1 and 2000, got %d",
			ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}

	if c.GlobalCollection == "" {
		return fmt.Errorf("%w: global_collection cannot be empty", ErrInvalidCollectionName)
	}
	if c.SessionPrefix == "" {
		return fmt.Errorf("%w: session_prefix cannot be empty", ErrInvalidCollectionName)
	}

	if c.ChunkMaxLen < 64 || c.ChunkMaxLen > 32768 {
		return fmt.Errorf("%w: chunk_max_len must be between 64 and 32768, got %d",
			ErrInvalidChunking, c.ChunkMaxLen)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxLen {
		return fmt.Errorf("%w: chunk_overlap must be non-negative and below chunk_max_len, got %d",
			ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.TopK)
	}

	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("%w: must be between 1 and 64, got %d", ErrInvalidWorkers, c.Workers)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d",
			ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "ragcore_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}

	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	if c.APIAddr == "" {
		return fmt.Errorf("%w: api_addr cannot be empty", ErrInvalidAPIAddr)
	}

	return nil
}
