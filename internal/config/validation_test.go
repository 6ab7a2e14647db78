package config

import (
	"errors"
	"testing"
	"time"
)

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	return &Config{
		Provider:          ProviderGoogleAI,
		EmbedderModel:     DefaultEmbedderModel,
		EmbedderDimension: DefaultEmbedderDimension,
		GlobalCollection:  "study_notes",
		SessionPrefix:     "session-scoped:",
		ChunkMaxLen:       1200,
		ChunkOverlap:      200,
		TopK:              5,
		Workers:           4,
		JobRetries:        2,
		JobRetryBackoff:   time.Second,
		PostgresHost:      "localhost",
		PostgresPort:      5432,
		PostgresUser:      "ragcore",
		PostgresPassword:  "local_test_secret",
		PostgresDBName:    "ragcore",
		PostgresSSLMode:   "disable",
		APIAddr:           "127.0.0.1:8085",
	}
}

func TestValidate_OK(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_NilConfig(t *testing.T) {
	var c *Config
	if err := c.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("expected ErrConfigNil, got %v", err)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	if err := validConfig().Validate(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"unknown provider", func(c *Config) { c.Provider = "azure" }, ErrInvalidProvider},
		{"empty embedder model", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"zero dimension", func(c *Config) { c.EmbedderDimension = 0 }, ErrInvalidEmbedderDimension},
		{"dimension too large", func(c *Config) { c.EmbedderDimension = 4096 }, ErrInvalidEmbedderDimension},
		{"empty global collection", func(c *Config) { c.GlobalCollection = "" }, ErrInvalidCollectionName},
		{"empty session prefix", func(c *Config) { c.SessionPrefix = "" }, ErrInvalidCollectionName},
		{"chunk too small", func(c *Config) { c.ChunkMaxLen = 10 }, ErrInvalidChunking},
		{"overlap exceeds length", func(c *Config) { c.ChunkOverlap = 2000 }, ErrInvalidChunking},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }, ErrInvalidChunking},
		{"zero top_k", func(c *Config) { c.TopK = 0 }, ErrInvalidTopK},
		{"huge top_k", func(c *Config) { c.TopK = 500 }, ErrInvalidTopK},
		{"zero workers", func(c *Config) { c.Workers = 0 }, ErrInvalidWorkers},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"empty db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"empty password", func(c *Config) { c.PostgresPassword = "" }, ErrInvalidPostgresPassword},
		{"deprecated ssl mode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgresSSLMode},
		{"empty api addr", func(c *Config) { c.APIAddr = "" }, ErrInvalidAPIAddr},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}
