// Package cmd implements the ragcore command line interface.
package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/studyloop/ragcore/internal/config"
	"github.com/studyloop/ragcore/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "ragcore",
	Short: "Session-scoped retrieval for study sessions",
	Long: `ragcore manages per-session knowledge indexes backed by pgvector.

Ingested documents are chunked, embedded, and stored in a collection
scoped to the current session. Queries retrieve the most relevant
chunks and render them as grounding context for a language model.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads and validates configuration for commands that need
// the full application stack.
func loadConfig() (*config.Config, error) {
	return config.Load()
}

// newLogger builds the process logger from configuration. The
// RAGCORE_DEBUG environment variable forces debug level regardless of
// the configured one.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLevel(cfg.LogLevel)
	if os.Getenv("RAGCORE_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
