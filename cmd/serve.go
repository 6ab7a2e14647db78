package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/studyloop/ragcore/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts the retrieval API server.

Endpoints:
  POST   /api/ingest               submit a document for ingestion
  GET    /api/jobs/{id}            ingestion job status
  POST   /api/query                retrieve grounding context
  DELETE /api/sessions/{id}/index  tear down a session index
  GET    /api/collections          list collections
  GET    /health, /ready           liveness and readiness`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (host:port), overrides configuration")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveAddr != "" {
		if err := validateAddr(serveAddr); err != nil {
			return fmt.Errorf("invalid address %q: %w", serveAddr, err)
		}
		cfg.APIAddr = serveAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(cfg)
	logger.Info("starting ragcore", "version", AppVersion)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	if err := a.Server.Run(ctx); err != nil {
		return fmt.Errorf("HTTP server: %w", err)
	}
	return nil
}
