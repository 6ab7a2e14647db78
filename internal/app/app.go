// Package app wires the application together.
//
// App is the container holding every long-lived component: the database
// pool, the vector store, the collection registry, the ingestion
// pipeline, the query engine, the scheduler, and the HTTP server.
// Setup builds it from configuration; Close releases everything in
// reverse order.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studyloop/ragcore/api"
	"github.com/studyloop/ragcore/internal/collection"
	"github.com/studyloop/ragcore/internal/config"
	"github.com/studyloop/ragcore/internal/embed"
	"github.com/studyloop/ragcore/internal/ingest"
	"github.com/studyloop/ragcore/internal/rag"
	"github.com/studyloop/ragcore/internal/schedule"
	"github.com/studyloop/ragcore/internal/vecstore"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool      *pgxpool.Pool
	Store     *vecstore.Postgres
	Registry  *collection.Registry
	Embedder  embed.Embedder
	Ingester  *ingest.Ingester
	Engine    *rag.Engine
	Scheduler *schedule.Scheduler
	Server    *api.Server

	otelShutdown func(context.Context) error
}

// Close releases all resources. The scheduler drains first so no job
// touches the pool after it closes; the tracer flushes last.
func (a *App) Close() error {
	if a.Logger != nil {
		a.Logger.Info("shutting down")
	}

	if a.Scheduler != nil {
		a.Scheduler.Close()
	}

	if a.Pool != nil {
		a.Pool.Close()
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil && a.Logger != nil {
			a.Logger.Warn("shutting down tracer provider", "error", err)
		}
	}

	return nil
}
