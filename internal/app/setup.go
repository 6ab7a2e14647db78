package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studyloop/ragcore/api"
	"github.com/studyloop/ragcore/db"
	"github.com/studyloop/ragcore/internal/collection"
	"github.com/studyloop/ragcore/internal/config"
	"github.com/studyloop/ragcore/internal/embed"
	"github.com/studyloop/ragcore/internal/ingest"
	"github.com/studyloop/ragcore/internal/observability"
	"github.com/studyloop/ragcore/internal/rag"
	"github.com/studyloop/ragcore/internal/schedule"
	"github.com/studyloop/ragcore/internal/vecstore"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	otelShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	embedder, err := provideEmbedder(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Embedder = embedder

	a.Store = vecstore.NewPostgres(pool, logger.With("component", "vecstore"))

	registry, err := provideRegistry(ctx, a.Store, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Registry = registry

	naming := cfg.Naming()

	a.Ingester = ingest.New(registry, a.Store, embedder, naming, cfg.Ingest(),
		logger.With("component", "ingester"))

	a.Engine = rag.New(registry, a.Store, embedder, naming,
		logger.With("component", "rag"))

	a.Scheduler = schedule.New(a.Ingester, registry, a.Store, naming, cfg.Schedule(),
		logger.With("component", "scheduler"))

	a.Server = api.NewServer(a.Scheduler, a.Engine, a.Store, pool, api.Config{
		Addr:       cfg.APIAddr,
		RatePerSec: cfg.APIRatePerSec,
		RateBurst:  cfg.APIRateBurst,
		TrustProxy: cfg.APITrustProxy,
	}, logger.With("component", "api"))

	return a, nil
}

// provideDBPool runs migrations and creates the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideEmbedder initializes Genkit with the configured provider and
// wraps its embedder in the batching bridge. The same instance serves
// ingestion and queries so both embed with the same model.
func provideEmbedder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (embed.Embedder, error) {
	var genkitEmbedder ai.Embedder

	switch cfg.Provider {
	case config.ProviderGoogleAI, "":
		g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with googleai provider")
		}
		genkitEmbedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}

	if genkitEmbedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	logger.Debug("embedder initialized",
		"provider", cfg.Provider, "model", cfg.EmbedderModel)

	return embed.NewGenkit(genkitEmbedder, embed.Config{
		Model:             cfg.EmbedderModel,
		BatchSize:         cfg.EmbedBatchSize,
		RequestsPerSecond: float64(cfg.EmbedRatePerSec),
	}, logger.With("component", "embedder"))
}

// provideRegistry creates the collection registry and seeds it with the
// collections already recorded in the store, so a restart does not
// re-create tables that survived the process.
func provideRegistry(ctx context.Context, store *vecstore.Postgres, cfg *config.Config, logger *slog.Logger) (*collection.Registry, error) {
	registry := collection.NewRegistry(store, cfg.EmbedderDimension, cfg.EmbedderModel,
		logger.With("component", "registry"))

	infos, err := store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	for _, info := range infos {
		if info.Dimension != cfg.EmbedderDimension || info.Model != cfg.EmbedderModel {
			logger.Warn("collection metadata differs from configuration, skipping adoption",
				"collection", info.Name,
				"dimension", info.Dimension,
				"model", info.Model)
			continue
		}
		registry.AdoptReady(info.Name)
	}
	if len(infos) > 0 {
		logger.Info("adopted existing collections", "count", len(infos))
	}

	return registry, nil
}
