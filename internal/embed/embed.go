// Package embed wraps embedding-model access behind the narrow interface
// the ingestion and query paths consume.
//
// The same Embedder instance serves both ingestion and queries, so both
// sides always embed with the same model; ModelID is threaded into the
// vector store's collection metadata where a drift between ingest-time
// and query-time models is surfaced as a configuration error.
package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
)

// Default batching and throttling for the embedding service.
const (
	// DefaultBatchSize is how many chunks are embedded per upstream call.
	DefaultBatchSize = 16

	// DefaultRequestsPerSecond bounds calls to the embedding service.
	DefaultRequestsPerSecond = 5

	// DefaultBurst is the rate limiter burst allowance.
	DefaultBurst = 10
)

// Embedder turns text into embedding vectors. Implementations must be
// safe for concurrent use.
//
// Following Go best practices: the interface is defined by the consumer
// side; the Genkit bridge below and the deterministic test embedder in
// internal/testutil satisfy it through duck typing.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// ModelID identifies the embedding model and version, used for
	// ingest/query mismatch detection.
	ModelID() string
}

// Genkit bridges a Genkit ai.Embedder to the Embedder interface, adding
// batching and rate limiting around the upstream service.
type Genkit struct {
	embedder  ai.Embedder
	model     string
	batchSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// Config controls the Genkit bridge.
type Config struct {
	// Model is the embedding model id (e.g. "gemini-embedding-001").
	// Required: it is recorded per collection for mismatch detection.
	Model string

	// BatchSize is chunks per upstream call. Default: DefaultBatchSize.
	BatchSize int

	// RequestsPerSecond throttles upstream calls.
	// Default: DefaultRequestsPerSecond.
	RequestsPerSecond float64

	// Burst is the limiter burst. Default: DefaultBurst.
	Burst int
}

// NewGenkit creates the bridge. logger may be nil.
func NewGenkit(embedder ai.Embedder, cfg Config, logger *slog.Logger) (*Genkit, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model id is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Genkit{
		embedder:  embedder,
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:    logger,
	}, nil
}

// ModelID returns the configured embedding model id.
func (g *Genkit) ModelID() string {
	return g.model
}

// Embed embeds texts in batches. The upstream response must carry one
// embedding per input; a short response is an error, never a silent
// drop.
func (g *Genkit) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for embed rate limit: %w", err)
		}

		docs := make([]*ai.Document, len(batch))
		for i, text := range batch {
			docs[i] = ai.DocumentFromText(text, nil)
		}

		resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
		if err != nil {
			return nil, fmt.Errorf("embedding batch of %d: %w", len(batch), err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs",
				len(resp.Embeddings), len(batch))
		}
		for i, e := range resp.Embeddings {
			if len(e.Embedding) == 0 {
				return nil, fmt.Errorf("empty embedding returned for input %d", start+i)
			}
			vectors = append(vectors, e.Embedding)
		}
	}

	g.logger.Debug("texts embedded", "count", len(texts), "model", g.model)
	return vectors, nil
}

// compile-time interface check
var _ Embedder = (*Genkit)(nil)
