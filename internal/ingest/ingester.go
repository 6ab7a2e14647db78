// Package ingest converts one source artifact into persisted embedding
// points in the correct collection: resolve target, ensure the
// collection is ready, chunk, embed, upsert.
//
// A job is all-or-nothing from the caller's perspective: the ingester
// never reports success while any chunk failed to embed or upsert, and
// a failed job leaves the target collection's point set unchanged
// (the store applies each source's points as one atomic batch).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/studyloop/ragcore/internal/chunk"
	"github.com/studyloop/ragcore/internal/collection"
	"github.com/studyloop/ragcore/internal/embed"
	"github.com/studyloop/ragcore/internal/vecstore"
)

// ErrNoSource indicates a request carried neither inline text nor a
// readable path.
var ErrNoSource = errors.New("ingestion request has no source")

// Default retry policy for transient embedding-service failures.
const (
	// DefaultEmbedRetries is how many times a failed embed call is
	// retried before the job fails.
	DefaultEmbedRetries = 2

	// DefaultRetryBackoff is the initial backoff between retries;
	// doubled per attempt.
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Payload keys written to every point for provenance and filtering.
const (
	PayloadSource     = "source"
	PayloadSessionID  = "session_id"
	PayloadStart      = "start"
	PayloadEnd        = "end"
	PayloadChunkIndex = "chunk_index"
	PayloadIngestedAt = "ingested_at"
	PayloadModel      = "model"
)

// Registry is the slice of the collection registry the ingester needs.
type Registry interface {
	EnsureReady(ctx context.Context, name string) error
}

// Store is the slice of the vector store the ingester needs.
type Store interface {
	Upsert(ctx context.Context, name string, points []vecstore.Point) error
}

// Request describes one source artifact to ingest. Exactly one of Text
// or Path must be set; Source labels provenance (defaults to the path
// base name, or "inline" for raw text).
type Request struct {
	SessionID string
	Source    string
	Text      string
	Path      string
}

// Result reports a completed ingestion.
type Result struct {
	// Collection is the resolved target collection name.
	Collection string

	// Chunks is the number of chunks embedded and persisted.
	Chunks int
}

// Config controls chunking and retry behavior.
type Config struct {
	Chunking chunk.Config

	// EmbedRetries bounds retries of a failed embed call.
	// Default: DefaultEmbedRetries.
	EmbedRetries int

	// RetryBackoff is the initial retry backoff, doubled per attempt.
	// Default: DefaultRetryBackoff.
	RetryBackoff time.Duration
}

// Ingester orchestrates chunk → embed → upsert for one source artifact.
// Safe for concurrent use; per-session ordering is the scheduler's job.
type Ingester struct {
	registry Registry
	store    Store
	embedder embed.Embedder
	naming   collection.Naming
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an Ingester. logger may be nil.
func New(registry Registry, store Store, embedder embed.Embedder, naming collection.Naming, cfg Config, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EmbedRetries < 0 {
		cfg.EmbedRetries = 0
	} else if cfg.EmbedRetries == 0 {
		cfg.EmbedRetries = DefaultEmbedRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return &Ingester{
		registry: registry,
		store:    store,
		embedder: embedder,
		naming:   naming,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer("ragcore/ingest"),
	}
}

// Ingest runs one ingestion job to completion.
//
// The registry call happens before any embedding work, so a collection
// that cannot be created fails the job fast and cheaply. Points are
// handed to the store as one batch per source; the store applies them
// atomically.
func (ing *Ingester) Ingest(ctx context.Context, req Request) (Result, error) {
	target := ing.naming.Resolve(req.SessionID)

	ctx, span := ing.tracer.Start(ctx, "ingest",
		trace.WithAttributes(
			attribute.String("collection", target.Name),
			attribute.Bool("global", target.Global()),
		))
	defer span.End()

	if err := ing.registry.EnsureReady(ctx, target.Name); err != nil {
		return Result{}, fmt.Errorf("preparing collection %q: %w", target.Name, err)
	}

	source, text, err := loadSource(req)
	if err != nil {
		return Result{}, err
	}

	chunks := chunk.Split(source, text, ing.cfg.Chunking)
	if len(chunks) == 0 {
		ing.logger.Debug("nothing to ingest", "collection", target.Name, "source", source)
		return Result{Collection: target.Name}, nil
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := ing.embedWithRetry(ctx, texts)
	if err != nil {
		return Result{}, fmt.Errorf("embedding %d chunks from %q: %w", len(chunks), source, err)
	}
	if len(vectors) != len(chunks) {
		return Result{}, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	ingestedAt := time.Now().UTC().Format(time.RFC3339)
	points := make([]vecstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vecstore.Point{
			// Fresh IDs per call: re-ingestion appends a disjoint point
			// set and never overwrites unrelated points.
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Text:   c.Text,
			Payload: map[string]string{
				PayloadSource:     c.Source,
				PayloadSessionID:  req.SessionID,
				PayloadStart:      strconv.Itoa(c.Start),
				PayloadEnd:        strconv.Itoa(c.End),
				PayloadChunkIndex: strconv.Itoa(c.Index),
				PayloadIngestedAt: ingestedAt,
				PayloadModel:      ing.embedder.ModelID(),
			},
		}
	}

	if err := ing.store.Upsert(ctx, target.Name, points); err != nil {
		return Result{}, fmt.Errorf("upserting %d points into %q: %w", len(points), target.Name, err)
	}

	ing.logger.Info("source ingested",
		"collection", target.Name,
		"source", source,
		"chunks", len(chunks),
	)
	return Result{Collection: target.Name, Chunks: len(chunks)}, nil
}

// embedWithRetry retries transient embedding failures with doubling
// backoff, up to the configured bound. A batch that still fails fails
// the whole job; chunks are never silently dropped.
func (ing *Ingester) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := ing.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= ing.cfg.EmbedRetries; attempt++ {
		if attempt > 0 {
			ing.logger.Warn("retrying embed batch", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		vectors, err := ing.embedder.Embed(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// loadSource extracts the text to ingest and its provenance label.
func loadSource(req Request) (source, text string, err error) {
	switch {
	case req.Text != "":
		source = req.Source
		if source == "" {
			source = "inline"
		}
		return source, req.Text, nil

	case req.Path != "":
		data, err := os.ReadFile(req.Path)
		if err != nil {
			return "", "", fmt.Errorf("reading source file: %w", err)
		}
		source = req.Source
		if source == "" {
			source = filepath.Base(req.Path)
		}
		return source, string(data), nil

	default:
		return "", "", ErrNoSource
	}
}
