// Package rag answers retrieval queries against the session-scoped and
// global collections and assembles the retrieved chunks into a context
// block suitable for grounding downstream generation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/studyloop/ragcore/internal/collection"
	"github.com/studyloop/ragcore/internal/embed"
	"github.com/studyloop/ragcore/internal/ingest"
	"github.com/studyloop/ragcore/internal/vecstore"
)

// ErrEmptyQuery indicates a query request with no text.
var ErrEmptyQuery = errors.New("query text is empty")

// DefaultTopK is the number of chunks retrieved when the request does
// not specify one.
const DefaultTopK = 5

// Registry is the slice of the collection registry the engine needs:
// a non-blocking readiness check for the fallback decision.
type Registry interface {
	IsReady(name string) bool
}

// Store is the slice of the vector store the engine needs.
type Store interface {
	Search(ctx context.Context, name string, vector []float32, k int, model string) ([]vecstore.ScoredPoint, error)
}

// Request describes one retrieval query.
type Request struct {
	// Text is the query. Required.
	Text string

	// SessionID scopes retrieval to a session collection when set.
	// The engine falls back to the global collection when the session
	// collection is not ready.
	SessionID string

	// TopK bounds the number of retrieved chunks. Zero means DefaultTopK.
	TopK int
}

// Snippet is one retrieved chunk with its provenance.
type Snippet struct {
	Text       string
	Source     string
	Start      string
	End        string
	Similarity float64
}

// Context is the assembled retrieval result. An empty Snippets slice is
// a valid answer: the caller proceeds without grounding.
type Context struct {
	// Collection is the collection actually searched, after any fallback.
	Collection string

	// FellBack reports that the request named a session but the search
	// ran against the global collection.
	FellBack bool

	Snippets []Snippet
}

// Empty reports whether retrieval produced no grounding material.
func (c Context) Empty() bool { return len(c.Snippets) == 0 }

// Prompt renders the snippets as one context block, highest similarity
// first, each chunk tagged with its source and offset range so the
// downstream generator can cite it.
func (c Context) Prompt() string {
	if len(c.Snippets) == 0 {
		return ""
	}
	var b strings.Builder
	for i, s := range c.Snippets {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s %s-%s]\n%s", s.Source, s.Start, s.End, s.Text)
	}
	return b.String()
}

// Engine resolves the target collection, embeds the query, and searches
// the vector store. Safe for concurrent use.
type Engine struct {
	registry Registry
	store    Store
	embedder embed.Embedder
	naming   collection.Naming
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an Engine. logger may be nil.
func New(registry Registry, store Store, embedder embed.Embedder, naming collection.Naming, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry: registry,
		store:    store,
		embedder: embedder,
		naming:   naming,
		logger:   logger,
		tracer:   otel.Tracer("ragcore/rag"),
	}
}

// Query runs one retrieval query.
//
// Resolution mirrors ingestion: a session id targets that session's
// collection. If the session collection is not ready the engine falls
// back to the global collection rather than failing; a missing or empty
// collection yields an empty Context, not an error. A mismatch between
// the query embedder's model and the collection's recorded model is a
// configuration error and is returned loudly.
func (e *Engine) Query(ctx context.Context, req Request) (Context, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Context{}, ErrEmptyQuery
	}
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	target := e.naming.Resolve(req.SessionID)
	fellBack := false
	if !target.Global() && !e.registry.IsReady(target.Name) {
		e.logger.Debug("session collection not ready, using global",
			"session_collection", target.Name)
		target = e.naming.Global()
		fellBack = true
	}

	ctx, span := e.tracer.Start(ctx, "query",
		trace.WithAttributes(
			attribute.String("collection", target.Name),
			attribute.Bool("fallback", fellBack),
			attribute.Int("top_k", topK),
		))
	defer span.End()

	vectors, err := e.embedder.Embed(ctx, []string{req.Text})
	if err != nil {
		return Context{}, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return Context{}, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	results, err := e.store.Search(ctx, target.Name, vectors[0], topK, e.embedder.ModelID())
	if err != nil {
		if errors.Is(err, vecstore.ErrCollectionNotFound) {
			// Nothing ingested yet. Valid state, empty answer.
			return Context{Collection: target.Name, FellBack: fellBack}, nil
		}
		return Context{}, fmt.Errorf("searching %q: %w", target.Name, err)
	}
	span.SetAttributes(attribute.Int("results", len(results)))

	snippets := make([]Snippet, 0, len(results))
	for _, r := range results {
		snippets = append(snippets, Snippet{
			Text:       r.Text,
			Source:     r.Payload[ingest.PayloadSource],
			Start:      r.Payload[ingest.PayloadStart],
			End:        r.Payload[ingest.PayloadEnd],
			Similarity: r.Similarity,
		})
	}

	return Context{
		Collection: target.Name,
		FellBack:   fellBack,
		Snippets:   snippets,
	}, nil
}
