// Package vecstore defines the narrow contract ragcore requires from a
// vector database, plus the two shipped implementations: PostgreSQL with
// pgvector (production) and an in-process memory store (tests, embedded
// use).
//
// The contract is deliberately small: collection lifecycle, append-only
// point upsert, and similarity search. Collection-level lifecycle
// serialization is NOT this package's job — the collection registry owns
// that. The store only guarantees that EnsureCollection is idempotent
// and that DeleteCollection of a missing collection is a no-op.
package vecstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCollectionNotFound indicates an operation referenced a
	// collection that does not exist in the store.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch indicates a vector's dimension does not match
	// the collection's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrModelMismatch indicates the embedding model recorded for a
	// collection differs from the model used for the current call.
	// This is a configuration error, never retried.
	ErrModelMismatch = errors.New("embedding model mismatch")
)

// Point is one embedded chunk persisted in a collection. Never mutated
// after insertion; re-ingestion of the same source produces new points.
type Point struct {
	// ID is a caller-supplied unique identifier (UUID string).
	ID string

	// Vector is the embedding.
	Vector []float32

	// Text is the chunk content the vector was derived from.
	Text string

	// Payload carries provenance and filter metadata: source, offsets,
	// session id, ingestion timestamp, embedding model.
	Payload map[string]string
}

// ScoredPoint is a search hit: the stored point plus its similarity to
// the query vector (1 = identical direction under cosine similarity).
type ScoredPoint struct {
	Point
	Similarity float64
}

// CollectionInfo describes a collection's recorded configuration.
type CollectionInfo struct {
	Name      string
	Dimension int
	Model     string
	CreatedAt time.Time
}

// Store is the vector database contract. Implementations must be safe
// for concurrent use.
//
// Following Go best practices the interface lives with its consumers'
// shared vocabulary here; concrete stores (postgres, memory) satisfy it
// through duck typing.
type Store interface {
	// EnsureCollection creates the named collection if it does not
	// already exist. Idempotent: calling it on an existing collection
	// with the same dimension and model succeeds without side effects.
	// Returns ErrModelMismatch or ErrDimensionMismatch when the existing
	// collection was created with a different configuration.
	EnsureCollection(ctx context.Context, name string, dim int, model string) error

	// CollectionExists reports whether the named collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// Upsert appends points to the collection. Append-only: caller
	// supplies fresh IDs per call, so no two calls on the same source
	// ever overwrite unrelated points. Insertion order is preserved for
	// search tie-breaking.
	Upsert(ctx context.Context, name string, points []Point) error

	// Search returns the k nearest points to vector by cosine distance,
	// ranked most similar first. Ties are broken toward the
	// earlier-inserted point for determinism. Returns
	// ErrCollectionNotFound if the collection does not exist and
	// ErrModelMismatch if model differs from the collection's recorded
	// embedding model.
	Search(ctx context.Context, name string, vector []float32, k int, model string) ([]ScoredPoint, error)

	// DeleteCollection removes the collection and all its points.
	// Deleting a missing collection is a no-op success.
	DeleteCollection(ctx context.Context, name string) error

	// Count returns the number of points in the collection.
	// Returns ErrCollectionNotFound if the collection does not exist.
	Count(ctx context.Context, name string) (int64, error)

	// ListCollections returns info for every collection the store holds.
	// Used to seed the registry after a restart and for stats surfaces.
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
}
