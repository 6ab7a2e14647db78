package vecstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store implementation backed by maps.
// Used by unit tests and embedded (databaseless) deployments.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	info   CollectionInfo
	points []memPoint // insertion order preserved for tie-breaking
	seq    int64
}

type memPoint struct {
	Point
	ord int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

// EnsureCollection creates the collection if missing. Idempotent.
func (m *Memory) EnsureCollection(_ context.Context, name string, dim int, model string) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d for collection %q", dim, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.collections[name]; ok {
		if existing.info.Model != model {
			return fmt.Errorf("collection %q recorded model %q, got %q: %w",
				name, existing.info.Model, model, ErrModelMismatch)
		}
		if existing.info.Dimension != dim {
			return fmt.Errorf("collection %q recorded dimension %d, got %d: %w",
				name, existing.info.Dimension, dim, ErrDimensionMismatch)
		}
		return nil
	}

	m.collections[name] = &memCollection{
		info: CollectionInfo{
			Name:      name,
			Dimension: dim,
			Model:     model,
			CreatedAt: time.Now(),
		},
	}
	return nil
}

// CollectionExists reports whether the collection exists.
func (m *Memory) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

// Upsert appends points to the collection in order.
func (m *Memory) Upsert(_ context.Context, name string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("upsert into %q: %w", name, ErrCollectionNotFound)
	}

	for _, p := range points {
		if len(p.Vector) != col.info.Dimension {
			return fmt.Errorf("point %q has dimension %d, collection %q wants %d: %w",
				p.ID, len(p.Vector), name, col.info.Dimension, ErrDimensionMismatch)
		}
	}

	for _, p := range points {
		col.seq++
		// Copy payload so callers can't mutate stored state.
		payload := make(map[string]string, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = v
		}
		stored := p
		stored.Payload = payload
		col.points = append(col.points, memPoint{Point: stored, ord: col.seq})
	}
	return nil
}

// Search returns the k most similar points by cosine similarity,
// ties broken toward earlier insertion.
func (m *Memory) Search(_ context.Context, name string, vector []float32, k int, model string) ([]ScoredPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("search in %q: %w", name, ErrCollectionNotFound)
	}
	if model != "" && model != col.info.Model {
		return nil, fmt.Errorf("collection %q recorded model %q, query used %q: %w",
			name, col.info.Model, model, ErrModelMismatch)
	}
	if len(vector) != col.info.Dimension {
		return nil, fmt.Errorf("query dimension %d, collection %q wants %d: %w",
			len(vector), name, col.info.Dimension, ErrDimensionMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	type scored struct {
		ScoredPoint
		ord int64
	}
	results := make([]scored, 0, len(col.points))
	for _, p := range col.points {
		results = append(results, scored{
			ScoredPoint: ScoredPoint{Point: p.Point, Similarity: cosineSimilarity(vector, p.Vector)},
			ord:         p.ord,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ord < results[j].ord
	})

	if k > len(results) {
		k = len(results)
	}
	out := make([]ScoredPoint, k)
	for i := range out {
		out[i] = results[i].ScoredPoint
	}
	return out, nil
}

// DeleteCollection removes the collection. Missing collection is a no-op.
func (m *Memory) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

// Count returns the number of points in the collection.
func (m *Memory) Count(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[name]
	if !ok {
		return 0, fmt.Errorf("count of %q: %w", name, ErrCollectionNotFound)
	}
	return int64(len(col.points)), nil
}

// ListCollections returns info for all collections, name-sorted.
func (m *Memory) ListCollections(_ context.Context) ([]CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]CollectionInfo, 0, len(m.collections))
	for _, col := range m.collections {
		infos = append(infos, col.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// cosineSimilarity computes the cosine of the angle between a and b.
// Returns 0 for zero-magnitude vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// compile-time interface check
var _ Store = (*Memory)(nil)
