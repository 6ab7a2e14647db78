package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// EmbedderDimension is the vector width FakeEmbedder produces.
const EmbedderDimension = 8

// FakeEmbedder is a deterministic embed.Embedder: the vector for a text
// is a hash of its content, normalized to unit length. Identical texts
// embed identically across runs, which makes similarity assertions
// stable without a network call.
type FakeEmbedder struct {
	// Model overrides the reported model id. Empty means "fake-embedder".
	Model string
}

// Embed derives one unit vector per text from a content hash.
func (f *FakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = hashVector(text)
	}
	return vectors, nil
}

// ModelID implements embed.Embedder.
func (f *FakeEmbedder) ModelID() string {
	if f.Model != "" {
		return f.Model
	}
	return "fake-embedder"
}

func hashVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))

	v := make([]float32, EmbedderDimension)
	var norm float64
	for i := range v {
		bits := binary.BigEndian.Uint32(sum[i*4:])
		// Map to [-1, 1).
		v[i] = float32(int32(bits)) / float32(math.MaxInt32)
		norm += float64(v[i]) * float64(v[i])
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
