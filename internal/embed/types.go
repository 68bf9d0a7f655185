// Package embed maps text to fixed-dimension float vectors.
//
// Two providers are supported: Ollama's native embed API and any
// OpenAI-compatible endpoint. Both sub-batch large inputs, retry transient
// failures with exponential backoff, and fail fast on permanent errors
// (bad credentials, unknown model). A failed batch fails the whole call:
// partial results are never returned because downstream hybrid search
// depends on full chunk coverage.
package embed

import (
	"context"
	"math"
	"time"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving
	// input order. Inputs above the provider batch limit are subdivided.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension D.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the provider is reachable and the model present.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Defaults for provider clients.
const (
	// DefaultBatchSize is the maximum texts per provider call.
	DefaultBatchSize = 100
	// DefaultMaxRetries bounds attempts per batch (initial try included).
	DefaultMaxRetries = 3
	// DefaultTimeout bounds one provider round-trip.
	DefaultTimeout = 60 * time.Second
)

// normalizeVector scales a vector to unit length so that the store's cosine
// distance behaves consistently across providers.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= norm
	}
	return v
}
