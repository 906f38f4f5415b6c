// Package embed turns chunk text and queries into dense vectors.
//
// Providers: a deterministic hash embedder that needs no model, Ollama's
// HTTP API, and an in-process ONNX sentence transformer via hugot. Any of
// them can be wrapped in an LRU cache.
package embed

import (
	"context"
	"math"
)

// Provider names.
const (
	ProviderStatic = "static"
	ProviderOllama = "ollama"
	ProviderHugot  = "hugot"
)

// Default settings.
const (
	DefaultDimensions = 384
	DefaultBatchSize  = 32
	DefaultHugotModel = "sentence-transformers/all-MiniLM-L6-v2"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. A zero vector is returned as is.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}
	mag := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / mag)
	}
	return out
}
