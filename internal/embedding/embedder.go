// Package embedding provides text embedding via ONNX, a deterministic mock, caching,
// and a concurrency limiter for the shared model instance.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations must be deterministic:
// the same text always yields the same vector of length Dimensions().
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
