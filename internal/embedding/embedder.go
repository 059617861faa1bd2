// Package embedding provides text embedding providers, caching, and batched parallel embedding.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations are deterministic
// for a fixed model: the same text always yields the same vector.
// EmbedBatch preserves order and returns exactly one vector per input text or an error.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
	Close() error
}
