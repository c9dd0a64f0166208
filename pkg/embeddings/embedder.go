// Package embeddings provides text embedding capabilities for document
// chunks and queries.
package embeddings

import "context"

// Embedder provides single-text embedding, used on the query path.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}

// BatchEmbedder embeds an ordered sequence of texts in one backend call.
// The returned slice has the same length and order as the input.
type BatchEmbedder interface {
	Embedder

	// EmbedBatch converts texts into vector embeddings positionally.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
