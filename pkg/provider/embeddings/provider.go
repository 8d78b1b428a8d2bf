// Package embeddings defines the Provider interface for vector embedding backends.
//
// The conversation memory embeds every committed exchange and every new user
// turn, then recalls the most similar past exchanges by vector distance.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// All vectors returned by one Provider share the length reported by
// Dimensions, which must match the memory store's vector column.
type Provider interface {
	// Embed computes the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed vector length.
	Dimensions() int

	// ModelID returns the model identifier, stored next to each vector so
	// vectors from different models are never compared.
	ModelID() string
}
