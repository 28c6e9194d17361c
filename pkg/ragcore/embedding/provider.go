// Package embedding turns batches of chunk text into fixed-dimension
// vectors via an external embedding model, with batching, truncation and
// retry policy layered on top of a thin provider interface.
//
// Grounded on the teacher's pkg/embedding (EmbeddingProvider interface,
// OllamaProvider's HTTP call shape), generalized to batch calls and wrapped
// with the retry/backoff policy spec'd for this service.
package embedding

import "context"

// Provider is the raw, single-batch embedding call a model backend
// implements. Callers almost always want Embedder, not this directly.
type Provider interface {
	// Embed returns one vector per input text, in the same order, for a
	// batch already known to respect the provider's size/length limits.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the fixed vector width this provider produces.
	Dimension() int
}
