package domain

import (
	"context"
	"fmt"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single backend call.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// HealthChecker verifies embedding backend availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding through the decorator chain.
//
// Backends that return per-token vectors set Tokens instead of Embedding;
// the provider pools them into a single vector.
type EmbeddingResult struct {
	Embedding   []float32
	Tokens      [][]float32
	TotalTokens int
}

// BatchEmbeddingResult carries multiple embeddings and aggregate token usage.
// Tokens, when set, is indexed like the input texts.
type BatchEmbeddingResult struct {
	Embeddings  [][]float32
	Tokens      [][][]float32
	TotalTokens int
}

// BatchFallback calls Embed once per text. Safety net for backends without native batching.
func BatchFallback(ctx context.Context, e Embedder, texts []string) (BatchEmbeddingResult, error) {
	out := BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}

	for i, text := range texts {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return BatchEmbeddingResult{}, fmt.Errorf("fallback embed [%d]: %w", i, err)
		}
		out.Embeddings[i] = res.Embedding
		if res.Tokens != nil {
			if out.Tokens == nil {
				out.Tokens = make([][][]float32, len(texts))
			}
			out.Tokens[i] = res.Tokens
		}
		out.TotalTokens += res.TotalTokens
	}

	return out, nil
}
