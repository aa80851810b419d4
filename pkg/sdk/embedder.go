package trialmatch

import "context"

// Embedder converts text to a vector. Backends may return either one pooled
// vector or per-token vectors; the client mean-pools the latter.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// BatchEmbedder vectorizes multiple texts in a single call.
// Optional: if the provided Embedder also implements BatchEmbedder,
// corpus builds use it.
type BatchEmbedder interface {
	BatchEmbed(ctx context.Context, texts []string) (BatchEmbeddingResult, error)
}

// EmbeddingResult carries one embedding and its token count.
type EmbeddingResult struct {
	Embedding   []float32
	Tokens      [][]float32
	TotalTokens int
}

// BatchEmbeddingResult carries one embedding per input text.
type BatchEmbeddingResult struct {
	Embeddings  [][]float32
	TotalTokens int
}
