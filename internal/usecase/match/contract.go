package match

import (
	"context"

	dommatch "github.com/kailas-cloud/trialmatch/internal/domain/match"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
)

// Embedder is the embedding provider as seen by the matcher.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Available() bool
	Model() string
}

// LexicalMatcher is the keyword fallback.
type LexicalMatcher interface {
	FindMatches(query string, records []trial.Record, topK int) []dommatch.Result
}
