// Package vector holds the similarity math shared by the matcher and the embedding provider.
package vector

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/trialmatch/internal/domain"
)

// Cosine returns dot(a,b) / (|a|*|b|). A zero-norm input yields 0, never NaN.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine %d vs %d: %w", len(a), len(b), domain.ErrVectorDimMismatch)
	}

	var dot, na, nb float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		na += fa * fa
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}

	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(s) {
		return 0, nil
	}
	// Rounding can push |s| slightly past 1 for near-parallel vectors.
	return math.Max(-1, math.Min(1, s)), nil
}

// MeanPool averages T token vectors of dimension D into one vector:
// out[d] = (1/T) * sum_t tokens[t][d].
func MeanPool(tokens [][]float32) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("mean pool: no token vectors: %w", domain.ErrVectorDimMismatch)
	}
	dim := len(tokens[0])
	sum := make([]float64, dim)
	for t, tok := range tokens {
		if len(tok) != dim {
			return nil, fmt.Errorf("mean pool: token %d has dim %d, want %d: %w",
				t, len(tok), dim, domain.ErrVectorDimMismatch)
		}
		for d, v := range tok {
			sum[d] += float64(v)
		}
	}
	return scale(sum, len(tokens)), nil
}

// MeanPoolMasked pools one sequence from a flat [seqLen*dim] buffer, counting
// only positions whose mask entry is non-zero.
func MeanPoolMasked(flat []float32, seqLen, dim int, mask []int64) ([]float32, error) {
	if len(flat) != seqLen*dim || len(mask) != seqLen {
		return nil, fmt.Errorf("mean pool: buffer %d, mask %d for %dx%d: %w",
			len(flat), len(mask), seqLen, dim, domain.ErrVectorDimMismatch)
	}
	sum := make([]float64, dim)
	count := 0
	for t := 0; t < seqLen; t++ {
		if mask[t] == 0 {
			continue
		}
		count++
		row := flat[t*dim : (t+1)*dim]
		for d, v := range row {
			sum[d] += float64(v)
		}
	}
	if count == 0 {
		return make([]float32, dim), nil
	}
	return scale(sum, count), nil
}

// Resolve returns the single vector of an embedding result, pooling token vectors when needed.
func Resolve(res domain.EmbeddingResult) ([]float32, error) {
	if res.Embedding != nil {
		return res.Embedding, nil
	}
	return MeanPool(res.Tokens)
}

func scale(sum []float64, n int) []float32 {
	out := make([]float32, len(sum))
	inv := 1 / float64(n)
	for d, v := range sum {
		out[d] = float32(v * inv)
	}
	return out
}
