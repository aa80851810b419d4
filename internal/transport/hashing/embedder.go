// Package hashing is a model-free embedding backend: every word is mapped to a
// fixed pseudo-random unit vector derived from its SHA-256 digest, so texts
// sharing words land close together. Deterministic across runs and hosts.
package hashing

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/kailas-cloud/trialmatch/internal/domain"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// Embedder returns per-token vectors; pooling is left to the caller.
type Embedder struct {
	dimensions int
}

// NewEmbedder creates a hashing backend. dims <= 0 selects DefaultDimensions.
func NewEmbedder(dims int) *Embedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Embedder{dimensions: dims}
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	toks := e.tokenVectors(text)
	return domain.EmbeddingResult{Tokens: toks, TotalTokens: len(toks)}, nil
}

// BatchEmbed implements domain.BatchEmbedder.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	out := domain.BatchEmbeddingResult{Tokens: make([][][]float32, len(texts))}
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return domain.BatchEmbeddingResult{}, err //nolint:wrapcheck // context error
		}
		out.Tokens[i] = e.tokenVectors(t)
		out.TotalTokens += len(out.Tokens[i])
	}
	return out, nil
}

// HealthCheck always succeeds.
func (e *Embedder) HealthCheck(context.Context) error { return nil }

// tokenVectors never returns an empty slice: a text without words yields a
// single zero vector, which has cosine 0 against everything.
func (e *Embedder) tokenVectors(text string) [][]float32 {
	words := Tokenize(text)
	if len(words) == 0 {
		return [][]float32{make([]float32, e.dimensions)}
	}
	out := make([][]float32, len(words))
	for i, w := range words {
		out[i] = e.wordVector(w)
	}
	return out
}

// wordVector fills the vector from SHA-256 blocks of "word#n", one block per 8 dims.
func (e *Embedder) wordVector(word string) []float32 {
	v := make([]float32, e.dimensions)
	var sum float64
	for block := 0; block*8 < e.dimensions; block++ {
		h := sha256.Sum256([]byte(word + "#" + strconv.Itoa(block)))
		for j := 0; j < 8 && block*8+j < e.dimensions; j++ {
			u := binary.LittleEndian.Uint32(h[j*4:])
			x := float64(u)/float64(math.MaxUint32)*2 - 1
			v[block*8+j] = float32(x)
			sum += x * x
		}
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// Tokenize lower-cases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
