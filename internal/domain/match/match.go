// Package match holds the request and result types of a trial match.
package match

import (
	"math"
	"strings"

	"github.com/kailas-cloud/trialmatch/internal/domain"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
)

// Method tells which path produced a response.
type Method string

// Match methods.
const (
	Embedding Method = "embedding"
	Lexical   Method = "lexical"
)

// Request limits and defaults.
const (
	DefaultTopK      = 5
	MaxTopK          = 50
	DefaultThreshold = 0.3
	MaxQueryLength   = 8192
)

// Result is one ranked trial: the flattened record plus its score.
type Result struct {
	trial.Record
	Similarity float64 `json:"similarity"`
	Method     Method  `json:"method"`
}

// Response is the ranked match list returned for one request.
type Response struct {
	Matches    []Result `json:"matches"`
	TotalFound int      `json:"total_found"`
	Method     Method   `json:"method"`
}

// NewResponse wraps ranked results, keeping TotalFound equal to len(matches).
func NewResponse(matches []Result, m Method) Response {
	if matches == nil {
		matches = []Result{}
	}
	return Response{Matches: matches, TotalFound: len(matches), Method: m}
}

// Request is a validated match query.
type Request struct {
	query     string
	topK      int
	threshold float64
}

// Limits overrides the request defaults; zero values keep the package defaults.
type Limits struct {
	DefaultTopK      int
	MaxTopK          int
	DefaultThreshold *float64
}

// NewRequest validates a match query. topK <= 0 and a nil threshold take the defaults.
func NewRequest(query string, topK int, threshold *float64, limits Limits) (Request, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Request{}, domain.NewValidationError("empty or missing query")
	}
	if len(query) > MaxQueryLength {
		return Request{}, domain.NewValidationError("query too long (max %d chars)", MaxQueryLength)
	}

	defTopK, maxTopK := DefaultTopK, MaxTopK
	if limits.DefaultTopK > 0 {
		defTopK = limits.DefaultTopK
	}
	if limits.MaxTopK > 0 {
		maxTopK = limits.MaxTopK
	}
	if topK <= 0 {
		topK = defTopK
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	th := DefaultThreshold
	if limits.DefaultThreshold != nil {
		th = *limits.DefaultThreshold
	}
	if threshold != nil {
		th = *threshold
	}
	if math.IsNaN(th) || th < -1 || th > 1 {
		return Request{}, domain.NewValidationError("similarity_threshold must be between -1 and 1")
	}

	return Request{query: query, topK: topK, threshold: th}, nil
}

// Query returns the trimmed patient description.
func (r *Request) Query() string { return r.query }

// TopK returns the result cap.
func (r *Request) TopK() int { return r.topK }

// Threshold returns the minimum similarity for the embedding path.
func (r *Request) Threshold() float64 { return r.threshold }
