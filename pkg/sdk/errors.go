package trialmatch

import "github.com/kailas-cloud/trialmatch/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound             = domain.ErrNotFound
	ErrValidation           = domain.ErrValidation
	ErrCorpusUnavailable    = domain.ErrCorpusUnavailable
	ErrEmbeddingUnavailable = domain.ErrEmbeddingUnavailable
	ErrVectorDimMismatch    = domain.ErrVectorDimMismatch
	ErrDataSource           = domain.ErrDataSource
)
