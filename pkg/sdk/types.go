package trialmatch

import (
	"time"

	dommatch "github.com/kailas-cloud/trialmatch/internal/domain/match"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
	matchuc "github.com/kailas-cloud/trialmatch/internal/usecase/match"
)

// Trial is a canonical clinical-trial record. Fields without a usable value
// in the source are nil.
type Trial = trial.Record

// Match is one ranked trial with its similarity score.
type Match = dommatch.Result

// MatchResponse is the ranked result of one Match call.
type MatchResponse = dommatch.Response

// Method tells which path produced a response.
type Method = dommatch.Method

// Match methods.
const (
	MethodEmbedding = dommatch.Embedding
	MethodLexical   = dommatch.Lexical
)

// Stats summarizes the loaded corpus.
type Stats = matchuc.Stats

// Count is one value and its number of trials.
type Count = matchuc.Count

// IndexInfo describes a published corpus index.
type IndexInfo struct {
	ID       string
	Trials   int
	Embedded int
	Model    string
	BuiltAt  time.Time
}

func indexInfo(ix *matchuc.Index) IndexInfo {
	return IndexInfo{
		ID:       ix.ID,
		Trials:   ix.Len(),
		Embedded: ix.Embedded(),
		Model:    ix.Model,
		BuiltAt:  ix.BuiltAt,
	}
}
