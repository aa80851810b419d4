// Package lexical ranks trials by keyword overlap. It serves every request
// while the embedding path is unavailable.
package lexical

import (
	"sort"
	"strings"

	"github.com/kailas-cloud/trialmatch/internal/domain/match"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
)

// Matcher scores trials by the share of query words found in the trial text.
type Matcher struct{}

// New creates a Matcher.
func New() *Matcher { return &Matcher{} }

// FindMatches returns up to topK trials with a non-zero score, best first.
// Ties keep corpus order. No similarity threshold applies here.
func (m *Matcher) FindMatches(query string, records []trial.Record, topK int) []match.Result {
	qTokens := Tokens(trial.ProjectQuery(query))
	if len(qTokens) == 0 || topK <= 0 {
		return []match.Result{}
	}

	out := make([]match.Result, 0, len(records))
	for i := range records {
		s := Score(qTokens, Tokens(trial.ProjectValues(&records[i])))
		if s <= 0 {
			continue
		}
		out = append(out, match.Result{Record: records[i], Similarity: s, Method: match.Lexical})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Tokens lower-cases text and splits it on whitespace.
func Tokens(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Score is the fraction of query tokens covered by some trial token, where
// covered means either token contains the other.
func Score(query, doc []string) float64 {
	if len(query) == 0 {
		return 0
	}
	covered := 0
	for _, q := range query {
		for _, d := range doc {
			if strings.Contains(d, q) || strings.Contains(q, d) {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(query))
}
