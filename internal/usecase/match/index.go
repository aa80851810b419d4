package match

import (
	"sort"
	"time"

	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
)

// Entry is one record with its projected text and embedding. Vector is nil
// when the corpus could not be embedded.
type Entry struct {
	Record trial.Record
	Text   string
	Vector []float32
}

// Index is an immutable snapshot of the corpus. It is never modified after
// publication; rebuilds produce a new Index.
type Index struct {
	ID      string
	BuiltAt time.Time
	Model   string

	entries  []Entry
	records  []trial.Record
	byID     map[string]int
	embedded int
}

func newIndex(id, model string, builtAt time.Time, records []trial.Record, texts []string, vectors [][]float32) *Index {
	ix := &Index{
		ID:      id,
		BuiltAt: builtAt,
		Model:   model,
		entries: make([]Entry, len(records)),
		records: records,
		byID:    make(map[string]int, len(records)),
	}
	for i := range records {
		ix.entries[i] = Entry{Record: records[i], Text: texts[i]}
		if i < len(vectors) && vectors[i] != nil {
			ix.entries[i].Vector = vectors[i]
			ix.embedded++
		}
		ix.byID[records[i].ID] = i
	}
	return ix
}

// Len is the number of records.
func (ix *Index) Len() int { return len(ix.entries) }

// Embedded is the number of records with a vector.
func (ix *Index) Embedded() int { return ix.embedded }

// HasVectors reports whether the embedding path can serve this index.
func (ix *Index) HasVectors() bool { return ix.embedded > 0 }

// Entries returns the entries in corpus order. Callers must not modify them.
func (ix *Index) Entries() []Entry { return ix.entries }

// Records returns the records in corpus order. Callers must not modify them.
func (ix *Index) Records() []trial.Record { return ix.records }

// Lookup returns the record with the given trial id.
func (ix *Index) Lookup(id string) (trial.Record, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return trial.Record{}, false
	}
	return ix.records[i], true
}

// Count is one value of a field and how many records carry it.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// topCounts counts non-nil field values, most frequent first, ties by value.
func topCounts(records []trial.Record, field func(*trial.Record) *string, limit int) []Count {
	counts := make(map[string]int)
	for i := range records {
		if v := field(&records[i]); v != nil {
			counts[*v]++
		}
	}

	out := make([]Count, 0, len(counts))
	for v, n := range counts {
		out = append(out, Count{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
