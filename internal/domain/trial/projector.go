package trial

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ProjectionVersion identifies the label set and order used by Project.
// Embeddings produced under different versions are not comparable; bump it
// whenever projectedFields changes.
const ProjectionVersion = "v1"

var projectedFields = []struct {
	label string
	value func(r *Record) *string
}{
	{"Condition", func(r *Record) *string { return r.Condition }},
	{"Title", func(r *Record) *string { return r.Title }},
	{"Summary", func(r *Record) *string { return r.Summary }},
	{"Inclusion Criteria", func(r *Record) *string { return r.InclusionCriteria }},
	{"Exclusion Criteria", func(r *Record) *string { return r.ExclusionCriteria }},
	{"Intervention", func(r *Record) *string { return r.InterventionName }},
	{"Phase", func(r *Record) *string { return r.Phase }},
	{"Status", func(r *Record) *string { return r.Status }},
}

// Project renders a record as the composite text that gets embedded.
func Project(r *Record) string {
	var b strings.Builder
	for i, f := range projectedFields {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(f.label)
		b.WriteString(": ")
		b.WriteString(Value(f.value(r)))
	}
	return NormalizeText(b.String())
}

// ProjectValues renders the same fields as Project without their labels,
// space-separated. Used for keyword matching, where labels would be noise.
func ProjectValues(r *Record) string {
	parts := make([]string, 0, len(projectedFields))
	for _, f := range projectedFields {
		if v := f.value(r); v != nil {
			parts = append(parts, *v)
		}
	}
	return NormalizeText(strings.Join(parts, " "))
}

// ProjectQuery returns the query text as embedded: the query itself, normalized.
func ProjectQuery(query string) string {
	return NormalizeText(query)
}

// NormalizeText applies NFKC normalization, drops control characters other
// than newline and tab, and trims surrounding whitespace.
func NormalizeText(text string) string {
	normed := norm.NFKC.String(text)
	normed = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, normed)
	return strings.TrimSpace(normed)
}
