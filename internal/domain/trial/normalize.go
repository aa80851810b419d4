package trial

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kailas-cloud/trialmatch/internal/domain"
)

// sentinels are raw values treated as "no value". Matching is case-sensitive.
var sentinels = map[string]struct{}{
	"":    {},
	"N/A": {},
	"nan": {},
}

// textField maps raw column names onto one nullable string field.
type textField struct {
	keys []string
	ptr  func(r *Record) **string
}

// textFields lists ClinicalTrials.gov export columns first, then snake_case aliases.
var textFields = []textField{
	{[]string{"BriefTitle", "title"}, func(r *Record) **string { return &r.Title }},
	{[]string{"OfficialTitle", "official_title"}, func(r *Record) **string { return &r.OfficialTitle }},
	{[]string{"Condition", "condition"}, func(r *Record) **string { return &r.Condition }},
	{[]string{"BriefSummary", "summary"}, func(r *Record) **string { return &r.Summary }},
	{[]string{"InclusionCriteria", "inclusion"}, func(r *Record) **string { return &r.InclusionCriteria }},
	{[]string{"ExclusionCriteria", "exclusion"}, func(r *Record) **string { return &r.ExclusionCriteria }},
	{[]string{"LocationCountry", "country"}, func(r *Record) **string { return &r.Country }},
	{[]string{"OverallStatus", "status"}, func(r *Record) **string { return &r.Status }},
	{[]string{"Phase", "phase"}, func(r *Record) **string { return &r.Phase }},
	{[]string{"InterventionName", "intervention"}, func(r *Record) **string { return &r.InterventionName }},
	{[]string{"PrimaryOutcomeMeasure", "primary_outcome"}, func(r *Record) **string { return &r.PrimaryOutcome }},
	{[]string{"StudyType", "study_type"}, func(r *Record) **string { return &r.StudyType }},
	{[]string{"StartDate", "start_date"}, func(r *Record) **string { return &r.StartDate }},
	{[]string{"CompletionDate", "completion_date"}, func(r *Record) **string { return &r.CompletionDate }},
	{[]string{"ContactName", "contact_name"}, func(r *Record) **string { return &r.ContactName }},
	{[]string{"ContactRole", "contact_role"}, func(r *Record) **string { return &r.ContactRole }},
	{[]string{"ContactPhone", "contact_phone"}, func(r *Record) **string { return &r.ContactPhone }},
	{[]string{"ContactEmail", "contact_email"}, func(r *Record) **string { return &r.ContactEmail }},
	{[]string{"LeadSponsor", "lead_sponsor"}, func(r *Record) **string { return &r.LeadSponsor }},
	{[]string{"SponsorType", "sponsor_type"}, func(r *Record) **string { return &r.SponsorType }},
	{[]string{"Gender", "gender"}, func(r *Record) **string { return &r.Gender }},
	{[]string{"MinimumAge", "min_age"}, func(r *Record) **string { return &r.MinAge }},
	{[]string{"MaximumAge", "max_age"}, func(r *Record) **string { return &r.MaxAge }},
	{[]string{"StdAges", "age_groups"}, func(r *Record) **string { return &r.StdAges }},
	{[]string{"HealthyVolunteers", "healthy_volunteers"}, func(r *Record) **string { return &r.HealthyVolunteers }},
}

var (
	idKeys         = []string{"NCTId", "nct_id", "id"}
	enrollmentKeys = []string{"EnrollmentCount", "enrollment"}
)

// Normalize converts raw rows into canonical records, dropping rows without
// an identifier or title and repeated identifiers (first one wins).
func Normalize(rows []map[string]any) []Record {
	out := make([]Record, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		rec, err := NormalizeRow(row)
		if err != nil {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// NormalizeRow converts a single raw row. The error wraps domain.ErrDataSource.
func NormalizeRow(row map[string]any) (Record, error) {
	id := Clean(lookup(row, idKeys))
	if id == nil {
		return Record{}, fmt.Errorf("row has no identifier: %w", domain.ErrDataSource)
	}

	rec := Record{ID: *id}
	for _, f := range textFields {
		*f.ptr(&rec) = Clean(lookup(row, f.keys))
	}
	if rec.Title == nil {
		return Record{}, fmt.Errorf("row %q has no title: %w", rec.ID, domain.ErrDataSource)
	}
	rec.EnrollmentCount = parseCount(lookup(row, enrollmentKeys))

	return rec, nil
}

// Clean applies the canonicalization rule to one raw value: trim, then map
// "", "N/A" and "nan" to nil. Non-string scalars are formatted first.
func Clean(v any) *string {
	s, ok := toString(v)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if _, empty := sentinels[s]; empty {
		return nil
	}
	return &s
}

func lookup(row map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func toString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case *string:
		if t == nil {
			return "", false
		}
		return *t, true
	case json.Number:
		return t.String(), true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return toString(float64(t))
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// parseCount parses "120", "120.0" or numeric values into an int. Never fails.
func parseCount(v any) *int {
	s := Clean(v)
	if s == nil {
		return nil
	}
	if n, err := strconv.Atoi(*s); err == nil {
		return &n
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return nil
	}
	n := int(f)
	return &n
}
