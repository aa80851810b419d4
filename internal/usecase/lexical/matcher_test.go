package lexical

import (
	"testing"

	"github.com/kailas-cloud/trialmatch/internal/domain/match"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
)

func str(s string) *string { return &s }

func corpus() []trial.Record {
	return []trial.Record{
		{ID: "NCT001", Title: str("Statins after myocardial infarction"), Condition: str("Heart Disease"),
			Summary: str("Lipid lowering in coronary heart disease")},
		{ID: "NCT002", Title: str("Inhaled steroids in children"), Condition: str("Asthma")},
		{ID: "NCT003", Title: str("Exercise for heart failure"), Condition: str("Heart Failure")},
		{ID: "NCT004", Title: str("Metformin dosing"), Condition: str("Type 2 Diabetes")},
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name  string
		query []string
		doc   []string
		want  float64
	}{
		{"all covered", []string{"heart", "disease"}, []string{"coronary", "heart", "disease"}, 1},
		{"half covered", []string{"heart", "asthma"}, []string{"heart"}, 0.5},
		{"query token inside trial token", []string{"cardio"}, []string{"cardiovascular"}, 1},
		{"trial token inside query token", []string{"heartburn"}, []string{"heart"}, 1},
		{"nothing covered", []string{"asthma"}, []string{"diabetes"}, 0},
		{"empty query", nil, []string{"heart"}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.query, tc.doc); got != tc.want {
				t.Errorf("Score = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestFindMatches_RanksAndTags(t *testing.T) {
	got := New().FindMatches("heart disease", corpus(), 5)

	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(got), got)
	}
	if got[0].ID != "NCT001" {
		t.Errorf("expected NCT001 first, got %s", got[0].ID)
	}
	if got[0].Similarity != 1 {
		t.Errorf("expected score 1 for NCT001, got %f", got[0].Similarity)
	}
	if got[1].ID != "NCT003" || got[1].Similarity != 0.5 {
		t.Errorf("expected NCT003 at 0.5, got %s at %f", got[1].ID, got[1].Similarity)
	}
	for _, r := range got {
		if r.Method != match.Lexical {
			t.Errorf("result %s tagged %q, want %q", r.ID, r.Method, match.Lexical)
		}
	}
}

func TestFindMatches_StableTiesAndTopK(t *testing.T) {
	recs := corpus()
	got := New().FindMatches("heart", recs, 1)

	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	if got[0].ID != "NCT001" {
		t.Errorf("tie should keep corpus order, got %s", got[0].ID)
	}
}

func TestFindMatches_LabelsDoNotMatch(t *testing.T) {
	if got := New().FindMatches("condition title", corpus(), 5); len(got) != 0 {
		t.Errorf("expected no matches on label words, got %+v", got)
	}
}

func TestFindMatches_EmptyQuery(t *testing.T) {
	if got := New().FindMatches("   ", corpus(), 5); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestFindMatches_NonIncreasing(t *testing.T) {
	got := New().FindMatches("heart failure asthma children", corpus(), 10)
	for i := 1; i < len(got); i++ {
		if got[i].Similarity > got[i-1].Similarity {
			t.Fatalf("order broken at %d: %f > %f", i, got[i].Similarity, got[i-1].Similarity)
		}
	}
}
