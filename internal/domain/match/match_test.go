package match

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/kailas-cloud/trialmatch/internal/domain"
)

func ptr(f float64) *float64 { return &f }

func TestNewRequest_Defaults(t *testing.T) {
	req, err := NewRequest("  chest pain  ", 0, nil, Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Query() != "chest pain" {
		t.Errorf("expected trimmed query, got %q", req.Query())
	}
	if req.TopK() != DefaultTopK {
		t.Errorf("expected top_k %d, got %d", DefaultTopK, req.TopK())
	}
	if req.Threshold() != DefaultThreshold {
		t.Errorf("expected threshold %v, got %v", DefaultThreshold, req.Threshold())
	}
}

func TestNewRequest_ConfiguredLimits(t *testing.T) {
	limits := Limits{DefaultTopK: 3, MaxTopK: 10, DefaultThreshold: ptr(0.5)}

	req, err := NewRequest("asthma", 0, nil, limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.TopK() != 3 || req.Threshold() != 0.5 {
		t.Errorf("expected configured defaults 3/0.5, got %d/%v", req.TopK(), req.Threshold())
	}

	req, err = NewRequest("asthma", 25, ptr(-0.2), limits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.TopK() != 10 {
		t.Errorf("expected top_k clamped to 10, got %d", req.TopK())
	}
	if req.Threshold() != -0.2 {
		t.Errorf("explicit threshold should win, got %v", req.Threshold())
	}
}

func TestNewRequest_ClampsToPackageMax(t *testing.T) {
	req, err := NewRequest("diabetes", 1000, nil, Limits{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.TopK() != MaxTopK {
		t.Errorf("expected %d, got %d", MaxTopK, req.TopK())
	}
}

func TestNewRequest_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		threshold *float64
	}{
		{"empty", "", nil},
		{"whitespace", " \t\n ", nil},
		{"too long", strings.Repeat("a", MaxQueryLength+1), nil},
		{"threshold above 1", "pain", ptr(1.5)},
		{"threshold below -1", "pain", ptr(-1.01)},
		{"threshold NaN", "pain", ptr(math.NaN())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequest(tt.query, 5, tt.threshold, Limits{})
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestNewRequest_ThresholdBounds(t *testing.T) {
	for _, th := range []float64{-1, 0, 1} {
		if _, err := NewRequest("pain", 5, ptr(th), Limits{}); err != nil {
			t.Errorf("threshold %v should be accepted, got %v", th, err)
		}
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse(nil, Lexical)
	if resp.Matches == nil {
		t.Error("expected empty, non-nil matches")
	}
	if resp.TotalFound != 0 || resp.Method != Lexical {
		t.Errorf("unexpected response %+v", resp)
	}

	resp = NewResponse([]Result{{Similarity: 0.9}, {Similarity: 0.8}}, Embedding)
	if resp.TotalFound != 2 {
		t.Errorf("expected total_found 2, got %d", resp.TotalFound)
	}
}
