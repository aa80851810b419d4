package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/kailas-cloud/trialmatch/internal/domain/vector"
)

func pooled(t *testing.T, e *Embedder, text string) []float32 {
	t.Helper()
	res, err := e.Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("Embed(%q): %v", text, err)
	}
	v, err := vector.Resolve(res)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", text, err)
	}
	return v
}

func cosine(t *testing.T, a, b []float32) float64 {
	t.Helper()
	s, err := vector.Cosine(a, b)
	if err != nil {
		t.Fatalf("Cosine: %v", err)
	}
	return s
}

func TestEmbed_Deterministic(t *testing.T) {
	e := NewEmbedder(64)
	a := pooled(t, e, "Type 2 diabetes")
	b := pooled(t, NewEmbedder(64), "Type 2 diabetes")

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("dim %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEmbed_TokenVectorsAreUnitLength(t *testing.T) {
	e := NewEmbedder(DefaultDimensions)
	res, err := e.Embed(context.Background(), "heart failure")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Tokens) != 2 || res.TotalTokens != 2 {
		t.Fatalf("expected 2 token vectors, got %d (total %d)", len(res.Tokens), res.TotalTokens)
	}
	for i, tok := range res.Tokens {
		if len(tok) != DefaultDimensions {
			t.Fatalf("token %d has %d dims", i, len(tok))
		}
		var sum float64
		for _, x := range tok {
			sum += float64(x) * float64(x)
		}
		if math.Abs(sum-1) > 1e-4 {
			t.Errorf("token %d norm^2 = %f, want 1", i, sum)
		}
	}
}

func TestEmbed_SharedWordsAreCloser(t *testing.T) {
	e := NewEmbedder(DefaultDimensions)
	query := pooled(t, e, "heart disease")
	related := pooled(t, e, "Condition: Heart Disease\nTitle: Statins in coronary heart disease")
	unrelated := pooled(t, e, "Condition: Asthma\nTitle: Inhaled steroids for children")

	if cosine(t, query, related) <= cosine(t, query, unrelated) {
		t.Errorf("expected related text to score higher: related=%f unrelated=%f",
			cosine(t, query, related), cosine(t, query, unrelated))
	}
}

func TestEmbed_EmptyTextIsZeroVector(t *testing.T) {
	e := NewEmbedder(16)
	v := pooled(t, e, "  --  ")
	for i, x := range v {
		if x != 0 {
			t.Fatalf("dim %d = %v, want 0", i, x)
		}
	}
}

func TestBatchEmbed_MatchesEmbed(t *testing.T) {
	e := NewEmbedder(32)
	in := []string{"lung cancer", "asthma", "stage IV lung cancer"}

	res, err := e.BatchEmbed(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Tokens) != len(in) {
		t.Fatalf("expected %d results, got %d", len(in), len(res.Tokens))
	}
	for i, text := range in {
		single := pooled(t, e, text)
		batch, err := vector.MeanPool(res.Tokens[i])
		if err != nil {
			t.Fatalf("MeanPool: %v", err)
		}
		for d := range single {
			if single[d] != batch[d] {
				t.Fatalf("text %d dim %d: %v vs %v", i, d, single[d], batch[d])
			}
		}
	}
}

func TestBatchEmbed_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewEmbedder(8).BatchEmbed(ctx, []string{"a"}); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Non-small cell Lung Cancer, stage IV")
	want := []string{"non", "small", "cell", "lung", "cancer", "stage", "iv"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}
