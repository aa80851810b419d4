package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/domain"
	"github.com/kailas-cloud/trialmatch/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	os.Exit(m.Run())
}

// --- Mocks ---

// fakeBackend derives a vector from each text so results are checkable per slot.
type fakeBackend struct {
	mu         sync.Mutex
	batchSizes []int
	tokens     bool
	dims       int
	block      bool
	delay      time.Duration
	shortFor   string // this text gets a vector one dim short
	closed     atomic.Bool
}

func (f *fakeBackend) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeBackend) vec(text string) []float32 {
	dims := f.dims
	if dims == 0 {
		dims = 3
	}
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(len(text)*(i+1)) + float32(text[0])/100
	}
	return v
}

func (f *fakeBackend) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := f.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0]}, nil
}

func (f *fakeBackend) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if f.block {
		<-ctx.Done()
		return domain.BatchEmbeddingResult{}, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.BatchEmbeddingResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.batchSizes = append(f.batchSizes, len(texts))
	f.mu.Unlock()

	if f.tokens {
		out := domain.BatchEmbeddingResult{Tokens: make([][][]float32, len(texts))}
		for i, t := range texts {
			out.Tokens[i] = [][]float32{{1, float32(len(t))}, {3, float32(len(t))}}
		}
		return out, nil
	}

	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts)), TotalTokens: len(texts)}
	for i, t := range texts {
		out.Embeddings[i] = f.vec(t)
		if t == f.shortFor {
			out.Embeddings[i] = out.Embeddings[i][1:]
		}
	}
	return out, nil
}

func loaderFor(e domain.Embedder, calls *atomic.Int32) Loader {
	return func(context.Context) (domain.Embedder, error) {
		if calls != nil {
			calls.Add(1)
		}
		return e, nil
	}
}

func newProvider(t *testing.T, load Loader, cfg Config) *Provider {
	t.Helper()
	if cfg.Backend == "" {
		cfg.Backend = "fake"
	}
	p, err := NewProvider(load, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("trial text %d %s", i, string(rune('a'+i)))
	}
	return out
}

// --- Tests ---

func TestProvider_BatchSizeInvariance(t *testing.T) {
	in := texts(15)

	small := &fakeBackend{}
	p1 := newProvider(t, loaderFor(small, nil), Config{BatchSize: 1, Workers: 4})
	got1, err := p1.EmbedBatch(context.Background(), in)
	if err != nil {
		t.Fatalf("batch size 1: %v", err)
	}

	big := &fakeBackend{}
	p10 := newProvider(t, loaderFor(big, nil), Config{BatchSize: 10, Workers: 4})
	got10, err := p10.EmbedBatch(context.Background(), in)
	if err != nil {
		t.Fatalf("batch size 10: %v", err)
	}

	if len(got1) != 15 || len(got10) != 15 {
		t.Fatalf("expected 15 vectors, got %d and %d", len(got1), len(got10))
	}
	for i := range in {
		want := small.vec(in[i])
		for d := range want {
			if got1[i][d] != want[d] || got10[i][d] != want[d] {
				t.Fatalf("slot %d dim %d: got %v / %v, want %v", i, d, got1[i][d], got10[i][d], want[d])
			}
		}
	}

	if len(small.batchSizes) != 15 {
		t.Errorf("batch size 1: expected 15 backend calls, got %d", len(small.batchSizes))
	}
	if len(big.batchSizes) != 2 {
		t.Errorf("batch size 10: expected 2 backend calls, got %d", len(big.batchSizes))
	}
	for _, n := range big.batchSizes {
		if n > 10 {
			t.Errorf("backend saw batch of %d, want <= 10", n)
		}
	}
}

func TestProvider_LoadsOnce(t *testing.T) {
	var calls atomic.Int32
	slow := func(ctx context.Context) (domain.Embedder, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &fakeBackend{}, nil
	}
	p := newProvider(t, slow, Config{})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.EmbedOne(context.Background(), "chest pain"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 load, got %d", calls.Load())
	}
	if p.State() != StateReady {
		t.Errorf("expected state %q, got %q", StateReady, p.State())
	}
}

func TestProvider_LoadFailureIsPermanent(t *testing.T) {
	var calls atomic.Int32
	failing := func(context.Context) (domain.Embedder, error) {
		calls.Add(1)
		return nil, errors.New("model file missing")
	}
	p := newProvider(t, failing, Config{})

	for i := 0; i < 3; i++ {
		_, err := p.EmbedOne(context.Background(), "query")
		if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
			t.Fatalf("call %d: expected ErrEmbeddingUnavailable, got %v", i, err)
		}
	}

	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 load attempt, got %d", calls.Load())
	}
	if p.Available() {
		t.Error("provider should be unavailable after a failed load")
	}
	if err := p.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check error for unavailable provider")
	}
}

func TestProvider_LoaderPanic(t *testing.T) {
	p := newProvider(t, func(context.Context) (domain.Embedder, error) {
		panic("onnx runtime exploded")
	}, Config{})

	err := p.Warm(context.Background())
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if p.State() != StateUnavailable {
		t.Errorf("expected state %q, got %q", StateUnavailable, p.State())
	}
}

func TestProvider_CallTimeout(t *testing.T) {
	p := newProvider(t, loaderFor(&fakeBackend{block: true}, nil), Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := p.EmbedOne(context.Background(), "query")
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not enforced")
	}
	if !p.Available() {
		t.Error("a timed out call must not mark the provider unavailable")
	}
}

func TestProvider_CallerGivesUpDuringLoad(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	p := newProvider(t, func(context.Context) (domain.Embedder, error) {
		calls.Add(1)
		<-release
		return &fakeBackend{}, nil
	}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.EmbedOne(ctx, "query"); !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable while loading, got %v", err)
	}
	if p.State() != StateLoading {
		t.Errorf("expected state %q, got %q", StateLoading, p.State())
	}

	close(release)
	if _, err := p.EmbedOne(context.Background(), "query"); err != nil {
		t.Fatalf("expected success after load, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 load, got %d", calls.Load())
	}
}

func TestProvider_DimensionCheck(t *testing.T) {
	p := newProvider(t, loaderFor(&fakeBackend{dims: 2}, nil), Config{Dimensions: 3})

	_, err := p.EmbedOne(context.Background(), "query")
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestProvider_PoolsTokenVectors(t *testing.T) {
	p := newProvider(t, loaderFor(&fakeBackend{tokens: true}, nil), Config{Dimensions: 2})

	got, err := p.EmbedOne(context.Background(), "abcd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] != 2 || got[1] != 4 {
		t.Errorf("expected mean [2 4], got %v", got)
	}
}

func TestProvider_EmptyInputDoesNotLoad(t *testing.T) {
	var calls atomic.Int32
	p := newProvider(t, loaderFor(&fakeBackend{}, &calls), Config{})

	out, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no vectors, got %d", len(out))
	}
	if calls.Load() != 0 {
		t.Errorf("expected no load, got %d", calls.Load())
	}
	if p.State() != StateIdle {
		t.Errorf("expected state %q, got %q", StateIdle, p.State())
	}
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("idle provider should be healthy, got %v", err)
	}
}

func TestProvider_NonBatchBackend(t *testing.T) {
	p := newProvider(t, loaderFor(singleOnly{}, nil), Config{BatchSize: 2})

	out, err := p.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range []float32{1, 2, 3} {
		if out[i][0] != want {
			t.Errorf("slot %d = %v, want %v", i, out[i][0], want)
		}
	}
}

type singleOnly struct{}

func (singleOnly) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: []float32{float32(len(text))}}, nil
}

func TestProvider_TimeoutBoundsEachBatch(t *testing.T) {
	backend := &fakeBackend{delay: 30 * time.Millisecond}
	p := newProvider(t, loaderFor(backend, nil), Config{
		BatchSize: 10,
		Workers:   1,
		Timeout:   100 * time.Millisecond,
	})

	out, err := p.EmbedBatch(context.Background(), texts(50))
	if err != nil {
		t.Fatalf("expected every batch within budget to succeed, got %v", err)
	}
	for i, v := range out {
		if v == nil {
			t.Errorf("slot %d has no vector", i)
		}
	}
	if len(backend.batchSizes) != 5 {
		t.Errorf("expected 5 backend calls, got %d", len(backend.batchSizes))
	}
}

func TestProvider_WrongDimensionIsolatedToSlot(t *testing.T) {
	in := texts(5)
	p := newProvider(t, loaderFor(&fakeBackend{shortFor: in[2]}, nil), Config{Dimensions: 3})

	out, err := p.EmbedBatch(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, v := range out {
		switch {
		case i == 2 && v != nil:
			t.Errorf("slot 2 should be nil, got %v", v)
		case i != 2 && len(v) != 3:
			t.Errorf("slot %d: expected 3 dims, got %v", i, v)
		}
	}
}

func TestProvider_CloseDuringLoadClosesBackend(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{}
	p, err := NewProvider(func(context.Context) (domain.Embedder, error) {
		<-release
		return backend, nil
	}, Config{Backend: "fake"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.EmbedOne(ctx, "query"); !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable while loading, got %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(release)

	deadline := time.Now().Add(time.Second)
	for p.State() != StateUnavailable && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !backend.closed.Load() {
		t.Error("backend loaded after Close was not closed")
	}
	if _, err := p.EmbedOne(context.Background(), "query"); !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Errorf("expected ErrEmbeddingUnavailable after Close, got %v", err)
	}
}
