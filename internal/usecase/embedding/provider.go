package embedding

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/domain"
	"github.com/kailas-cloud/trialmatch/internal/domain/vector"
	"github.com/kailas-cloud/trialmatch/internal/metrics"
)

// DefaultBatchSize is the number of texts sent to the backend per call.
const DefaultBatchSize = 10

// Loader builds the backend embedder. It is called at most once per Provider.
type Loader func(ctx context.Context) (domain.Embedder, error)

// Config holds the provider settings.
type Config struct {
	Backend     string
	Model       string
	Dimensions  int // 0 disables the dimension check
	BatchSize   int
	Workers     int
	Timeout     time.Duration
	LoadTimeout time.Duration
}

// State is the lifecycle state of the provider.
type State string

// Provider states.
const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StateUnavailable State = "unavailable"
)

// Provider turns texts into fixed-length vectors. The backend is loaded lazily
// on first use, exactly once; a failed load makes the provider permanently
// unavailable.
type Provider struct {
	load   Loader
	cfg    Config
	pool   *ants.Pool
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	done    chan struct{}
	inner   domain.Embedder
	loadErr error
	closed  bool
}

// NewProvider creates a provider. Nothing is loaded until the first call.
func NewProvider(load Loader, cfg Config, logger *zap.Logger) (*Provider, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}

	return &Provider{
		load:   load,
		cfg:    cfg,
		pool:   pool,
		logger: logger,
		state:  StateIdle,
	}, nil
}

// Model returns the configured model identifier.
func (p *Provider) Model() string { return p.cfg.Model }

// State reports the current lifecycle state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Available is false once the model failed to load.
func (p *Provider) Available() bool {
	return p.State() != StateUnavailable
}

// Warm forces the model load without embedding anything.
func (p *Provider) Warm(ctx context.Context) error {
	_, err := p.ensureLoaded(ctx)
	return err
}

// HealthCheck reports an error when the provider is unavailable or the loaded
// backend fails its own check. An idle provider is healthy.
func (p *Provider) HealthCheck(ctx context.Context) error {
	p.mu.Lock()
	state, inner, loadErr := p.state, p.inner, p.loadErr
	p.mu.Unlock()

	switch state {
	case StateUnavailable:
		return loadErr
	case StateReady:
		if hc, ok := inner.(domain.HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				return fmt.Errorf("embedding backend: %w", err)
			}
		}
	}
	return nil
}

// EmbedOne embeds a single text.
func (p *Provider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	out, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if out[0] == nil {
		return nil, fmt.Errorf("embed text: %w: %w", domain.ErrEmbeddingUnavailable, domain.ErrVectorDimMismatch)
	}
	return out[0], nil
}

// EmbedBatch embeds texts in fixed-size batches; out[i] belongs to texts[i]
// whatever the batch size or scheduling. Timeout bounds each backend call, not
// the whole pass. A slot the backend returned no usable vector for is nil.
// Errors wrap domain.ErrEmbeddingUnavailable.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	inner, err := p.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := p.embedAll(ctx, inner, texts)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(p.cfg.Backend, p.cfg.Model, "error").Inc()
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.cfg.Backend, p.cfg.Model, errorType(err)).Inc()
		p.logger.Warn("Embedding batch failed",
			zap.String("backend", p.cfg.Backend),
			zap.Int("texts", len(texts)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("embed %d texts: %w: %w", len(texts), domain.ErrEmbeddingUnavailable, err)
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(p.cfg.Backend, p.cfg.Model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(p.cfg.Backend, p.cfg.Model).Observe(time.Since(start).Seconds())

	return out, nil
}

// Close releases the worker pool and the backend, if it holds resources. A
// backend still loading is closed as soon as its load finishes.
func (p *Provider) Close() error {
	p.pool.Release()

	p.mu.Lock()
	p.closed = true
	inner := p.inner
	p.inner = nil
	p.mu.Unlock()

	return closeBackend(inner)
}

func closeBackend(inner domain.Embedder) error {
	if c, ok := inner.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close embedding backend: %w", err)
		}
	}
	return nil
}

// ensureLoaded starts the load on first use and waits for it. The load runs
// under its own deadline, so a caller giving up does not abort it.
func (p *Provider) ensureLoaded(ctx context.Context) (domain.Embedder, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("embedding provider closed: %w", domain.ErrEmbeddingUnavailable)
	}
	if p.done == nil {
		p.done = make(chan struct{})
		p.state = StateLoading
		go p.doLoad()
	}
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for model load: %w: %w", domain.ErrEmbeddingUnavailable, ctx.Err())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	if p.inner == nil {
		return nil, fmt.Errorf("embedding provider closed: %w", domain.ErrEmbeddingUnavailable)
	}
	return p.inner, nil
}

func (p *Provider) doLoad() {
	ctx := context.Background()
	if p.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.LoadTimeout)
		defer cancel()
	}

	start := time.Now()
	inner, err := p.safeLoad(ctx)

	p.mu.Lock()
	defer close(p.done)
	defer p.mu.Unlock()

	if err == nil && p.closed {
		if cerr := closeBackend(inner); cerr != nil {
			p.logger.Warn("Failed to close backend loaded after shutdown", zap.Error(cerr))
		}
		p.state = StateUnavailable
		p.loadErr = fmt.Errorf("embedding provider closed: %w", domain.ErrEmbeddingUnavailable)
		return
	}

	if err != nil {
		p.state = StateUnavailable
		p.loadErr = fmt.Errorf("load %s model %q: %w: %w", p.cfg.Backend, p.cfg.Model, domain.ErrEmbeddingUnavailable, err)
		metrics.EmbeddingModelLoadsTotal.WithLabelValues(p.cfg.Backend, "error").Inc()
		p.logger.Error("Embedding model unavailable, serving lexical matches only",
			zap.String("backend", p.cfg.Backend),
			zap.String("model", p.cfg.Model),
			zap.Error(err),
		)
		return
	}

	p.inner = inner
	p.state = StateReady
	metrics.EmbeddingModelLoadsTotal.WithLabelValues(p.cfg.Backend, "success").Inc()
	p.logger.Info("Embedding model loaded",
		zap.String("backend", p.cfg.Backend),
		zap.String("model", p.cfg.Model),
		zap.Duration("duration", time.Since(start)),
	)
}

func (p *Provider) safeLoad(ctx context.Context) (inner domain.Embedder, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model loader panicked: %v", r)
		}
	}()
	inner, err = p.load(ctx)
	if err == nil && inner == nil {
		err = errors.New("model loader returned no embedder")
	}
	return inner, err
}

// embedAll splits texts into batches and runs them on the pool. A single batch
// runs on the calling goroutine.
func (p *Provider) embedAll(ctx context.Context, inner domain.Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	size := p.cfg.BatchSize

	if len(texts) <= size {
		if err := p.embedChunk(ctx, inner, texts, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for offset := 0; offset < len(texts); offset += size {
		end := min(offset+size, len(texts))
		chunk, dst := texts[offset:end], out[offset:end]
		at := offset

		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				fail(ctx.Err())
				return
			}
			if err := p.embedChunk(ctx, inner, chunk, dst); err != nil {
				fail(fmt.Errorf("batch at %d: %w", at, err))
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit batch at %d: %w", at, err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// embedChunk embeds one batch into dst, pooling per-token output. A slot with
// an unusable vector is left nil and counted; the rest of the batch stands.
func (p *Provider) embedChunk(ctx context.Context, inner domain.Embedder, texts []string, dst [][]float32) error {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	var (
		res domain.BatchEmbeddingResult
		err error
	)
	if be, ok := inner.(domain.BatchEmbedder); ok {
		res, err = be.BatchEmbed(ctx, texts)
	} else {
		res, err = domain.BatchFallback(ctx, inner, texts)
	}
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}

	if len(res.Embeddings) != len(texts) && len(res.Tokens) != len(texts) {
		return fmt.Errorf("backend returned %d vectors for %d texts", max(len(res.Embeddings), len(res.Tokens)), len(texts))
	}
	if res.TotalTokens > 0 {
		metrics.EmbeddingTokensTotal.WithLabelValues(p.cfg.Backend, p.cfg.Model).Add(float64(res.TotalTokens))
	}

	for i := range texts {
		var item domain.EmbeddingResult
		if i < len(res.Embeddings) {
			item.Embedding = res.Embeddings[i]
		}
		if i < len(res.Tokens) {
			item.Tokens = res.Tokens[i]
		}
		vec, err := vector.Resolve(item)
		if err == nil && p.cfg.Dimensions > 0 && len(vec) != p.cfg.Dimensions {
			err = fmt.Errorf("got %d dims, want %d: %w", len(vec), p.cfg.Dimensions, domain.ErrVectorDimMismatch)
		}
		if err != nil {
			metrics.EmbeddingErrorsTotal.WithLabelValues(p.cfg.Backend, p.cfg.Model, "dimension_mismatch").Inc()
			p.logger.Warn("Skipping text with unusable vector",
				zap.String("backend", p.cfg.Backend),
				zap.Int("text", i),
				zap.Error(err),
			)
			continue
		}
		dst[i] = vec
	}
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrVectorDimMismatch):
		return "dimension_mismatch"
	default:
		return "backend_error"
	}
}
