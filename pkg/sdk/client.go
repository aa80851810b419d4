package trialmatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/app"
	"github.com/kailas-cloud/trialmatch/internal/config"
	"github.com/kailas-cloud/trialmatch/internal/db"
	"github.com/kailas-cloud/trialmatch/internal/domain"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
	"github.com/kailas-cloud/trialmatch/internal/repository/trialsource"
	embeddinguc "github.com/kailas-cloud/trialmatch/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/trialmatch/internal/usecase/health"
	matchuc "github.com/kailas-cloud/trialmatch/internal/usecase/match"
)

// Internal interface for substitution in tests.
type matcher interface {
	Initialize(ctx context.Context, records []trial.Record) (*matchuc.Index, error)
	FindMatches(ctx context.Context, query string, topK int, threshold *float64) (MatchResponse, error)
	GetRecordDetail(id string) (trial.Record, bool)
	Stats(limit int) (matchuc.Stats, error)
	Current() *matchuc.Index
	Shutdown(ctx context.Context) error
}

// Client is the trialmatch SDK entry point.
type Client struct {
	load      func() ([]trial.Record, error)
	matcher   matcher
	healthSvc healthUseCase
	store     db.Store
	obs       *observer
}

// New loads the corpus, embeds it and returns a ready client. The provided
// context bounds the cache readiness check and the first index build.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{backend: config.BackendHashing, model: "hashing", cacheDriver: config.CacheNone}
	for _, o := range opts {
		o.apply(cfg)
	}

	load, err := sourceFor(cfg)
	if err != nil {
		return nil, err
	}
	appCfg := cfg.appConfig()
	if t := *appCfg.Match.SimilarityThreshold; t < -1 || t > 1 {
		return nil, fmt.Errorf("trialmatch: similarity threshold must be between -1 and 1, got %v", t)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	store, err := app.OpenCache(ctx, appCfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("trialmatch: %w", err)
	}

	provider, err := newProvider(cfg, appCfg, store, logger)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, fmt.Errorf("trialmatch: %w", err)
	}
	svc := app.NewMatcher(appCfg, provider, logger)

	healthSvc := healthuc.New(logger).
		Register("corpus", svc, true).
		Register("embedding", provider, false)
	if store != nil {
		healthSvc.Register("cache", healthuc.CheckerFunc(store.Ping), false)
	}

	c := &Client{
		load:      load,
		matcher:   svc,
		healthSvc: healthSvc,
		store:     store,
		obs:       obs,
	}
	if _, err := c.Reload(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func sourceFor(cfg *clientConfig) (func() ([]trial.Record, error), error) {
	switch {
	case cfg.rows != nil:
		rows := cfg.rows
		return func() ([]trial.Record, error) { return trial.Normalize(rows), nil }, nil
	case cfg.corpusPath != "":
		path := cfg.corpusPath
		return func() ([]trial.Record, error) {
			res, err := trialsource.Load(path)
			if err != nil {
				return nil, err
			}
			return res.Records, nil
		}, nil
	default:
		return nil, errors.New("trialmatch: corpus required (use WithCorpus or WithTrials)")
	}
}

func (cfg *clientConfig) appConfig() config.Config {
	c := config.Config{
		Embedding: config.EmbeddingConfig{
			Backend:    cfg.backend,
			Model:      cfg.model,
			Dimensions: cfg.dimensions,
			BatchSize:  cfg.batchSize,
			Workers:    cfg.workers,
			ONNX: config.ONNXConfig{
				LibraryPath:   cfg.onnxLibrary,
				ModelPath:     cfg.onnxModel,
				TokenizerPath: cfg.onnxTokenizer,
				TokenTypeIDs:  true,
			},
			OpenAI: config.OpenAIConfig{
				BaseURL: cfg.openaiBaseURL,
				APIKey:  cfg.openaiAPIKey,
			},
		},
		Match: config.MatchConfig{
			DefaultTopK:         cfg.topK,
			SimilarityThreshold: cfg.threshold,
		},
		Cache: config.CacheConfig{
			Driver:   cfg.cacheDriver,
			Addrs:    cfg.cacheAddrs,
			Password: cfg.cachePassword,
			Path:     cfg.cachePath,
		},
	}
	c.ApplyDefaults()
	if c.Match.DefaultTopK > c.Match.MaxTopK {
		c.Match.MaxTopK = c.Match.DefaultTopK
	}
	return c
}

func newProvider(cfg *clientConfig, appCfg config.Config, store db.Store, logger *zap.Logger) (*embeddinguc.Provider, error) {
	if cfg.embedder == nil {
		return app.NewProvider(appCfg, store, logger)
	}
	inner := &embedderAdapter{inner: cfg.embedder}
	load := func(context.Context) (domain.Embedder, error) { return inner, nil }
	return app.ProviderFor(appCfg, app.CachedLoader(load, store, appCfg, logger), logger)
}

// Close waits for an in-progress build and releases all resources.
func (c *Client) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = c.matcher.Shutdown(ctx)
	if c.store != nil {
		c.store.Close()
	}
}

// Match ranks trials for a patient description.
func (c *Client) Match(ctx context.Context, query string, opts ...MatchOption) (resp MatchResponse, err error) {
	start := time.Now()
	defer func() { c.obs.match(start, resp, err) }()

	var p matchParams
	for _, o := range opts {
		o(&p)
	}
	resp, err = c.matcher.FindMatches(ctx, query, p.topK, p.threshold)
	if err != nil {
		return MatchResponse{}, fmt.Errorf("match: %w", err)
	}
	return resp, nil
}

// Trial returns one trial by NCT id.
func (c *Client) Trial(id string) (t Trial, err error) {
	start := time.Now()
	defer func() { c.obs.lookup("trial", start, err) }()

	rec, ok := c.matcher.GetRecordDetail(id)
	if !ok {
		return Trial{}, fmt.Errorf("trial %q: %w", id, ErrNotFound)
	}
	return rec, nil
}

// Stats summarizes the corpus with the limit most common conditions and
// countries. limit <= 0 means 10.
func (c *Client) Stats(limit int) (s Stats, err error) {
	start := time.Now()
	defer func() { c.obs.lookup("stats", start, err) }()

	s, err = c.matcher.Stats(limit)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}

// Reload re-reads the corpus and swaps in a new index. On failure the
// previous index keeps serving.
func (c *Client) Reload(ctx context.Context) (info IndexInfo, err error) {
	start := time.Now()
	defer func() { c.obs.reload(start, info, err) }()

	records, err := c.load()
	if err != nil {
		return IndexInfo{}, fmt.Errorf("trialmatch: load corpus: %w", err)
	}
	ix, err := c.matcher.Initialize(ctx, records)
	if err != nil {
		return IndexInfo{}, fmt.Errorf("trialmatch: build index: %w", err)
	}
	return indexInfo(ix), nil
}

// embedderAdapter wraps public Embedder to satisfy internal domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	return domain.EmbeddingResult{
		Embedding:   r.Embedding,
		Tokens:      r.Tokens,
		TotalTokens: r.TotalTokens,
	}, nil
}

// BatchEmbed uses the inner batch call when there is one.
func (a *embedderAdapter) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	be, ok := a.inner.(BatchEmbedder)
	if !ok {
		return domain.BatchFallback(ctx, a, texts)
	}
	r, err := be.BatchEmbed(ctx, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}
	return domain.BatchEmbeddingResult{
		Embeddings:  r.Embeddings,
		TotalTokens: r.TotalTokens,
	}, nil
}
