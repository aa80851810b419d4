// Package app assembles the matcher from configuration. Both binaries share it.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/config"
	"github.com/kailas-cloud/trialmatch/internal/db"
	dbBadger "github.com/kailas-cloud/trialmatch/internal/db/badger"
	dbRedis "github.com/kailas-cloud/trialmatch/internal/db/redis"
	"github.com/kailas-cloud/trialmatch/internal/domain"
	dommatch "github.com/kailas-cloud/trialmatch/internal/domain/match"
	"github.com/kailas-cloud/trialmatch/internal/repository/embcache"
	"github.com/kailas-cloud/trialmatch/internal/repository/trialsource"
	"github.com/kailas-cloud/trialmatch/internal/transport/hashing"
	"github.com/kailas-cloud/trialmatch/internal/transport/onnx"
	openaiEmb "github.com/kailas-cloud/trialmatch/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/trialmatch/internal/usecase/embedding"
	"github.com/kailas-cloud/trialmatch/internal/usecase/lexical"
	matchuc "github.com/kailas-cloud/trialmatch/internal/usecase/match"
)

// OpenCache opens the configured embedding cache store. The "none" driver
// returns a nil store.
func OpenCache(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (db.Store, error) {
	var (
		store db.Store
		err   error
	)
	switch cfg.Driver {
	case config.CacheNone:
		return nil, nil
	case config.CacheBadger:
		store, err = dbBadger.Open(dbBadger.Config{Path: cfg.Path, Logger: logger})
	case config.CacheValkey, config.CacheRedis:
		store, err = dbRedis.NewStore(dbRedis.Config{Addrs: cfg.Addrs, Password: cfg.Password})
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.Driver, err)
	}

	if err := store.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
		store.Close()
		return nil, fmt.Errorf("%s cache not ready: %w", cfg.Driver, err)
	}
	return store, nil
}

// Backend returns the loader for the configured embedding backend, wrapped by
// the cache when store is non-nil.
func Backend(cfg config.Config, store db.Store, logger *zap.Logger) (embeddinguc.Loader, error) {
	var load embeddinguc.Loader

	emb := cfg.Embedding
	switch emb.Backend {
	case config.BackendONNX:
		load = func(ctx context.Context) (domain.Embedder, error) {
			e, err := onnx.Load(ctx, onnx.Config{
				LibraryPath:   emb.ONNX.LibraryPath,
				ModelPath:     emb.ONNX.ModelPath,
				TokenizerPath: emb.ONNX.TokenizerPath,
				MaxSeqLen:     emb.ONNX.MaxSeqLen,
				Dimensions:    emb.Dimensions,
				OutputName:    emb.ONNX.OutputName,
				TokenTypeIDs:  emb.ONNX.TokenTypeIDs,
				Logger:        logger,
			})
			if err != nil {
				return nil, err
			}
			return e, nil
		}
	case config.BackendOpenAI:
		load = func(context.Context) (domain.Embedder, error) {
			return openaiEmb.NewEmbedder(&openaiEmb.Config{
				APIKey:            emb.OpenAI.APIKey,
				BaseURL:           emb.OpenAI.BaseURL,
				Model:             emb.Model,
				RequestsPerSecond: emb.OpenAI.RequestsPerSecond,
				MaxRetries:        emb.OpenAI.MaxRetries,
				RequestTimeout:    emb.Timeout(),
				Logger:            logger,
			}), nil
		}
	case config.BackendHashing:
		load = func(context.Context) (domain.Embedder, error) {
			return hashing.NewEmbedder(emb.Dimensions), nil
		}
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", emb.Backend)
	}

	return CachedLoader(load, store, cfg, logger), nil
}

// CachedLoader wraps the embedder built by load with the embedding cache. A
// nil store returns load unchanged.
func CachedLoader(load embeddinguc.Loader, store db.Store, cfg config.Config, logger *zap.Logger) embeddinguc.Loader {
	if store == nil {
		return load
	}
	return func(ctx context.Context) (domain.Embedder, error) {
		inner, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return embcache.New(inner, store, embcache.Options{
			Model:      cfg.Embedding.Backend + "/" + cfg.Embedding.Model,
			Dimensions: Dimensions(cfg),
			KeyPrefix:  cfg.Cache.KeyPrefix,
			TTL:        cfg.Cache.TTL(),
		}, logger), nil
	}
}

// NewProvider builds the embedding provider for cfg.
func NewProvider(cfg config.Config, store db.Store, logger *zap.Logger) (*embeddinguc.Provider, error) {
	load, err := Backend(cfg, store, logger)
	if err != nil {
		return nil, err
	}
	return ProviderFor(cfg, load, logger)
}

// ProviderFor builds a provider with cfg's batching and timeouts around load.
func ProviderFor(cfg config.Config, load embeddinguc.Loader, logger *zap.Logger) (*embeddinguc.Provider, error) {
	p, err := embeddinguc.NewProvider(load, embeddinguc.Config{
		Backend:     cfg.Embedding.Backend,
		Model:       cfg.Embedding.Model,
		Dimensions:  Dimensions(cfg),
		BatchSize:   cfg.Embedding.BatchSize,
		Workers:     cfg.Embedding.Workers,
		Timeout:     cfg.Embedding.Timeout(),
		LoadTimeout: cfg.Embedding.LoadTimeout(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding provider: %w", err)
	}
	return p, nil
}

// Dimensions is the expected vector size for cfg's backend; 0 means unchecked.
func Dimensions(cfg config.Config) int {
	if cfg.Embedding.Dimensions == 0 && cfg.Embedding.Backend == config.BackendHashing {
		return hashing.DefaultDimensions
	}
	return cfg.Embedding.Dimensions
}

// NewMatcher wires the match service over a provider.
func NewMatcher(cfg config.Config, provider *embeddinguc.Provider, logger *zap.Logger) *matchuc.Service {
	return matchuc.New(provider, lexical.New(), dommatch.Limits{
		DefaultTopK:      cfg.Match.DefaultTopK,
		MaxTopK:          cfg.Match.MaxTopK,
		DefaultThreshold: cfg.Match.SimilarityThreshold,
	}, logger)
}

// BuildIndex loads the corpus file and publishes a fresh index.
func BuildIndex(ctx context.Context, svc *matchuc.Service, path string, logger *zap.Logger) (*matchuc.Index, error) {
	res, err := trialsource.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	logger.Info("Corpus loaded",
		zap.String("path", path),
		zap.Int("rows", res.Rows),
		zap.Int("records", len(res.Records)),
		zap.Int("dropped", res.Dropped),
	)

	ix, err := svc.Initialize(ctx, res.Records)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	return ix, nil
}
