package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/config"
	dommatch "github.com/kailas-cloud/trialmatch/internal/domain/match"
	"github.com/kailas-cloud/trialmatch/internal/metrics"
)

const corpusPath = "../repository/trialsource/testdata/trials.csv"

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterMatchMetrics()
	os.Exit(m.Run())
}

func hashingConfig(t *testing.T, driver string) config.Config {
	t.Helper()
	cfg := config.Config{
		HTTP:      config.HTTPConfig{Port: 8080},
		Embedding: config.EmbeddingConfig{Backend: config.BackendHashing, Model: "hashing-384"},
		Cache:     config.CacheConfig{Driver: driver, Path: filepath.Join(t.TempDir(), "cache")},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestOpenCache_None(t *testing.T) {
	store, err := OpenCache(context.Background(), config.CacheConfig{Driver: config.CacheNone}, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	if store != nil {
		t.Fatal("expected nil store for driver none")
	}
}

func TestOpenCache_Unknown(t *testing.T) {
	if _, err := OpenCache(context.Background(), config.CacheConfig{Driver: "memcached"}, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestBuildIndex_HashingWithoutCache(t *testing.T) {
	cfg := hashingConfig(t, config.CacheNone)
	ctx := context.Background()

	provider, err := NewProvider(cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	svc := NewMatcher(cfg, provider, zap.NewNop())
	t.Cleanup(func() { _ = svc.Shutdown(ctx) })

	ix, err := BuildIndex(ctx, svc, corpusPath, zap.NewNop())
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if ix.Len() != 3 || ix.Embedded() != 3 {
		t.Fatalf("expected 3 embedded records, got %d/%d", ix.Embedded(), ix.Len())
	}

	resp, err := svc.FindMatches(ctx, "coronary heart disease", 1, nil)
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}
	if resp.Method != dommatch.Embedding {
		t.Fatalf("expected embedding method, got %q", resp.Method)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].ID != "NCT00000001" {
		t.Fatalf("expected NCT00000001, got %+v", resp.Matches)
	}
}

func TestBuildIndex_BadgerCacheServesRebuild(t *testing.T) {
	cfg := hashingConfig(t, config.CacheBadger)
	ctx := context.Background()

	store, err := OpenCache(ctx, cfg.Cache, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	t.Cleanup(store.Close)

	build := func() {
		t.Helper()
		provider, err := NewProvider(cfg, store, zap.NewNop())
		if err != nil {
			t.Fatalf("NewProvider: %v", err)
		}
		svc := NewMatcher(cfg, provider, zap.NewNop())
		defer func() { _ = svc.Shutdown(ctx) }()

		if _, err := BuildIndex(ctx, svc, corpusPath, zap.NewNop()); err != nil {
			t.Fatalf("BuildIndex: %v", err)
		}
	}

	hits := metrics.EmbeddingCacheTotal.WithLabelValues("hit")
	build()
	before := testutil.ToFloat64(hits)
	build()
	after := testutil.ToFloat64(hits)

	if after-before != 3 {
		t.Errorf("expected 3 cache hits on rebuild, got %v", after-before)
	}
}

func TestBuildIndex_MissingCorpus(t *testing.T) {
	cfg := hashingConfig(t, config.CacheNone)

	provider, err := NewProvider(cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	svc := NewMatcher(cfg, provider, zap.NewNop())

	if _, err := BuildIndex(context.Background(), svc, filepath.Join(t.TempDir(), "none.csv"), zap.NewNop()); err == nil {
		t.Fatal("expected error for missing corpus file")
	}
	if svc.Current() != nil {
		t.Error("no index should be published")
	}
}

func TestBackend_Unknown(t *testing.T) {
	cfg := hashingConfig(t, config.CacheNone)
	cfg.Embedding.Backend = "word2vec"

	if _, err := Backend(cfg, nil, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
