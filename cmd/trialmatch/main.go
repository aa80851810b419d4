package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/app"
	"github.com/kailas-cloud/trialmatch/internal/config"
	logpkg "github.com/kailas-cloud/trialmatch/internal/logger"
	"github.com/kailas-cloud/trialmatch/internal/metrics"
	chiTransport "github.com/kailas-cloud/trialmatch/internal/transport/chi"
	healthuc "github.com/kailas-cloud/trialmatch/internal/usecase/health"
	matchuc "github.com/kailas-cloud/trialmatch/internal/usecase/match"
	"github.com/kailas-cloud/trialmatch/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting trialmatch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("embedding_backend", cfg.Embedding.Backend),
		zap.String("embedding_model", cfg.Embedding.Model),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.String("corpus", cfg.Corpus.Path),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterMatchMetrics()

	ctx := context.Background()

	store, err := app.OpenCache(ctx, cfg.Cache, logger)
	if err != nil {
		logger.Fatal("Failed to open embedding cache", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
		logger.Info("Embedding cache ready", zap.String("driver", cfg.Cache.Driver))
	}

	provider, err := app.NewProvider(cfg, store, logger)
	if err != nil {
		logger.Fatal("Failed to create embedding provider", zap.Error(err))
	}
	matcher := app.NewMatcher(cfg, provider, logger)

	healthSvc := healthuc.New(logger).
		Register("corpus", matcher, true).
		Register("embedding", provider, false)
	if store != nil {
		healthSvc.Register("cache", healthuc.CheckerFunc(store.Ping), false)
	}

	server := chiTransport.NewServer(matcher, healthSvc, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      chiTransport.NewRouter(server, logger),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// The first build embeds the whole corpus; /health reports the corpus
	// unavailable until it is published.
	go rebuild(ctx, matcher, cfg.Corpus.Path, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range quit {
		if sig == syscall.SIGHUP {
			if !cfg.Corpus.ReloadOnSIGHUP {
				logger.Info("SIGHUP ignored, corpus.reload_on_sighup is off")
				continue
			}
			logger.Info("Received SIGHUP, reloading corpus")
			go rebuild(ctx, matcher, cfg.Corpus.Path, logger)
			continue
		}
		break
	}
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if err := matcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping matcher", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// rebuild loads the corpus file and swaps in a new index. On failure the
// previous index, if any, keeps serving.
func rebuild(ctx context.Context, matcher *matchuc.Service, path string, logger *zap.Logger) {
	if _, err := app.BuildIndex(ctx, matcher, path, logger); err != nil {
		logger.Error("Corpus build failed", zap.String("path", path), zap.Error(err))
	}
}
