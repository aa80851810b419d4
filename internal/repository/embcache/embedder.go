// Package embcache persists pooled corpus and query vectors so restarts and
// repeated queries skip the model.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/db"
	"github.com/kailas-cloud/trialmatch/internal/domain"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
	"github.com/kailas-cloud/trialmatch/internal/domain/vector"
	"github.com/kailas-cloud/trialmatch/internal/metrics"
)

// DefaultKeyPrefix namespaces cache keys in a shared Valkey.
const DefaultKeyPrefix = "trialmatch:emb_cache:"

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options tune key layout and expiry.
type Options struct {
	Model      string
	Dimensions int // scopes keys and rejects cached vectors of another length; 0 disables
	KeyPrefix  string
	TTL        time.Duration // 0 keeps entries forever
}

// CachedEmbedder caches pooled embeddings in a key-value store.
type CachedEmbedder struct {
	inner  domain.Embedder
	store  store
	opts   Options
	logger *zap.Logger
}

// New creates a caching decorator around a backend embedder.
func New(inner domain.Embedder, s store, opts Options, logger *zap.Logger) *CachedEmbedder {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{inner: inner, store: s, opts: opts, logger: logger}
}

// Embed returns a cached embedding or calls the inner embedder.
// Cache hit: TotalTokens = 0 (no real tokens consumed).
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := c.cacheKey(text)

	if cached := c.lookup(ctx, []string{key}); cached[0] != nil {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return domain.EmbeddingResult{Embedding: cached[0]}, nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()

	res, err := c.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}
	vec, err := vector.Resolve(res)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}

	c.put(ctx, key, vec)
	return domain.EmbeddingResult{Embedding: vec, TotalTokens: res.TotalTokens}, nil
}

// BatchEmbed serves hits from the cache and sends only the misses to the
// inner embedder, in one call. Output slots follow the input order.
func (c *CachedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.cacheKey(t)
	}

	out := domain.BatchEmbeddingResult{Embeddings: c.lookup(ctx, keys)}

	var missIdx []int
	var missTexts []string
	for i, vec := range out.Embeddings {
		if vec == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("hit").Add(float64(len(texts) - len(missIdx)))
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Add(float64(len(missIdx)))

	if len(missIdx) == 0 {
		return out, nil
	}

	var (
		res domain.BatchEmbeddingResult
		err error
	)
	if be, ok := c.inner.(domain.BatchEmbedder); ok {
		res, err = be.BatchEmbed(ctx, missTexts)
	} else {
		res, err = domain.BatchFallback(ctx, c.inner, missTexts)
	}
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed %d misses: %w", len(missTexts), err)
	}
	if len(res.Embeddings) != len(missTexts) && len(res.Tokens) != len(missTexts) {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("inner embedder returned %d vectors for %d texts",
			max(len(res.Embeddings), len(res.Tokens)), len(missTexts))
	}

	for j, i := range missIdx {
		var item domain.EmbeddingResult
		if j < len(res.Embeddings) {
			item.Embedding = res.Embeddings[j]
		}
		if j < len(res.Tokens) {
			item.Tokens = res.Tokens[j]
		}
		vec, err := vector.Resolve(item)
		if err != nil {
			// Left nil for the caller to skip; one bad slot does not fail the batch.
			c.logger.Warn("Inner embedder returned no usable vector", zap.Int("text", i), zap.Error(err))
			continue
		}
		out.Embeddings[i] = vec
		c.put(ctx, keys[i], vec)
	}
	out.TotalTokens = res.TotalTokens
	return out, nil
}

// HealthCheck delegates to the inner embedder when it supports checks.
func (c *CachedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Close releases the inner embedder. The store is owned by the caller.
func (c *CachedEmbedder) Close() error {
	if cl, ok := c.inner.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// cacheKey covers the model, the dimension and the projection version: vectors
// from another model, size or label layout are never served.
func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(c.opts.Model + "|" + strconv.Itoa(c.opts.Dimensions) + "|" +
		trial.ProjectionVersion + "|" + text))
	return c.opts.KeyPrefix + hex.EncodeToString(h[:])
}

// lookup returns one entry per key; misses and unreadable entries are nil.
func (c *CachedEmbedder) lookup(ctx context.Context, keys []string) [][]float32 {
	out := make([][]float32, len(keys))

	data, err := c.store.MGet(ctx, keys)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embeddings", zap.Int("keys", len(keys)), zap.Error(err))
		}
		return out
	}

	for i := range keys {
		if i >= len(data) || len(data[i]) == 0 {
			continue
		}
		vec, err := bytesToVector(data[i])
		if err != nil {
			c.logger.Warn("Failed to parse cached embedding", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		if c.opts.Dimensions > 0 && len(vec) != c.opts.Dimensions {
			c.logger.Warn("Ignoring cached embedding of wrong size",
				zap.String("key", keys[i]),
				zap.Int("dims", len(vec)),
				zap.Int("want", c.opts.Dimensions),
			)
			continue
		}
		out[i] = vec
	}
	return out
}

func (c *CachedEmbedder) put(ctx context.Context, key string, vec []float32) {
	data := vectorToCacheBytes(vec)

	var err error
	if c.opts.TTL > 0 {
		err = c.store.SetWithTTL(ctx, key, data, c.opts.TTL)
	} else {
		err = c.store.Set(ctx, key, data)
	}
	if err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

func vectorToCacheBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding cache data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
