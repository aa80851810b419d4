package trialmatch

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	corpusPath string
	rows       []map[string]any

	backend       string
	model         string
	dimensions    int
	onnxModel     string
	onnxTokenizer string
	onnxLibrary   string
	openaiBaseURL string
	openaiAPIKey  string
	embedder      Embedder

	cacheDriver   string
	cacheAddrs    []string
	cachePassword string
	cachePath     string

	batchSize int
	workers   int
	topK      int
	threshold *float64

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithCorpus loads trials from a ClinicalTrials.gov export (.csv or .json).
func WithCorpus(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.corpusPath = path
	})
}

// WithTrials uses in-memory rows instead of a file. Keys follow the export
// column names (NCTId, BriefTitle, Condition...) or their snake_case aliases.
func WithTrials(rows []map[string]any) Option {
	return optionFunc(func(c *clientConfig) {
		c.rows = rows
	})
}

// WithHashing selects the model-free hashing embedder. dims <= 0 means 384.
func WithHashing(dims int) Option {
	return optionFunc(func(c *clientConfig) {
		c.backend = "hashing"
		c.model = "hashing"
		c.dimensions = dims
		c.embedder = nil
	})
}

// WithONNX runs a sentence-transformer export in-process. The ONNX Runtime
// shared library is looked up by the runtime unless WithONNXLibrary is set.
func WithONNX(modelPath, tokenizerPath string) Option {
	return optionFunc(func(c *clientConfig) {
		c.backend = "onnx"
		c.model = "all-MiniLM-L6-v2"
		c.onnxModel = modelPath
		c.onnxTokenizer = tokenizerPath
		c.embedder = nil
	})
}

// WithONNXLibrary sets the path of the onnxruntime shared library.
func WithONNXLibrary(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.onnxLibrary = path
	})
}

// WithOpenAI embeds through an OpenAI-compatible /embeddings endpoint.
func WithOpenAI(baseURL, apiKey, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.backend = "openai"
		c.openaiBaseURL = baseURL
		c.openaiAPIKey = apiKey
		c.model = model
		c.embedder = nil
	})
}

// WithEmbedder plugs in a custom embedding backend. model names the cache
// namespace, so vectors from different models never mix.
func WithEmbedder(e Embedder, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.backend = "custom"
		c.model = model
		c.embedder = e
	})
}

// WithBadgerCache caches embeddings in a local BadgerDB directory.
func WithBadgerCache(path string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheDriver = "badger"
		c.cachePath = path
	})
}

// WithValkeyCache caches embeddings in Valkey.
func WithValkeyCache(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheDriver = "valkey"
		c.cacheAddrs = []string{addr}
		c.cachePassword = password
	})
}

// WithRedisCache caches embeddings in Redis.
func WithRedisCache(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheDriver = "redis"
		c.cacheAddrs = []string{addr}
		c.cachePassword = password
	})
}

// WithBatching sets the embedding batch size and the number of batches
// embedded in parallel.
func WithBatching(size, workers int) Option {
	return optionFunc(func(c *clientConfig) {
		c.batchSize = size
		c.workers = workers
	})
}

// WithMatchDefaults sets the result cap and similarity threshold used when a
// Match call does not pass its own.
func WithMatchDefaults(topK int, threshold float64) Option {
	return optionFunc(func(c *clientConfig) {
		c.topK = topK
		c.threshold = &threshold
	})
}

// WithLogger enables structured logging for client operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers client metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}

// MatchOption tunes a single Match call.
type MatchOption func(*matchParams)

type matchParams struct {
	topK      int
	threshold *float64
}

// TopK caps the number of matches. Values above the maximum are clamped.
func TopK(n int) MatchOption {
	return func(p *matchParams) { p.topK = n }
}

// MinSimilarity sets the cosine threshold for the embedding path, in [-1, 1].
func MinSimilarity(t float64) MatchOption {
	return func(p *matchParams) { p.threshold = &t }
}
