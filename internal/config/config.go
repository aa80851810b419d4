package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the trialmatch API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Match     MatchConfig     `yaml:"match"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// CorpusConfig locates the trial export loaded at startup.
type CorpusConfig struct {
	Path           string `yaml:"path"` // .csv or .json
	ReloadOnSIGHUP bool   `yaml:"reload_on_sighup"`
}

// Embedding backends.
const (
	BackendONNX    = "onnx"
	BackendOpenAI  = "openai"
	BackendHashing = "hashing"
)

// EmbeddingConfig holds the provider and backend settings.
type EmbeddingConfig struct {
	Backend        string       `yaml:"backend"`
	Model          string       `yaml:"model"`
	Dimensions     int          `yaml:"dimensions"`
	BatchSize      int          `yaml:"batch_size"`
	Workers        int          `yaml:"workers"`
	TimeoutSec     int          `yaml:"timeout_sec"`
	LoadTimeoutSec int          `yaml:"load_timeout_sec"`
	ONNX           ONNXConfig   `yaml:"onnx"`
	OpenAI         OpenAIConfig `yaml:"openai"`
}

// Timeout bounds one embedding call.
func (c EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// LoadTimeout bounds the one-time model load.
func (c EmbeddingConfig) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutSec) * time.Second
}

// ONNXConfig locates the in-process model.
type ONNXConfig struct {
	LibraryPath   string `yaml:"library_path"`
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	MaxSeqLen     int    `yaml:"max_seq_len"`
	OutputName    string `yaml:"output_name"`
	TokenTypeIDs  bool   `yaml:"token_type_ids"`
}

// OpenAIConfig points at an OpenAI-compatible embeddings server.
type OpenAIConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // 0 = unlimited
	MaxRetries        int     `yaml:"max_retries"`
}

// MatchConfig holds request defaults.
type MatchConfig struct {
	DefaultTopK         int      `yaml:"default_top_k"`
	MaxTopK             int      `yaml:"max_top_k"`
	SimilarityThreshold *float64 `yaml:"similarity_threshold"`
}

// Cache drivers.
const (
	CacheNone   = "none"
	CacheBadger = "badger"
	CacheValkey = "valkey"
	CacheRedis  = "redis"
)

// CacheConfig selects the embedding cache store.
type CacheConfig struct {
	Driver           string   `yaml:"driver"`
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	Path             string   `yaml:"path"` // badger directory
	TTLHours         int      `yaml:"ttl_hours"`
	KeyPrefix        string   `yaml:"key_prefix"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// TTL is the entry lifetime; 0 keeps entries forever.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory, if present, is loaded first so its
// variables can be referenced from the YAML.
func Load(env string) (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads the given .env files (default ".env") without overriding
// variables already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Corpus.Path == "" {
		c.Corpus.Path = "data/all_conditions_trials.csv"
	}

	if c.Embedding.Backend == "" {
		c.Embedding.Backend = BackendONNX
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "all-MiniLM-L6-v2"
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 10
	}
	if c.Embedding.Workers <= 0 {
		c.Embedding.Workers = runtime.NumCPU()
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 10
	}
	if c.Embedding.LoadTimeoutSec <= 0 {
		c.Embedding.LoadTimeoutSec = 120
	}
	if c.Embedding.ONNX.MaxSeqLen <= 0 {
		c.Embedding.ONNX.MaxSeqLen = 256
	}
	if c.Embedding.OpenAI.MaxRetries <= 0 {
		c.Embedding.OpenAI.MaxRetries = 3
	}

	if c.Match.DefaultTopK <= 0 {
		c.Match.DefaultTopK = 5
	}
	if c.Match.MaxTopK <= 0 {
		c.Match.MaxTopK = 50
	}
	if c.Match.SimilarityThreshold == nil {
		t := 0.3
		c.Match.SimilarityThreshold = &t
	}

	if c.Cache.Driver == "" {
		c.Cache.Driver = CacheNone
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "data/embcache"
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "trialmatch:emb_cache:"
	}
	if c.Cache.ReadinessTimeout <= 0 {
		c.Cache.ReadinessTimeout = 10
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Embedding.Backend {
	case BackendONNX:
		if c.Embedding.ONNX.ModelPath == "" || c.Embedding.ONNX.TokenizerPath == "" {
			return fmt.Errorf("embedding.onnx.model_path and embedding.onnx.tokenizer_path are required for the onnx backend")
		}
	case BackendOpenAI:
		if c.Embedding.OpenAI.BaseURL == "" {
			return fmt.Errorf("embedding.openai.base_url is required for the openai backend")
		}
		if c.Embedding.OpenAI.RequestsPerSecond < 0 {
			return fmt.Errorf("embedding.openai.requests_per_second must be >= 0, got %v",
				c.Embedding.OpenAI.RequestsPerSecond)
		}
	case BackendHashing:
		// ok
	default:
		return fmt.Errorf("embedding.backend must be \"onnx\", \"openai\" or \"hashing\", got %q", c.Embedding.Backend)
	}
	if c.Embedding.Dimensions < 0 {
		return fmt.Errorf("embedding.dimensions must be >= 0, got %d", c.Embedding.Dimensions)
	}

	if c.Match.DefaultTopK > c.Match.MaxTopK {
		return fmt.Errorf("match.default_top_k (%d) must not exceed match.max_top_k (%d)",
			c.Match.DefaultTopK, c.Match.MaxTopK)
	}
	if t := *c.Match.SimilarityThreshold; t < -1 || t > 1 {
		return fmt.Errorf("match.similarity_threshold must be between -1 and 1, got %v", t)
	}

	switch c.Cache.Driver {
	case CacheNone, CacheBadger:
		// ok
	case CacheValkey, CacheRedis:
		if len(c.Cache.Addrs) == 0 {
			return fmt.Errorf("cache.addrs is required for the %s driver", c.Cache.Driver)
		}
	default:
		return fmt.Errorf("cache.driver must be one of none, badger, valkey, redis, got %q", c.Cache.Driver)
	}
	if c.Cache.TTLHours < 0 {
		return fmt.Errorf("cache.ttl_hours must be >= 0, got %d", c.Cache.TTLHours)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
