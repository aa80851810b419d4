// Package onnx runs a sentence-transformer export (all-MiniLM-L6-v2 and alike)
// in-process through ONNX Runtime.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/domain"
	"github.com/kailas-cloud/trialmatch/internal/domain/vector"
)

// Defaults for all-MiniLM-L6-v2.
const (
	DefaultMaxSeqLen  = 256
	DefaultDimensions = 384
	DefaultOutputName = "last_hidden_state"
)

// Config holds the model and runtime locations.
type Config struct {
	LibraryPath   string // onnxruntime shared library
	ModelPath     string
	TokenizerPath string // HuggingFace tokenizer.json
	MaxSeqLen     int
	Dimensions    int
	OutputName    string
	// TokenTypeIDs feeds a token_type_ids input; BERT-style exports need it.
	TokenTypeIDs bool
	Logger       *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxSeqLen <= 0 {
		c.MaxSeqLen = DefaultMaxSeqLen
	}
	if c.Dimensions <= 0 {
		c.Dimensions = DefaultDimensions
	}
	if c.OutputName == "" {
		c.OutputName = DefaultOutputName
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Embedder is a loaded ONNX session plus its tokenizer.
type Embedder struct {
	cfg     Config
	session *ort.DynamicAdvancedSession

	tkMu sync.Mutex
	tk   *tokenizer.Tokenizer
}

// envMu guards the process-wide ONNX Runtime environment.
var envMu sync.Mutex

// Load checks the model files, initializes ONNX Runtime once per process and
// opens a session. It is meant to be passed to the provider as its loader.
func Load(ctx context.Context, cfg Config) (*Embedder, error) {
	cfg.applyDefaults()

	for _, p := range []struct{ name, path string }{
		{"model", cfg.ModelPath},
		{"tokenizer", cfg.TokenizerPath},
	} {
		if p.path == "" {
			return nil, fmt.Errorf("%s path is not configured", p.name)
		}
		if _, err := os.Stat(p.path); err != nil {
			return nil, fmt.Errorf("%s file: %w", p.name, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load onnx model: %w", err)
	}

	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", cfg.TokenizerPath, err)
	}

	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputs := []string{"input_ids", "attention_mask"}
	if cfg.TokenTypeIDs {
		inputs = append(inputs, "token_type_ids")
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputs, []string{cfg.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("open onnx session %s: %w", cfg.ModelPath, err)
	}

	cfg.Logger.Info("ONNX session opened",
		zap.String("model", cfg.ModelPath),
		zap.Int("max_seq_len", cfg.MaxSeqLen),
		zap.Int("dimensions", cfg.Dimensions),
	)

	return &Embedder{cfg: cfg, session: session, tk: tk}, nil
}

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// Embed implements domain.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.BatchEmbed(ctx, []string{text})
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embeddings[0], TotalTokens: res.TotalTokens}, nil
}

// BatchEmbed implements domain.BatchEmbedder: one padded session run per call,
// last_hidden_state mean-pooled over the attention mask.
func (e *Embedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}
	if e.session == nil {
		return domain.BatchEmbeddingResult{}, errors.New("onnx session is closed")
	}

	encs, err := e.tokenize(texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	b := padBatch(encs)

	if err := ctx.Err(); err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("onnx batch: %w", err)
	}
	hidden, err := e.run(b)
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}

	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	stride := b.seqLen * e.cfg.Dimensions
	for i := range texts {
		row := hidden[i*stride : (i+1)*stride]
		mask := b.mask[i*b.seqLen : (i+1)*b.seqLen]
		vec, err := vector.MeanPoolMasked(row, b.seqLen, e.cfg.Dimensions, mask)
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("pool text %d: %w", i, err)
		}
		out.Embeddings[i] = vec
		out.TotalTokens += len(encs[i].ids)
	}
	return out, nil
}

// run executes the session and returns a copy of the [batch, seqLen, dim] output.
func (e *Embedder) run(b batch) ([]float32, error) {
	shape := ort.NewShape(int64(b.size), int64(b.seqLen))

	ids, err := ort.NewTensor(shape, b.ids)
	if err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer ids.Destroy() //nolint:errcheck // best-effort release

	mask, err := ort.NewTensor(shape, b.mask)
	if err != nil {
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer mask.Destroy() //nolint:errcheck // best-effort release

	inputs := []ort.Value{ids, mask}
	if e.cfg.TokenTypeIDs {
		types, err := ort.NewTensor(shape, b.types)
		if err != nil {
			return nil, fmt.Errorf("token_type_ids tensor: %w", err)
		}
		defer types.Destroy() //nolint:errcheck // best-effort release
		inputs = append(inputs, types)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(b.size), int64(b.seqLen), int64(e.cfg.Dimensions)))
	if err != nil {
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	defer output.Destroy() //nolint:errcheck // best-effort release

	if err := e.session.Run(inputs, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	data := output.GetData()
	hidden := make([]float32, len(data))
	copy(hidden, data)
	return hidden, nil
}

func (e *Embedder) tokenize(texts []string) ([]encoding, error) {
	e.tkMu.Lock()
	defer e.tkMu.Unlock()

	out := make([]encoding, len(texts))
	for i, t := range texts {
		en, err := e.tk.EncodeSingle(t, true)
		if err != nil {
			return nil, fmt.Errorf("tokenize text %d: %w", i, err)
		}
		out[i] = truncate(encoding{
			ids:   toInt64(en.GetIds()),
			mask:  toInt64(en.GetAttentionMask()),
			types: toInt64(en.GetTypeIds()),
		}, e.cfg.MaxSeqLen)
	}
	return out, nil
}

// HealthCheck fails once the session is closed.
func (e *Embedder) HealthCheck(context.Context) error {
	if e.session == nil {
		return errors.New("onnx session is closed")
	}
	return nil
}

// Close destroys the session. The runtime environment stays up for the process.
func (e *Embedder) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	if err != nil {
		return fmt.Errorf("destroy onnx session: %w", err)
	}
	return nil
}

func toInt64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}
