// Package match owns the corpus index and serves match requests, on the
// embedding path when it can and lexically otherwise.
package match

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/domain"
	dommatch "github.com/kailas-cloud/trialmatch/internal/domain/match"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
	"github.com/kailas-cloud/trialmatch/internal/domain/vector"
	"github.com/kailas-cloud/trialmatch/internal/metrics"
)

// DefaultStatsLimit caps the condition and country lists in Stats.
const DefaultStatsLimit = 10

// Service is the matcher. The read path is lock-free: requests load the
// current *Index once and never see a half-built one.
type Service struct {
	embedder Embedder
	lexical  LexicalMatcher
	limits   dommatch.Limits
	logger   *zap.Logger

	index   atomic.Pointer[Index]
	buildMu sync.Mutex
	now     func() time.Time
}

// New creates a matcher. Call Initialize before serving.
func New(embedder Embedder, lexical LexicalMatcher, limits dommatch.Limits, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		embedder: embedder,
		lexical:  lexical,
		limits:   limits,
		logger:   logger,
		now:      time.Now,
	}
}

// Initialize builds an index from records and publishes it. Embedding failure
// is not an error: the index is published without vectors and requests are
// served lexically until the next successful build.
func (s *Service) Initialize(ctx context.Context, records []trial.Record) (*Index, error) {
	if len(records) == 0 {
		metrics.CorpusBuildsTotal.WithLabelValues("empty").Inc()
		return nil, fmt.Errorf("initialize: no records: %w", domain.ErrCorpusUnavailable)
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	start := s.now()
	texts := make([]string, len(records))
	for i := range records {
		texts[i] = trial.Project(&records[i])
	}

	var vectors [][]float32
	status := "embedded"
	if s.embedder.Available() {
		v, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			status = "lexical_only"
			s.logger.Warn("Corpus embedding failed, index published without vectors",
				zap.Int("records", len(records)),
				zap.Error(err),
			)
		} else {
			vectors = v
		}
	} else {
		status = "lexical_only"
	}

	ix := newIndex(uuid.NewString(), s.embedder.Model(), s.now(), records, texts, vectors)
	prev := s.index.Swap(ix)

	metrics.CorpusBuildsTotal.WithLabelValues(status).Inc()
	metrics.CorpusRecords.WithLabelValues("total").Set(float64(ix.Len()))
	metrics.CorpusRecords.WithLabelValues("embedded").Set(float64(ix.Embedded()))

	fields := []zap.Field{
		zap.String("index_id", ix.ID),
		zap.Int("records", ix.Len()),
		zap.Int("embedded", ix.Embedded()),
		zap.Duration("duration", s.now().Sub(start)),
	}
	if prev != nil {
		fields = append(fields, zap.String("replaced_index_id", prev.ID))
	}
	s.logger.Info("Corpus index published", fields...)

	return ix, nil
}

// Current returns the published index, or nil before Initialize.
func (s *Service) Current() *Index {
	return s.index.Load()
}

// FindMatches ranks the corpus against a patient description. topK <= 0 and a
// nil threshold take the configured defaults.
func (s *Service) FindMatches(
	ctx context.Context, query string, topK int, threshold *float64,
) (dommatch.Response, error) {
	req, err := dommatch.NewRequest(query, topK, threshold, s.limits)
	if err != nil {
		return dommatch.Response{}, fmt.Errorf("match request: %w", err)
	}

	ix := s.index.Load()
	if ix == nil || ix.Len() == 0 {
		return dommatch.Response{}, fmt.Errorf("find matches: %w", domain.ErrCorpusUnavailable)
	}

	if reason := s.embeddingBlocked(ix); reason != "" {
		return s.lexicalResponse(ix, req, reason), nil
	}

	qv, err := s.embedder.EmbedOne(ctx, trial.ProjectQuery(req.Query()))
	if err != nil {
		s.logger.Warn("Query embedding failed, falling back to keyword matching", zap.Error(err))
		return s.lexicalResponse(ix, req, fallbackReason(err)), nil
	}

	resp := dommatch.NewResponse(s.rank(ix, qv, req), dommatch.Embedding)
	s.observe(resp)
	return resp, nil
}

// GetRecordDetail returns the full record for a trial id.
func (s *Service) GetRecordDetail(id string) (trial.Record, bool) {
	ix := s.index.Load()
	if ix == nil {
		return trial.Record{}, false
	}
	return ix.Lookup(id)
}

// Stats summarizes the published corpus.
type Stats struct {
	TotalTrials int       `json:"total_trials"`
	Conditions  []Count   `json:"conditions"`
	Countries   []Count   `json:"countries"`
	IndexID     string    `json:"index_id"`
	BuiltAt     time.Time `json:"built_at"`
	Embedded    int       `json:"embedded"`
	Model       string    `json:"model"`
}

// Stats returns corpus counts with the limit most common conditions and countries.
func (s *Service) Stats(limit int) (Stats, error) {
	ix := s.index.Load()
	if ix == nil || ix.Len() == 0 {
		return Stats{}, fmt.Errorf("stats: %w", domain.ErrCorpusUnavailable)
	}
	if limit <= 0 {
		limit = DefaultStatsLimit
	}
	recs := ix.Records()
	return Stats{
		TotalTrials: ix.Len(),
		Conditions:  topCounts(recs, func(r *trial.Record) *string { return r.Condition }, limit),
		Countries:   topCounts(recs, func(r *trial.Record) *string { return r.Country }, limit),
		IndexID:     ix.ID,
		BuiltAt:     ix.BuiltAt,
		Embedded:    ix.Embedded(),
		Model:       ix.Model,
	}, nil
}

// HealthCheck fails until a non-empty index is published.
func (s *Service) HealthCheck(context.Context) error {
	if ix := s.index.Load(); ix == nil || ix.Len() == 0 {
		return domain.ErrCorpusUnavailable
	}
	return nil
}

// Shutdown waits for an in-progress build and releases the embedder.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.buildMu.Lock()
		defer s.buildMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for index build: %w", ctx.Err())
	}

	if c, ok := s.embedder.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("close embedder: %w", err)
		}
	}
	return nil
}

func (s *Service) embeddingBlocked(ix *Index) string {
	switch {
	case !ix.HasVectors():
		return "index_without_vectors"
	case !s.embedder.Available():
		return "provider_unavailable"
	default:
		return ""
	}
}

type scored struct {
	pos   int
	score float64
}

// rank scores every entry, keeps those at or above the threshold and returns
// the top K in descending order, ties in corpus order.
func (s *Service) rank(ix *Index, qv []float32, req dommatch.Request) []dommatch.Result {
	entries := ix.Entries()
	hits := make([]scored, 0, len(entries))
	for i := range entries {
		if entries[i].Vector == nil {
			continue
		}
		sim, err := vector.Cosine(qv, entries[i].Vector)
		if err != nil {
			s.logger.Warn("Skipping record with mismatched vector",
				zap.String("nct_id", entries[i].Record.ID),
				zap.Int("query_dims", len(qv)),
				zap.Int("record_dims", len(entries[i].Vector)),
				zap.Error(err),
			)
			continue
		}
		if sim >= req.Threshold() {
			hits = append(hits, scored{pos: i, score: sim})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > req.TopK() {
		hits = hits[:req.TopK()]
	}

	out := make([]dommatch.Result, len(hits))
	for i, h := range hits {
		out[i] = dommatch.Result{
			Record:     entries[h.pos].Record,
			Similarity: h.score,
			Method:     dommatch.Embedding,
		}
	}
	return out
}

func (s *Service) lexicalResponse(ix *Index, req dommatch.Request, reason string) dommatch.Response {
	metrics.MatchFallbacksTotal.WithLabelValues(reason).Inc()
	resp := dommatch.NewResponse(s.lexical.FindMatches(req.Query(), ix.Records(), req.TopK()), dommatch.Lexical)
	s.observe(resp)
	return resp
}

func (s *Service) observe(resp dommatch.Response) {
	metrics.MatchRequestsTotal.WithLabelValues(string(resp.Method)).Inc()
	metrics.MatchResults.Observe(float64(resp.TotalFound))
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrVectorDimMismatch):
		return "dimension_mismatch"
	default:
		return "embedding_error"
	}
}
