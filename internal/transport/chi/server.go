// Package chi is the HTTP transport of the matcher.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/trialmatch/internal/domain"
	dommatch "github.com/kailas-cloud/trialmatch/internal/domain/match"
	"github.com/kailas-cloud/trialmatch/internal/domain/trial"
	healthuc "github.com/kailas-cloud/trialmatch/internal/usecase/health"
	matchuc "github.com/kailas-cloud/trialmatch/internal/usecase/match"
)

const (
	maxBodyBytes  = 64 << 10
	maxStatsLimit = 100
)

// Matcher is the consumer interface for the match use case.
type Matcher interface {
	FindMatches(ctx context.Context, query string, topK int, threshold *float64) (dommatch.Response, error)
	GetRecordDetail(id string) (trial.Record, bool)
	Stats(limit int) (matchuc.Stats, error)
}

// HealthReporter is the consumer interface for the health use case.
type HealthReporter interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server implements ServerInterface.
type Server struct {
	matcher       Matcher
	health        HealthReporter
	logger        *zap.Logger
	errorHandlers []errorHandler
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates an HTTP API server.
func NewServer(matcher Matcher, health HealthReporter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		matcher: matcher,
		health:  health,
		logger:  logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, ErrorResponseCodeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorResponseCodeNotFound),
		sentinelHandler(domain.ErrCorpusUnavailable, http.StatusServiceUnavailable, ErrorResponseCodeCorpusUnavailable),
	}
	return s
}

// MatchTrials handles POST /api/v1/match.
func (s *Server) MatchTrials(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	query := ""
	if req.Query != nil {
		query = strings.TrimSpace(*req.Query)
	}
	if query == "" && req.Description != nil {
		query = *req.Description
	}

	topK := 0
	if req.TopK != nil {
		if *req.TopK < 1 {
			writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, "top_k must be at least 1")
			return
		}
		topK = *req.TopK
	}

	resp, err := s.matcher.FindMatches(r.Context(), query, topK, req.SimilarityThreshold)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetTrial handles GET /api/v1/trials/{id}.
func (s *Server) GetTrial(w http.ResponseWriter, _ *http.Request, id TrialID) {
	rec, ok := s.matcher.GetRecordDetail(id)
	if !ok {
		s.handleDomainError(w, fmt.Errorf("trial %q: %w", id, domain.ErrNotFound))
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetStats handles GET /api/v1/stats.
func (s *Server) GetStats(w http.ResponseWriter, _ *http.Request, params GetStatsParams) {
	limit := matchuc.DefaultStatsLimit
	if params.Limit != nil {
		if *params.Limit < 1 || *params.Limit > maxStatsLimit {
			writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed,
				fmt.Sprintf("limit must be between 1 and %d", maxStatsLimit))
			return
		}
		limit = *params.Limit
	}

	stats, err := s.matcher.Stats(limit)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// HealthCheck handles GET /health. Only a failing critical check answers 503;
// a degraded service still serves matches.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorResponseCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	sentinels := []error{
		domain.ErrValidation,
		domain.ErrNotFound,
		domain.ErrCorpusUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorResponseCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorResponseCodeInternalError, "internal error")
}
