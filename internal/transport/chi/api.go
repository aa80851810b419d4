package chi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ErrorResponseCode is the machine-readable error code of an ErrorResponse.
type ErrorResponseCode string

// Error codes.
const (
	ErrorResponseCodeBadRequest        ErrorResponseCode = "bad_request"
	ErrorResponseCodeValidationFailed  ErrorResponseCode = "validation_failed"
	ErrorResponseCodeNotFound          ErrorResponseCode = "not_found"
	ErrorResponseCodeCorpusUnavailable ErrorResponseCode = "corpus_unavailable"
	ErrorResponseCodeInternalError     ErrorResponseCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorResponseCode `json:"code"`
	Message string            `json:"message"`
}

// MatchRequest is the body of POST /api/v1/match. Description is accepted as
// an alias of Query; Query wins when both are set.
type MatchRequest struct {
	Query               *string  `json:"query,omitempty"`
	Description         *string  `json:"description,omitempty"`
	TopK                *int     `json:"top_k,omitempty"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
}

// TrialID is the NCT identifier path parameter.
type TrialID = string

// GetStatsParams are the query parameters of GET /api/v1/stats.
type GetStatsParams struct {
	Limit *int `form:"limit" json:"limit,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ServerInterface is the set of API operations.
type ServerInterface interface {
	// POST /api/v1/match
	MatchTrials(w http.ResponseWriter, r *http.Request)
	// GET /api/v1/trials/{id}
	GetTrial(w http.ResponseWriter, r *http.Request, id TrialID)
	// GET /api/v1/stats
	GetStats(w http.ResponseWriter, r *http.Request, params GetStatsParams)
	// GET /health
	HealthCheck(w http.ResponseWriter, r *http.Request)
	// GET /metrics
	Metrics(w http.ResponseWriter, r *http.Request)
}

// InvalidParamFormatError reports a path or query parameter that failed to bind.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

// RouterOptions configures HandlerWithOptions.
type RouterOptions struct {
	BaseRouter       chi.Router
	BaseURL          string
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerWithOptions mounts the API operations on a chi router.
func HandlerWithOptions(si ServerInterface, options RouterOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, _ *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := serverInterfaceWrapper{handler: si, errorHandlerFunc: options.ErrorHandlerFunc}

	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/api/v1/match", wrapper.MatchTrials)
		r.Get(options.BaseURL+"/api/v1/trials/{id}", wrapper.GetTrial)
		r.Get(options.BaseURL+"/api/v1/stats", wrapper.GetStats)
		r.Get(options.BaseURL+"/health", wrapper.HealthCheck)
		r.Get(options.BaseURL+"/metrics", wrapper.Metrics)
	})
	return r
}

// serverInterfaceWrapper binds parameters before calling the operation.
type serverInterfaceWrapper struct {
	handler          ServerInterface
	errorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *serverInterfaceWrapper) MatchTrials(w http.ResponseWriter, r *http.Request) {
	siw.handler.MatchTrials(w, r)
}

func (siw *serverInterfaceWrapper) GetTrial(w http.ResponseWriter, r *http.Request) {
	var id TrialID
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return
	}
	siw.handler.GetTrial(w, r, id)
}

func (siw *serverInterfaceWrapper) GetStats(w http.ResponseWriter, r *http.Request) {
	var params GetStatsParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		siw.errorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}
	siw.handler.GetStats(w, r, params)
}

func (siw *serverInterfaceWrapper) HealthCheck(w http.ResponseWriter, r *http.Request) {
	siw.handler.HealthCheck(w, r)
}

func (siw *serverInterfaceWrapper) Metrics(w http.ResponseWriter, r *http.Request) {
	siw.handler.Metrics(w, r)
}
