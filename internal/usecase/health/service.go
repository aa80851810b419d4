package health

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates a non-critical component failed; matches are still served.
	Degraded Status = "degraded"
	// Unhealthy indicates a critical component failed.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// DefaultTimeout bounds each individual check.
const DefaultTimeout = 2 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

type component struct {
	name     string
	checker  Checker
	critical bool
}

// Service coordinates health checks.
type Service struct {
	components []component
	timeout    time.Duration
	logger     *zap.Logger
}

// New creates a Service with no components.
func New(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{timeout: DefaultTimeout, logger: logger}
}

// Register adds a named check. A failing critical check makes the service
// Unhealthy; any other failure makes it Degraded. Nil checkers are skipped.
func (s *Service) Register(name string, c Checker, critical bool) *Service {
	if c != nil {
		s.components = append(s.components, component{name: name, checker: c, critical: critical})
	}
	return s
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, len(s.components))
	status := Healthy

	for _, c := range s.components {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := c.checker.HealthCheck(cctx)
		cancel()

		if err == nil {
			checks[c.name] = CheckOK
			continue
		}

		checks[c.name] = CheckError
		s.logger.Debug("health check failed", zap.String("component", c.name), zap.Error(err))
		switch {
		case c.critical:
			status = Unhealthy
		case status == Healthy:
			status = Degraded
		}
	}

	return Report{Status: status, Checks: checks}
}
