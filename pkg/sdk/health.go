package trialmatch

import (
	"context"

	healthuc "github.com/kailas-cloud/trialmatch/internal/usecase/health"
)

// HealthStatus is the client's view of its corpus, embedding backend and cache.
type HealthStatus struct {
	Status string            // "ok", "degraded" or "error"
	Checks map[string]string // component → "ok" or "error"

	// Index is the index currently serving matches, nil before the first build.
	Index *IndexInfo
	// KeywordOnly is set when Match can only use keyword overlap: the index
	// holds no vectors or the embedding backend is failing.
	KeywordOnly bool
}

// Ready reports whether Match can be served at all.
func (h HealthStatus) Ready() bool {
	return h.Status != string(healthuc.Unhealthy)
}

// Health checks the corpus, the embedding backend and the cache, if any.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)

	h := HealthStatus{
		Status: string(report.Status),
		Checks: make(map[string]string, len(report.Checks)),
	}
	for name, res := range report.Checks {
		h.Checks[name] = string(res)
	}

	if ix := c.matcher.Current(); ix != nil {
		info := indexInfo(ix)
		h.Index = &info
		h.KeywordOnly = !ix.HasVectors()
	}
	if report.Checks["embedding"] == healthuc.CheckError {
		h.KeywordOnly = true
	}
	return h
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}
