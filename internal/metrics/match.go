package metrics

import "github.com/prometheus/client_golang/prometheus"

// Matcher Prometheus metrics.
var (
	MatchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_requests_total",
			Help:      "Match requests by the path that served them",
		},
		[]string{"method"}, // "embedding" / "lexical"
	)

	MatchFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_fallbacks_total",
			Help:      "Requests served lexically because the embedding path failed",
		},
		[]string{"reason"},
	)

	MatchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_results",
			Help:      "Number of trials returned per match request",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	CorpusRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "corpus_records",
			Help:      "Trial records in the published index",
		},
		[]string{"state"}, // "total" / "embedded"
	)

	CorpusBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corpus_builds_total",
			Help:      "Index builds by outcome",
		},
		[]string{"status"},
	)
)

var matchMetricsRegistered bool

// RegisterMatchMetrics registers matcher and corpus metrics. Must be called once from main.
func RegisterMatchMetrics() {
	if matchMetricsRegistered {
		return
	}
	prometheus.MustRegister(MatchRequestsTotal)
	prometheus.MustRegister(MatchFallbacksTotal)
	prometheus.MustRegister(MatchResults)
	prometheus.MustRegister(CorpusRecords)
	prometheus.MustRegister(CorpusBuildsTotal)
	matchMetricsRegistered = true
}
