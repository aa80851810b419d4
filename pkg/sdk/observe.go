package trialmatch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "trialmatch"

// Outcome labels besides the match methods.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// clientMetrics holds the client collectors. Match calls are labeled by the
// path that served them, so a fallback to keywords shows up as "lexical".
type clientMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	matches    *prometheus.HistogramVec
	indexed    *prometheus.GaugeVec
}

func newClientMetrics(reg prometheus.Registerer) (*clientMetrics, error) {
	m := &clientMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sdk",
			Name:      "operations_total",
			Help:      "Client calls by operation and outcome (embedding, lexical, ok, error).",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sdk",
			Name:      "operation_duration_seconds",
			Help:      "Client call duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"operation"}),
		matches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sdk",
			Name:      "match_results",
			Help:      "Trials returned per Match call.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}, []string{"method"}),
		indexed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sdk",
			Name:      "index_trials",
			Help:      "Trials in the current index, all and with a vector.",
		}, []string{"kind"}),
	}
	if err := registerOrReuse(reg, &m.operations); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.duration); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.matches); err != nil {
		return nil, err
	}
	if err := registerOrReuse(reg, &m.indexed); err != nil {
		return nil, err
	}
	return m, nil
}

// registerOrReuse registers c, or points it at the collector already
// registered under the same name.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	err := reg.Register(*c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return fmt.Errorf("trialmatch: register metric: %w", err)
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return fmt.Errorf("trialmatch: metric already registered as %T", are.ExistingCollector)
	}
	*c = existing
	return nil
}

// observer logs and counts client calls. Either field may be nil.
type observer struct {
	logger  *slog.Logger
	metrics *clientMetrics
}

func newObserver(logger *slog.Logger, reg prometheus.Registerer) (*observer, error) {
	o := &observer{logger: logger}
	if reg != nil {
		m, err := newClientMetrics(reg)
		if err != nil {
			return nil, err
		}
		o.metrics = m
	}
	return o, nil
}

// match records a Match call under the method that served it.
func (o *observer) match(start time.Time, resp MatchResponse, err error) {
	outcome := outcomeError
	if err == nil {
		outcome = string(resp.Method)
	}
	dur := o.record("match", outcome, start)

	if o.metrics != nil && err == nil {
		o.metrics.matches.WithLabelValues(string(resp.Method)).Observe(float64(resp.TotalFound))
	}
	if o.logger == nil {
		return
	}
	if err != nil {
		o.logger.Warn("match failed", "duration", dur, "error", err)
		return
	}
	if resp.Method == MethodLexical {
		o.logger.Info("match served by keyword fallback", "found", resp.TotalFound, "duration", dur)
		return
	}
	o.logger.Debug("match completed", "found", resp.TotalFound, "duration", dur)
}

// reload records an index build and publishes its size.
func (o *observer) reload(start time.Time, info IndexInfo, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	dur := o.record("reload", outcome, start)

	if o.metrics != nil && err == nil {
		o.metrics.indexed.WithLabelValues("total").Set(float64(info.Trials))
		o.metrics.indexed.WithLabelValues("embedded").Set(float64(info.Embedded))
	}
	if o.logger == nil {
		return
	}
	switch {
	case err != nil:
		o.logger.Error("index build failed, previous index kept", "duration", dur, "error", err)
	case info.Embedded < info.Trials:
		o.logger.Warn("index built with trials missing vectors",
			"index", info.ID, "trials", info.Trials, "embedded", info.Embedded, "duration", dur)
	default:
		o.logger.Info("index built", "index", info.ID, "trials", info.Trials, "duration", dur)
	}
}

// lookup records a read-only call such as Trial or Stats.
func (o *observer) lookup(op string, start time.Time, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	dur := o.record(op, outcome, start)
	if o.logger != nil && err != nil {
		o.logger.Debug(op+" failed", "duration", dur, "error", err)
	}
}

func (o *observer) record(op, outcome string, start time.Time) time.Duration {
	dur := time.Since(start)
	if o.metrics != nil {
		o.metrics.operations.WithLabelValues(op, outcome).Inc()
		o.metrics.duration.WithLabelValues(op).Observe(dur.Seconds())
	}
	return dur
}
