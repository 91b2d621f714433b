package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one crateplan process. Each
// instance owns its registry. A disabled instance accepts every call and
// records nothing.
type Metrics struct {
	config MetricsConfig

	resolutions        *prometheus.CounterVec
	resolutionDuration prometheus.Histogram
	activations        prometheus.Counter
	backtracks         prometheus.Counter
	candidateQueries   *prometheus.CounterVec

	unitsBuilt        prometheus.Gauge
	unitGraphDuration prometheus.Histogram

	errors           *prometheus.CounterVec
	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers the collectors.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "resolutions_total",
			Help:      "Dependency resolutions by outcome",
		}, []string{"status"}),
		resolutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "resolution_duration_seconds",
			Help:      "Time spent resolving dependencies",
			Buckets:   buckets,
		}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "activations_total",
			Help:      "Package versions activated by the resolver, including ones later backtracked",
		}),
		backtracks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "backtracks_total",
			Help:      "Returns of the resolver to an earlier choice point",
		}),
		candidateQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "candidate_queries_total",
			Help:      "Registry candidate queries by source kind",
		}, []string{"source_kind"}),

		unitsBuilt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "units_built",
			Help:      "Units in the most recent unit graph",
		}),
		unitGraphDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "unit_graph_duration_seconds",
			Help:      "Time spent building the unit graph",
			Buckets:   buckets,
		}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Errors by code",
		}, []string{"code"}),
		policyViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "policy_violations_total",
			Help:      "Policy violations by policy",
		}, []string{"policy"}),
	}

	if err := registerAll(m.registry,
		m.resolutions,
		m.resolutionDuration,
		m.activations,
		m.backtracks,
		m.candidateQueries,
		m.unitsBuilt,
		m.unitGraphDuration,
		m.errors,
		m.policyViolations,
	); err != nil {
		return nil, err
	}
	return m, nil
}

func registerAll(reg *prometheus.Registry, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) enabled() bool { return m != nil && m.registry != nil }

// RecordResolution records a finished resolution. status is "success" or
// "failure".
func (m *Metrics) RecordResolution(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.resolutions.WithLabelValues(status).Inc()
	m.resolutionDuration.Observe(duration.Seconds())
}

// RecordActivation counts one package activation.
func (m *Metrics) RecordActivation() {
	if !m.enabled() {
		return
	}
	m.activations.Inc()
}

// RecordBacktrack counts one backtrack.
func (m *Metrics) RecordBacktrack() {
	if !m.enabled() {
		return
	}
	m.backtracks.Inc()
}

// RecordCandidateQuery counts one registry query against a source kind.
func (m *Metrics) RecordCandidateQuery(sourceKind string) {
	if !m.enabled() {
		return
	}
	m.candidateQueries.WithLabelValues(sourceKind).Inc()
}

// RecordUnitGraph records the size of a unit graph and the time it took.
func (m *Metrics) RecordUnitGraph(units int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.unitsBuilt.Set(float64(units))
	m.unitGraphDuration.Observe(duration.Seconds())
}

// RecordError counts an error by its code.
func (m *Metrics) RecordError(code string) {
	if !m.enabled() || code == "" {
		return
	}
	m.errors.WithLabelValues(code).Inc()
}

// RecordPolicyViolation counts a violation reported by policy.
func (m *Metrics) RecordPolicyViolation(policy string) {
	if !m.enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy).Inc()
}

// Gatherer exposes the registry, or nil when metrics are disabled.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if !m.enabled() {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// WriteTextFile writes the current values in the Prometheus text format,
// for collection by node_exporter's textfile collector.
func (m *Metrics) WriteTextFile(path string) error {
	if !m.enabled() {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Timer measures an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since NewTimer.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
