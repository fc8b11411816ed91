package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics provides Prometheus metrics for unitforge.
// It satisfies engine.MetricsRecorder.
type Metrics struct {
	config MetricsConfig

	// Generation metrics
	generationRequests *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	generatorAttempts  *prometheus.CounterVec

	// Lifecycle metrics
	unitTransitions        *prometheus.CounterVec
	concurrentModification prometheus.Counter

	// Balancing and policy metrics
	balancingExhausted *prometheus.CounterVec
	policyViolations   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		generationRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_requests_total",
				Help:      "Total number of generation requests by slot and outcome",
			},
			[]string{"slot", "outcome"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of generation requests in seconds",
				Buckets:   buckets,
			},
			[]string{"slot"},
		),
		generatorAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generator_attempts_total",
				Help:      "Total number of generator calls by slot and result",
			},
			[]string{"slot", "result"},
		),

		unitTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unit_transitions_total",
				Help:      "Total number of single-stage unit status transitions",
			},
			[]string{"direction"},
		),
		concurrentModification: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "concurrent_modifications_total",
				Help:      "Total number of commits rejected because the unit changed",
			},
		),

		balancingExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "balancing_exhausted_total",
				Help:      "Total number of requests with no admissible choice left",
			},
			[]string{"slot"},
		),
		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of content policy violations",
			},
			[]string{"policy"},
		),
	}

	registry.MustRegister(
		m.generationRequests,
		m.generationDuration,
		m.generatorAttempts,
		m.unitTransitions,
		m.concurrentModification,
		m.balancingExhausted,
		m.policyViolations,
	)

	return m, nil
}

// RecordGeneration records a finished generation request.
func (m *Metrics) RecordGeneration(slot, outcome string, duration time.Duration) {
	if m.generationRequests == nil {
		return
	}
	m.generationRequests.WithLabelValues(slot, outcome).Inc()
	m.generationDuration.WithLabelValues(slot).Observe(duration.Seconds())
}

// RecordGeneratorAttempt records one generator call.
func (m *Metrics) RecordGeneratorAttempt(slot, result string) {
	if m.generatorAttempts == nil {
		return
	}
	m.generatorAttempts.WithLabelValues(slot, result).Inc()
}

// RecordTransition records steps single-stage transitions in direction (forward, backward).
func (m *Metrics) RecordTransition(direction string, steps int) {
	if m.unitTransitions == nil || steps <= 0 {
		return
	}
	m.unitTransitions.WithLabelValues(direction).Add(float64(steps))
}

// RecordBalancingExhausted records a balancing exhaustion.
func (m *Metrics) RecordBalancingExhausted(slot string) {
	if m.balancingExhausted == nil {
		return
	}
	m.balancingExhausted.WithLabelValues(slot).Inc()
}

// RecordConcurrentModification records a rejected commit.
func (m *Metrics) RecordConcurrentModification() {
	if m.concurrentModification == nil {
		return
	}
	m.concurrentModification.Inc()
}

// RecordPolicyViolation records a content policy violation.
func (m *Metrics) RecordPolicyViolation(policy string) {
	if m.policyViolations == nil {
		return
	}
	m.policyViolations.WithLabelValues(policy).Inc()
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is done.
// It does nothing when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info().Str("addr", m.config.ListenAddress).Str("path", path).Msg("Serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}
