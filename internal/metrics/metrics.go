// Package metrics provides Prometheus metrics for the coaching pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_coach"

// Metrics holds all Prometheus metrics for the service. Every Record method is
// safe on a nil receiver so components can run without instrumentation.
type Metrics struct {
	// Ingestion
	IngestionEvents  *prometheus.CounterVec
	IngestionLatency prometheus.Histogram

	// Pipeline runs
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	DimensionDegraded *prometheus.CounterVec
	ChunksPerCall     prometheus.Histogram

	// Result cache
	CacheLookups *prometheus.CounterVec
	CacheErrors  *prometheus.CounterVec
	SharedFlight prometheus.Counter

	// Reasoning service
	AnalyzerCalls   *prometheus.CounterVec
	AnalyzerRetries prometheus.Counter
	AnalyzerLatency prometheus.Histogram

	// Publishing
	PublishTotal *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IngestionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_events_total",
			Help:      "Completion events received, by outcome",
		}, []string{"outcome"}),
		IngestionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingestion_ack_seconds",
			Help:      "Time to acknowledge a completion event",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Analysis runs by terminal state",
		}, []string{"state"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of one call analysis",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		DimensionDegraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dimension_degraded_total",
			Help:      "Dimensions combined with failed or missing chunks",
		}, []string{"reason"}),
		ChunksPerCall: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunks_per_call",
			Help:      "Number of transcript chunks per analyzed call",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),

		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by level and outcome",
		}, []string{"level", "outcome"}),
		CacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Result cache backing store errors",
		}, []string{"op"}),
		SharedFlight: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_shared_flight_total",
			Help:      "Callers that received another caller's in-flight result",
		}),

		AnalyzerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyzer_calls_total",
			Help:      "Reasoning service calls by outcome",
		}, []string{"outcome"}),
		AnalyzerRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyzer_retries_total",
			Help:      "Reasoning service retries after transient failures",
		}),
		AnalyzerLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyzer_latency_seconds",
			Help:      "Reasoning service call latency",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40},
		}),

		PublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Analysis hand-offs by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordIngestion(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.IngestionEvents.WithLabelValues(outcome).Inc()
	m.IngestionLatency.Observe(seconds)
}

func (m *Metrics) RecordRun(state string, seconds float64, chunks int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(state).Inc()
	m.RunDuration.Observe(seconds)
	if chunks > 0 {
		m.ChunksPerCall.Observe(float64(chunks))
	}
}

func (m *Metrics) RecordDegraded(reason string) {
	if m == nil {
		return
	}
	m.DimensionDegraded.WithLabelValues(reason).Inc()
}

// RecordCacheLookup records a hit or miss at "call" or "chunk" level.
func (m *Metrics) RecordCacheLookup(level string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.WithLabelValues(level, outcome).Inc()
}

func (m *Metrics) RecordCacheError(op string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordSharedFlight() {
	if m == nil {
		return
	}
	m.SharedFlight.Inc()
}

func (m *Metrics) RecordAnalyzerCall(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.AnalyzerCalls.WithLabelValues(outcome).Inc()
	m.AnalyzerLatency.Observe(seconds)
}

func (m *Metrics) RecordAnalyzerRetry() {
	if m == nil {
		return
	}
	m.AnalyzerRetries.Inc()
}

func (m *Metrics) RecordPublish(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishTotal.WithLabelValues("error").Inc()
		return
	}
	m.PublishTotal.WithLabelValues("ok").Inc()
}
