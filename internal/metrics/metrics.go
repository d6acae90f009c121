// Package metrics defines the Prometheus collectors used by the engine and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docqa/internal/session"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	IndexBuildsTotal       *prometheus.CounterVec
	ChunksIndexedTotal     prometheus.Counter
	IndexBuildDuration     prometheus.Histogram
	RetrievalLatency       prometheus.Histogram
	RetrievalResultsCount  prometheus.Histogram
	RerankFallbacksTotal   prometheus.Counter
	SweepDeletionsTotal    *prometheus.CounterVec
	SweepFailuresTotal     prometheus.Counter
	GroundingDegradedTotal prometheus.Counter
	HighlightedUnitsTotal  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IndexBuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_index_builds_total",
				Help: "Index builds by status (ok, empty_input, error).",
			},
			[]string{"status"},
		),
		ChunksIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docqa_chunks_indexed_total",
				Help: "Total number of chunks embedded and indexed.",
			},
		),
		IndexBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docqa_index_build_duration_seconds",
				Help:    "Index build latency in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		RetrievalLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docqa_retrieval_latency_seconds",
				Help:    "Query embedding plus search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		RetrievalResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docqa_retrieval_results_count",
				Help:    "Number of chunks kept per query after the noise floor.",
				Buckets: []float64{0, 1, 2, 3, 4, 5},
			},
		),
		RerankFallbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docqa_rerank_fallbacks_total",
				Help: "Re-rank calls that fell back to the original order.",
			},
		),
		SweepDeletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docqa_sweep_deletions_total",
				Help: "Sessions deleted by the cleanup sweep, by reason.",
			},
			[]string{"reason"},
		),
		SweepFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docqa_sweep_failures_total",
				Help: "Sessions the cleanup sweep failed to delete.",
			},
		),
		GroundingDegradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docqa_grounding_degraded_units_total",
				Help: "Render units whose similarity could not be computed.",
			},
		),
		HighlightedUnitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docqa_highlighted_units_total",
				Help: "Render units highlighted as supporting an answer.",
			},
		),
	}
	reg.MustRegister(
		m.IndexBuildsTotal,
		m.ChunksIndexedTotal,
		m.IndexBuildDuration,
		m.RetrievalLatency,
		m.RetrievalResultsCount,
		m.RerankFallbacksTotal,
		m.SweepDeletionsTotal,
		m.SweepFailuresTotal,
		m.GroundingDegradedTotal,
		m.HighlightedUnitsTotal,
	)
	return m
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveIndexBuild(status string, chunks int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.IndexBuildsTotal.WithLabelValues(status).Inc()
	m.IndexBuildDuration.Observe(elapsed.Seconds())
	if chunks > 0 {
		m.ChunksIndexedTotal.Add(float64(chunks))
	}
}

func (m *Metrics) ObserveRetrieval(elapsed time.Duration, results int) {
	if m == nil {
		return
	}
	m.RetrievalLatency.Observe(elapsed.Seconds())
	m.RetrievalResultsCount.Observe(float64(results))
}

func (m *Metrics) RerankFallback() {
	if m == nil {
		return
	}
	m.RerankFallbacksTotal.Inc()
}

func (m *Metrics) ObserveSweep(r session.SweepReport) {
	if m == nil {
		return
	}
	for reason, n := range r.Deleted {
		m.SweepDeletionsTotal.WithLabelValues(reason).Add(float64(n))
	}
	m.SweepFailuresTotal.Add(float64(r.Failures))
}

func (m *Metrics) ObserveGrounding(highlighted, degraded int) {
	if m == nil {
		return
	}
	m.HighlightedUnitsTotal.Add(float64(highlighted))
	m.GroundingDegradedTotal.Add(float64(degraded))
}
