package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects experiment engine metrics.
//
// Tracks:
//   - Variant publish attempts and outcomes per publisher
//   - Engagement fetch outcomes
//   - Experiment conclusions by outcome (winner, inconclusive, failed, cancelled)
//   - Active experiments by state
type Metrics struct {
	// PublishCounter counts publish attempts.
	// Labels: status (success|retry|failed)
	PublishCounter *prometheus.CounterVec

	// PublishDuration measures publish call latency in seconds.
	PublishDuration prometheus.Histogram

	// EngagementFetchCounter counts engagement snapshot fetches.
	// Labels: status (success|unavailable)
	EngagementFetchCounter *prometheus.CounterVec

	// ExperimentsConcluded counts terminal transitions.
	// Labels: outcome (winner|inconclusive|failed|cancelled)
	ExperimentsConcluded *prometheus.CounterVec

	// ExperimentsActive is a gauge of non-terminal experiments by state.
	// Labels: state
	ExperimentsActive *prometheus.GaugeVec

	// EvaluationWait measures realized evaluation window durations in seconds.
	EvaluationWait prometheus.Histogram
}

// NewMetrics creates and registers engine metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates and registers engine metrics with the given
// registerer. Tests pass a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PublishCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitpost",
			Name:      "publish_total",
			Help:      "Variant publish attempts by status.",
		}, []string{"status"}),
		PublishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "splitpost",
			Name:      "publish_duration_seconds",
			Help:      "Publish call latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		EngagementFetchCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitpost",
			Name:      "engagement_fetch_total",
			Help:      "Engagement snapshot fetches by status.",
		}, []string{"status"}),
		ExperimentsConcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "splitpost",
			Name:      "experiments_concluded_total",
			Help:      "Experiments reaching a terminal state, by outcome.",
		}, []string{"outcome"}),
		ExperimentsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "splitpost",
			Name:      "experiments_active",
			Help:      "Non-terminal experiments by state.",
		}, []string{"state"}),
		EvaluationWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "splitpost",
			Name:      "evaluation_wait_seconds",
			Help:      "Realized wait between last publication and scoring.",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800},
		}),
	}
}
