package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWith_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)

	m.PublishCounter.WithLabelValues("success").Inc()
	m.EngagementFetchCounter.WithLabelValues("unavailable").Add(2)
	m.ExperimentsConcluded.WithLabelValues("winner").Inc()
	m.ExperimentsActive.WithLabelValues("publishing").Set(3)

	if got := testutil.ToFloat64(m.PublishCounter.WithLabelValues("success")); got != 1 {
		t.Errorf("publish success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.EngagementFetchCounter.WithLabelValues("unavailable")); got != 2 {
		t.Errorf("fetch unavailable = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ExperimentsActive.WithLabelValues("publishing")); got != 3 {
		t.Errorf("active publishing = %v, want 3", got)
	}
}

func TestNewMetricsWith_FreshRegistryPerTest(t *testing.T) {
	// Two instances must not collide when given separate registries.
	a := NewMetricsWith(prometheus.NewRegistry())
	b := NewMetricsWith(prometheus.NewRegistry())
	a.PublishCounter.WithLabelValues("failed").Inc()
	if got := testutil.ToFloat64(b.PublishCounter.WithLabelValues("failed")); got != 0 {
		t.Errorf("metrics leaked across registries: %v", got)
	}
}
