package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	verification *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking ledger-anchored verification
// events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			verification: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votechain",
				Subsystem: "events",
				Name:      "verification_total",
				Help:      "Count of verification events segmented by type and outcome.",
			}, []string{"type", "outcome"}),
		}
		prometheus.MustRegister(eventRegistry.verification)
	})
	return eventRegistry
}

// RecordVerification increments the counter for the supplied event type.
func (m *eventMetrics) RecordVerification(eventType string, err error) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.verification.WithLabelValues(normalized, outcome).Inc()
}
