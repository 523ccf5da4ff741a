package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record API
// handler activity per module (verification, admin).
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votechain",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votechain",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "votechain",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votechain",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a module request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics tracks block appends and chain validation.
type LedgerMetrics struct {
	appends     *prometheus.CounterVec
	appendTime  prometheus.Histogram
	attempts    prometheus.Histogram
	length      prometheus.Gauge
	validations *prometheus.CounterVec
	verifyTime  prometheus.Histogram
	feedDropped prometheus.Counter
}

// Ledger returns the singleton metrics registry for the block ledger.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			appends: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votechain",
				Subsystem: "ledger",
				Name:      "appends_total",
				Help:      "Block append attempts segmented by outcome.",
			}, []string{"outcome"}),
			appendTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "votechain",
				Subsystem: "ledger",
				Name:      "append_duration_seconds",
				Help:      "Time spent sealing and persisting a block.",
				Buckets:   prometheus.DefBuckets,
			}),
			attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "votechain",
				Subsystem: "ledger",
				Name:      "mining_attempts",
				Help:      "Hashes computed before a block met the difficulty target.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			}),
			length: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "votechain",
				Subsystem: "ledger",
				Name:      "chain_length",
				Help:      "Number of persisted blocks.",
			}),
			validations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "votechain",
				Subsystem: "ledger",
				Name:      "validations_total",
				Help:      "Chain validations segmented by result.",
			}, []string{"result"}),
			verifyTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "votechain",
				Subsystem: "ledger",
				Name:      "validation_duration_seconds",
				Help:      "Time spent validating the full chain.",
				Buckets:   prometheus.DefBuckets,
			}),
			feedDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "votechain",
				Subsystem: "ledger",
				Name:      "feed_dropped_total",
				Help:      "Appended blocks not delivered to a subscriber with a full buffer.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.appends,
			ledgerRegistry.appendTime,
			ledgerRegistry.attempts,
			ledgerRegistry.length,
			ledgerRegistry.validations,
			ledgerRegistry.verifyTime,
			ledgerRegistry.feedDropped,
		)
	})
	return ledgerRegistry
}

// ObserveAppend records an append outcome. attempts is ignored on error.
func (m *LedgerMetrics) ObserveAppend(d time.Duration, attempts uint64, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.appends.WithLabelValues(outcome).Inc()
	m.appendTime.Observe(d.Seconds())
	if err == nil && attempts > 0 {
		m.attempts.Observe(float64(attempts))
	}
}

// SetLength publishes the current chain length.
func (m *LedgerMetrics) SetLength(n int64) {
	if m == nil {
		return
	}
	m.length.Set(float64(n))
}

// ObserveValidation records a validation result. An empty reason means the
// chain was valid.
func (m *LedgerMetrics) ObserveValidation(reason string, d time.Duration) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "valid"
	}
	m.validations.WithLabelValues(reason).Inc()
	m.verifyTime.Observe(d.Seconds())
}

// ObserveFeedDrop counts a block a slow subscriber missed.
func (m *LedgerMetrics) ObserveFeedDrop() {
	if m == nil {
		return
	}
	m.feedDropped.Inc()
}
