package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	payoutMetricsOnce sync.Once
	payoutRegistry    *PayoutdMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// PayoutdMetrics wraps collectors tracking payout processor health.
type PayoutdMetrics struct {
	payoutLatency *prometheus.HistogramVec
	errors        *prometheus.CounterVec
	processed     *prometheus.CounterVec
	pauseEngaged  prometheus.Gauge
}

// Payoutd exposes the lazily-initialised metrics registry for payoutd.
func Payoutd() *PayoutdMetrics {
	payoutMetricsOnce.Do(func() {
		payoutRegistry = &PayoutdMetrics{
			payoutLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "grainpay",
				Subsystem: "payoutd",
				Name:      "payout_latency_seconds",
				Help:      "Latency distribution for completed payout commands.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"command"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "grainpay",
				Subsystem: "payoutd",
				Name:      "errors_total",
				Help:      "Payout command failures segmented by command and reason.",
			}, []string{"command", "reason"}),
			processed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "grainpay",
				Subsystem: "payoutd",
				Name:      "commands_total",
				Help:      "Completed payout commands segmented by command.",
			}, []string{"command"}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "grainpay",
				Subsystem: "payoutd",
				Name:      "pause_engaged",
				Help:      "Set to 1 while the payout processor is paused.",
			}),
		}
		prometheus.MustRegister(
			payoutRegistry.payoutLatency,
			payoutRegistry.errors,
			payoutRegistry.processed,
			payoutRegistry.pauseEngaged,
		)
	})
	return payoutRegistry
}

// ObserveLatency records end-to-end latency for a completed command.
func (m *PayoutdMetrics) ObserveLatency(command string, duration time.Duration) {
	if m == nil {
		return
	}
	m.payoutLatency.WithLabelValues(normaliseLabel(command)).Observe(duration.Seconds())
}

// RecordError increments the failure counter for the supplied command and
// reason. Reasons should be stable strings such as "auth" or "submit" so
// dashboards and alerts remain consistent.
func (m *PayoutdMetrics) RecordError(command, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.errors.WithLabelValues(normaliseLabel(command), reason).Inc()
}

// RecordProcessed increments the completion counter for a command.
func (m *PayoutdMetrics) RecordProcessed(command string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(normaliseLabel(command)).Inc()
}

// SetPaused flips the pause gauge.
func (m *PayoutdMetrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

// LedgerMetrics wraps collectors tracking ledger client activity.
type LedgerMetrics struct {
	submissions   *prometheus.CounterVec
	retries       prometheus.Counter
	confirmations *prometheus.HistogramVec
}

// Ledger exposes the lazily-initialised metrics registry for the ledger
// client.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "grainpay",
				Subsystem: "ledger",
				Name:      "submissions_total",
				Help:      "Transaction submissions segmented by outcome.",
			}, []string{"outcome"}),
			retries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "grainpay",
				Subsystem: "ledger",
				Name:      "submission_retries_total",
				Help:      "Count of transient submission failures that were retried.",
			}),
			confirmations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "grainpay",
				Subsystem: "ledger",
				Name:      "confirmation_duration_seconds",
				Help:      "Time from submission to a terminal transaction status.",
				Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
			}, []string{"status"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.submissions,
			ledgerRegistry.retries,
			ledgerRegistry.confirmations,
		)
	})
	return ledgerRegistry
}

// RecordSubmission counts one submission attempt outcome.
func (m *LedgerMetrics) RecordSubmission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(normaliseLabel(outcome)).Inc()
}

// RecordRetry counts one transient failure that triggered a retry.
func (m *LedgerMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// ObserveConfirmation records confirmation latency for a terminal status.
func (m *LedgerMetrics) ObserveConfirmation(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(normaliseLabel(status)).Observe(duration.Seconds())
}

func normaliseLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
