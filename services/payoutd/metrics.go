package payoutd

import "grainpay/observability"

// Metrics exposes Prometheus collectors for payoutd instrumentation.
type Metrics = observability.PayoutdMetrics

// NewMetrics returns the lazily initialised metrics registry.
func NewMetrics() *Metrics { return observability.Payoutd() }
