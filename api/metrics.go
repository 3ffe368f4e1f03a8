package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// PROMETHEUS METRICS
// =============================================================================

var previewsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "billing_previews_total",
	Help: "Allocation previews computed.",
})

var recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "billing_records_total",
	Help: "Payment commits by outcome.",
}, []string{"outcome"}) // committed, replayed, stale, invalid, error

var statementsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "billing_statements_total",
	Help: "Statements reconstructed.",
})

var recordDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "billing_record_duration_seconds",
	Help:    "Wall time of payment commits.",
	Buckets: prometheus.DefBuckets,
})
