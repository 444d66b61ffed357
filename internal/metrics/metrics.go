// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zarpay_executions_total",
		Help: "Payment executions, labeled by target kind and outcome",
	}, []string{"kind", "outcome"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zarpay_gateway_duration_seconds",
		Help:    "Latency of calls to external gateways",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"gateway"})

	FiatTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zarpay_fiat_transitions_total",
		Help: "Fiat conversion status transitions, labeled by conversion type and new status",
	}, []string{"type", "status"})

	DueItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zarpay_due_items",
		Help: "Scheduled payments found due by the last sweep",
	})

	Discrepancies = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zarpay_settlement_discrepancies",
		Help: "Open settlement discrepancies after the last reconciliation run, labeled by type",
	}, []string{"type"})

	StatementRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zarpay_statement_records_total",
		Help: "Bank statement lines ingested, labeled by source",
	}, []string{"source"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zarpay_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})
)

// Execution outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)
