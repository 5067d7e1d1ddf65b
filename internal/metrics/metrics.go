// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconcile outcomes.
const (
	OutcomeApplied      = "applied"
	OutcomeNoop         = "noop"
	OutcomeError        = "error"
	OutcomeLateApproval = "late_approval"
)

// ReconcileTotal counts reconciliation results per provider.
var ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Name:      "reconcile_total",
	Help:      "Reconciliation calls by provider and outcome.",
}, []string{"provider", "outcome"})

// SideEffectFailures counts dispatcher effects that failed or panicked.
var SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Name:      "side_effect_failures_total",
	Help:      "Side effects that failed after a settled payment.",
}, []string{"effect"})

// GatewayRequestSeconds observes outbound provider calls.
var GatewayRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "billing",
	Name:      "gateway_request_seconds",
	Help:      "Latency of outbound payment provider calls.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
}, []string{"provider", "op", "result"})

// WebhookParseErrors counts inbound payloads an adapter rejected.
var WebhookParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Name:      "webhook_parse_errors_total",
	Help:      "Provider notifications that could not be translated.",
}, []string{"provider"})

// AmountMismatch counts events whose amount differs from the charged amount.
var AmountMismatch = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Name:      "amount_mismatch_total",
	Help:      "Provider events reporting a different amount than was charged.",
}, []string{"provider"})

// ObserveGatewayRequest records one provider call.
func ObserveGatewayRequest(provider, op string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GatewayRequestSeconds.WithLabelValues(provider, op, result).Observe(d.Seconds())
}

// ObserveReconcile records one reconciliation outcome.
func ObserveReconcile(provider, outcome string) {
	ReconcileTotal.WithLabelValues(provider, outcome).Inc()
}
