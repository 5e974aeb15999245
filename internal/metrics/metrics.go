// Package metrics holds the Prometheus collectors for the call pipeline.
//
// All methods are safe on a nil *Metrics so components can run without a
// registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "receptionist"

type Metrics struct {
	// WebhookRequests counts carrier webhooks.
	// Labels: endpoint (voice|speech|no_input|status), outcome (ok|declined|unknown_call|error)
	WebhookRequests *prometheus.CounterVec

	// WebhookDuration measures time spent producing markup for the carrier.
	// Labels: endpoint
	WebhookDuration *prometheus.HistogramVec

	// CallTransitions counts state machine transitions.
	// Labels: from, to
	CallTransitions *prometheus.CounterVec

	// ClassifierDuration measures intent classification latency.
	ClassifierDuration prometheus.Histogram

	// ClassifierFallbacks counts fallback results.
	// Labels: reason (error|timeout|panic)
	ClassifierFallbacks *prometheus.CounterVec

	// TranscriptRetries and TranscriptDrops track degraded transcript writes.
	TranscriptRetries prometheus.Counter
	TranscriptDrops   prometheus.Counter

	// LeadsCaptured counts newly created leads.
	// Labels: intent
	LeadsCaptured *prometheus.CounterVec

	// NotifierDrops counts events dropped on full buffers.
	// Labels: backend (local|redis)
	NotifierDrops *prometheus.CounterVec
}

// New registers all collectors on reg. Passing prometheus.DefaultRegisterer
// exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		WebhookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Carrier webhook requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		WebhookDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Time to answer a carrier webhook.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"endpoint"}),
		CallTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Call state transitions.",
		}, []string{"from", "to"}),
		ClassifierDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_duration_seconds",
			Help:      "Intent classification latency.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		ClassifierFallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_fallbacks_total",
			Help:      "Classifications replaced by the fallback result.",
		}, []string{"reason"}),
		TranscriptRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_retries_total",
			Help:      "Transcript writes retried after a storage failure.",
		}),
		TranscriptDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_drops_total",
			Help:      "Transcript entries dropped after retry.",
		}),
		LeadsCaptured: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_captured_total",
			Help:      "Leads created from calls.",
		}, []string{"intent"}),
		NotifierDrops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifier_drops_total",
			Help:      "Real-time events dropped because a buffer was full.",
		}, []string{"backend"}),
	}
}

func (m *Metrics) Webhook(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(endpoint, outcome).Inc()
	m.WebhookDuration.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.CallTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Classified(seconds float64) {
	if m == nil {
		return
	}
	m.ClassifierDuration.Observe(seconds)
}

func (m *Metrics) ClassifierFallback(reason string) {
	if m == nil {
		return
	}
	m.ClassifierFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) TranscriptRetry() {
	if m == nil {
		return
	}
	m.TranscriptRetries.Inc()
}

func (m *Metrics) TranscriptDrop() {
	if m == nil {
		return
	}
	m.TranscriptDrops.Inc()
}

func (m *Metrics) LeadCaptured(intent string) {
	if m == nil {
		return
	}
	m.LeadsCaptured.WithLabelValues(intent).Inc()
}

func (m *Metrics) NotifierDrop(backend string) {
	if m == nil {
		return
	}
	m.NotifierDrops.WithLabelValues(backend).Inc()
}
