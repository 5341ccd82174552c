// Package observability holds the prometheus metrics of the verification
// engine.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	sessions         *prometheus.CounterVec
	claims           *prometheus.CounterVec
	verifierLatency  *prometheus.HistogramVec
	verifierFailures *prometheus.CounterVec
	riskScore        prometheus.Histogram
	settlements      *prometheus.CounterVec
	sessionDuration  prometheus.Histogram
}

// NewMetrics registers the metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "axiom_sessions_total",
			Help: "Verification sessions by overall action",
		}, []string{"action"}),
		claims: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "axiom_claims_total",
			Help: "Scored claims by verdict and action",
		}, []string{"verdict", "action"}),
		verifierLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "axiom_verifier_latency_seconds",
			Help:    "Verifier call latency",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 20},
		}, []string{"verifier"}),
		verifierFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "axiom_verifier_failures_total",
			Help: "Verifier calls excluded from aggregation",
		}, []string{"verifier", "reason"}),
		riskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "axiom_risk_score",
			Help:    "Distribution of per-claim risk scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "axiom_settlements_total",
			Help: "Settlements by oracle",
		}, []string{"oracle"}),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "axiom_session_duration_seconds",
			Help:    "End-to-end session duration",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionFinished records the overall action and duration of a session
func (m *Metrics) SessionFinished(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(action).Inc()
	m.sessionDuration.Observe(d.Seconds())
}

// ClaimScored records one claim verification
func (m *Metrics) ClaimScored(verdict, action string, score float64) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(verdict, action).Inc()
	m.riskScore.Observe(score)
}

// VerifierFinished records a verifier call latency
func (m *Metrics) VerifierFinished(verifier string, d time.Duration) {
	if m == nil {
		return
	}
	m.verifierLatency.WithLabelValues(verifier).Observe(d.Seconds())
}

// VerifierFailed records an excluded verifier call. reason is "error",
// "timeout" or "panic".
func (m *Metrics) VerifierFailed(verifier, reason string) {
	if m == nil {
		return
	}
	m.verifierFailures.WithLabelValues(verifier, reason).Inc()
}

// Settled records which oracle produced a settlement
func (m *Metrics) Settled(oracle string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(oracle).Inc()
}
