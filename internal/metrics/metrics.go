package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the chat pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Turn metrics
	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	// Provider metrics
	ProviderAttempts *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// Governance metrics
	RateLimitRejections *prometheus.CounterVec
	HaggleEffects       *prometheus.CounterVec

	// Side-effect metrics
	ToolCalls         *prometheus.CounterVec
	CouponsIssued     prometheus.Counter
	CouponValidations *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopkeeper_turns_total",
				Help: "Chat turns processed, by outcome",
			},
			[]string{"outcome"}, // ok, degraded, rate_limited, invalid, misconfigured
		),

		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shopkeeper_turn_duration_seconds",
				Help:    "End-to-end duration of a chat turn",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
		),

		ProviderAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopkeeper_provider_attempts_total",
				Help: "Upstream language-model attempts, by provider and result",
			},
			[]string{"provider", "result"}, // success, retryable, auth, error
		),

		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopkeeper_provider_latency_seconds",
				Help:    "Latency of a single upstream attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		RateLimitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopkeeper_rate_limit_rejections_total",
				Help: "Requests rejected by the rate governor",
			},
			[]string{"scope"}, // identity, global
		),

		HaggleEffects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopkeeper_haggle_effects_total",
				Help: "Price modifier effects emitted by the haggle state machine",
			},
			[]string{"effect"},
		),

		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopkeeper_tool_calls_total",
				Help: "Tool calls dispatched, by tool and result",
			},
			[]string{"tool", "result"}, // success, failure, ignored
		),

		CouponsIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shopkeeper_coupons_issued_total",
				Help: "Discount codes created",
			},
		),

		CouponValidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopkeeper_coupon_validations_total",
				Help: "Discount code validations, by result",
			},
			[]string{"result"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shopkeeper_circuit_breaker_state",
				Help: "Collaborator circuit state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"name"},
		),
	}
}

func (m *Metrics) ObserveTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveProviderAttempt(provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(provider, result).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(scope).Inc()
}

func (m *Metrics) HaggleEffect(effect string) {
	if m == nil {
		return
	}
	m.HaggleEffects.WithLabelValues(effect).Inc()
}

func (m *Metrics) ToolCall(tool, result string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) CouponIssued() {
	if m == nil {
		return
	}
	m.CouponsIssued.Inc()
}

func (m *Metrics) CouponValidated(result string) {
	if m == nil {
		return
	}
	m.CouponValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
