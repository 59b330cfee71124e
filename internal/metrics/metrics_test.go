package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordOnIsolatedRegistry(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveProviderAttempt("groq", "retryable", 10*time.Millisecond)
	m.ObserveProviderAttempt("groq", "retryable", 10*time.Millisecond)
	m.RateLimited("global")
	m.ToolCall("add_to_cart", "success")
	m.CouponIssued()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderAttempts.WithLabelValues("groq", "retryable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitRejections.WithLabelValues("global")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("add_to_cart", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CouponsIssued))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveTurn("ok", time.Second)
		m.ObserveProviderAttempt("a", "success", time.Millisecond)
		m.RateLimited("identity")
		m.HaggleEffect("increase")
		m.ToolCall("x", "failure")
		m.CouponIssued()
		m.CouponValidated("expired")
		m.SetBreakerState("cart", 1)
	})
}
