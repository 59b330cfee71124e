package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkeeper/backend/internal/behavior"
	"github.com/shopkeeper/backend/internal/chat"
	"github.com/shopkeeper/backend/internal/coupon"
	"github.com/shopkeeper/backend/internal/metrics"
	"github.com/shopkeeper/backend/internal/provider"
	"github.com/shopkeeper/backend/internal/ratelimit"
	"github.com/shopkeeper/backend/internal/session"
)

type stubChat struct {
	resp *chat.Response
	err  error
	got  chat.Message
}

func (s *stubChat) HandleMessage(_ context.Context, msg chat.Message) (*chat.Response, error) {
	s.got = msg
	return s.resp, s.err
}

func newTestServer(t *testing.T, c ChatHandler) (*httptest.Server, Deps) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	m.CouponIssued()
	deps := Deps{
		Chat:     c,
		Coupons:  coupon.NewService(coupon.NewMemoryStore(), coupon.Options{}),
		Sessions: session.NewMemoryStore(),
		Governor: ratelimit.NewGovernor(ratelimit.Config{PerIdentity: 3}),
		Gatherer: reg,
	}
	srv := httptest.NewServer(NewServer(deps).Router())
	t.Cleanup(srv.Close)
	return srv, deps
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestChatOK(t *testing.T) {
	stub := &stubChat{resp: &chat.Response{
		TurnID:        "t-1",
		Text:          "Here you go",
		ToolCalls:     []chat.ToolCall{},
		PriceModifier: &behavior.Effect{Type: behavior.EffectIncrease, Percentage: 5, Message: "up"},
		SessionState:  chat.SessionState{HasActiveCode: true, ActiveCode: "SAVE10-X"},
	}}
	srv, _ := newTestServer(t, stub)

	resp := post(t, srv.URL+"/api/v1/chat", `{"identity":"u1","text":"hi","history":[{"role":"user","content":"earlier"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body := decode(t, resp)
	assert.Equal(t, "Here you go", body["text"])
	assert.Equal(t, "increase", body["priceModifier"].(map[string]interface{})["type"])
	assert.Equal(t, true, body["sessionState"].(map[string]interface{})["hasActiveCode"])
	assert.Equal(t, "u1", stub.got.Identity)
	require.Len(t, stub.got.History, 1)
}

func TestChatErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &chat.ValidationError{Field: "text", Reason: "is required"}, http.StatusBadRequest},
		{"rate limited", &chat.RateLimitError{Scope: ratelimit.ScopeIdentity, RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests},
		{"no providers", provider.ErrNoProviders, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &stubChat{err: tc.err})
			resp := post(t, srv.URL+"/api/v1/chat", `{"identity":"u1","text":"hi"}`)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.status == http.StatusTooManyRequests {
				assert.Equal(t, "2", resp.Header.Get("Retry-After"))
				body := decode(t, resp)
				assert.Equal(t, true, body["rateLimited"])
			}
		})
	}
}

func TestChatRejectsMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})
	resp := post(t, srv.URL+"/api/v1/chat", `{"identity":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateCouponEndpoint(t *testing.T) {
	srv, deps := newTestServer(t, &stubChat{})
	c, err := deps.Coupons.Create(context.Background(), "u1", 10, "", 0)
	require.NoError(t, err)

	body := decode(t, post(t, srv.URL+"/api/v1/coupons/validate", `{"code":"`+c.Code+`","identity":"u1"}`))
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, 10.0, body["percentage"])

	body = decode(t, post(t, srv.URL+"/api/v1/coupons/validate", `{"code":"`+c.Code+`","identity":"u1"}`))
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, coupon.ReasonAlreadyUsed, body["error"])

	resp := post(t, srv.URL+"/api/v1/coupons/validate", `{"code":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionAndStatsEndpoints(t *testing.T) {
	srv, deps := newTestServer(t, &stubChat{})
	deps.Sessions.Update("u1", func(s *behavior.Session) {
		s.ActiveCode = "SAVE15-Y"
		s.PenaltyActive = true
	})

	resp, err := http.Get(srv.URL + "/api/v1/sessions/u1")
	require.NoError(t, err)
	defer resp.Body.Close()
	body := decode(t, resp)
	assert.Equal(t, "SAVE15-Y", body["activeCode"])
	assert.Equal(t, true, body["penaltyActive"])

	resp2, err := http.Get(srv.URL + "/api/v1/ratelimit/stats")
	require.NoError(t, err)
	defer resp2.Body.Close()
	stats := decode(t, resp2)
	assert.Equal(t, 3.0, stats["per_identity"])
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &stubChat{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "ok", decode(t, resp)["status"])

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
	raw := new(strings.Builder)
	_, err = io.Copy(raw, mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "shopkeeper_coupons_issued_total 1")
}

func TestHealthReportsMisconfiguration(t *testing.T) {
	deps := Deps{Chat: &stubChat{}, Ready: func() error { return provider.ErrNoProviders }, Gatherer: prometheus.NewRegistry()}
	srv := httptest.NewServer(NewServer(deps).Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body := decode(t, resp)
	assert.Equal(t, "degraded", body["status"])
}
