package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkeeper/backend/internal/behavior"
	"github.com/shopkeeper/backend/internal/collaborator"
	"github.com/shopkeeper/backend/internal/coupon"
	"github.com/shopkeeper/backend/internal/events"
	"github.com/shopkeeper/backend/internal/metrics"
	"github.com/shopkeeper/backend/internal/orchestrator"
	"github.com/shopkeeper/backend/internal/provider"
	"github.com/shopkeeper/backend/internal/ratelimit"
	"github.com/shopkeeper/backend/internal/session"
	"github.com/shopkeeper/backend/internal/tools"
)

type scriptedCompleter struct {
	calls     int
	last      orchestrator.Request
	toolCalls []provider.ToolCall
	text      string
	err       error
}

func (s *scriptedCompleter) Complete(_ context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	s.calls++
	s.last = req
	if req.OnDispatch != nil {
		req.OnDispatch()
	}
	if s.err != nil {
		return nil, s.err
	}
	text := s.text
	if text == "" && len(s.toolCalls) == 0 {
		text = "Happy to help!"
	}
	return &orchestrator.Result{Completion: &provider.Completion{
		Text:         text,
		ToolCalls:    s.toolCalls,
		ProviderUsed: "groq",
		Attempts:     1,
	}}, nil
}

type okCart struct{}

func (okCart) AddItem(_ context.Context, item collaborator.CartItem) (*collaborator.CartReceipt, error) {
	return &collaborator.CartReceipt{CartID: "c1", ItemCount: item.Quantity}, nil
}

type brokenImages struct{}

func (brokenImages) Generate(context.Context, string, int, string) (*collaborator.Preview, error) {
	return nil, errors.New("gpu out of memory")
}

type fixture struct {
	svc      *Service
	llm      *scriptedCompleter
	governor *ratelimit.Governor
	sessions *session.MemoryStore
	bus      *events.EventBus
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, perIdentity int) *fixture {
	t.Helper()
	f := &fixture{
		llm:      &scriptedCompleter{},
		governor: ratelimit.NewGovernor(ratelimit.Config{PerIdentity: perIdentity, Window: time.Minute, GlobalDailyCap: 1000}),
		sessions: session.NewMemoryStore(),
		bus:      events.NewEventBus(nil),
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = NewService(Deps{
		Governor:     f.governor,
		Sessions:     f.sessions,
		Haggler:      behavior.NewHaggler(5),
		Orchestrator: f.llm,
		Tools: tools.NewDispatcher(tools.Deps{
			Cart:     okCart{},
			Coupons:  coupon.NewService(coupon.NewMemoryStore(), coupon.Options{}),
			Images:   brokenImages{},
			Sessions: f.sessions,
			Events:   f.bus,
		}),
		Events:  f.bus,
		Metrics: f.metrics,
	})
	return f
}

func (f *fixture) send(t *testing.T, identity, text string) *Response {
	t.Helper()
	resp, err := f.svc.HandleMessage(context.Background(), Message{Identity: identity, Text: text})
	require.NoError(t, err)
	return resp
}

func TestHaggleScenario(t *testing.T) {
	f := newFixture(t, 20)
	sub := f.bus.Subscribe("u1")
	defer f.bus.Unsubscribe(sub)

	resp := f.send(t, "u1", "This is a ripoff!")
	require.NotNil(t, resp.PriceModifier)
	assert.Equal(t, behavior.EffectIncrease, resp.PriceModifier.Type)
	assert.Equal(t, 5.0, resp.PriceModifier.Percentage)
	assert.True(t, f.llm.last.PenaltyActive)

	resp = f.send(t, "u1", "Sorry, thank you for your help")
	assert.Nil(t, resp.PriceModifier)

	resp = f.send(t, "u1", "Sorry, thank you for your help")
	require.NotNil(t, resp.PriceModifier)
	assert.Equal(t, behavior.EffectReset, resp.PriceModifier.Type)
	assert.False(t, f.sessions.Get("u1").PenaltyActive)

	assert.Equal(t, events.TypeHagglePenalty, (<-sub.C).Type)
	assert.Equal(t, events.TypeHaggleReset, (<-sub.C).Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HaggleEffects.WithLabelValues("increase")))
}

func TestPartialToolFailureDoesNotFailTurn(t *testing.T) {
	f := newFixture(t, 20)
	f.llm.text = "Added it, and here's a preview."
	f.llm.toolCalls = []provider.ToolCall{
		{ID: "1", Function: provider.FunctionCall{Name: "add_to_cart", Arguments: `{"product_id": 9}`}},
		{ID: "2", Function: provider.FunctionCall{Name: "generate_tryon", Arguments: `{"product_id": 9, "product_type": "coat"}`}},
	}

	resp := f.send(t, "u1", "add the coat and show me wearing it")
	require.Len(t, resp.ToolCalls, 2)
	assert.Equal(t, "add_to_cart", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"product_id": 9}`, string(resp.ToolCalls[0].Arguments))
	require.Len(t, resp.ToolResults, 2)
	assert.True(t, resp.ToolResults[0].Success)
	assert.False(t, resp.ToolResults[1].Success)
	assert.Equal(t, "gpu out of memory", resp.ToolResults[1].Error)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "groq", resp.ProviderUsed)
}

func TestDiscountToolUpdatesSessionState(t *testing.T) {
	f := newFixture(t, 20)
	f.llm.toolCalls = []provider.ToolCall{
		{Function: provider.FunctionCall{Name: "create_discount", Arguments: `{"percentage": 10}`}},
	}
	resp := f.send(t, "u1", "any deals?")
	require.Len(t, resp.ToolResults, 1)
	require.True(t, resp.ToolResults[0].Success)
	assert.True(t, resp.SessionState.HasActiveCode)
	assert.Equal(t, f.sessions.Get("u1").ActiveCode, resp.SessionState.ActiveCode)
	assert.NotEmpty(t, resp.Text)

	f.llm.toolCalls = []provider.ToolCall{
		{Function: provider.FunctionCall{Name: "create_discount", Arguments: `{"percentage": 90}`}},
	}
	first := resp.SessionState.ActiveCode
	resp = f.send(t, "u1", "how about 90% off?")
	assert.False(t, resp.ToolResults[0].Success)
	assert.Equal(t, first, resp.SessionState.ActiveCode)
}

func TestValidationChargesNothing(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.svc.HandleMessage(context.Background(), Message{Identity: " ", Text: "hi"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "identity", ve.Field)

	_, err = f.svc.HandleMessage(context.Background(), Message{Identity: "u1", Text: ""})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "text", ve.Field)

	assert.Equal(t, 0, f.llm.calls)
	f.send(t, "u1", "hello")
}

func TestRateLimitedTurnSkipsProvider(t *testing.T) {
	f := newFixture(t, 2)
	f.send(t, "u1", "one")
	f.send(t, "u1", "two")

	_, err := f.svc.HandleMessage(context.Background(), Message{Identity: "u1", Text: "three"})
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, ratelimit.ScopeIdentity, rl.Scope)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))
	assert.Equal(t, 2, f.llm.calls)

	// Rejected turns do not touch haggle state.
	_, err = f.svc.HandleMessage(context.Background(), Message{Identity: "u1", Text: "you idiot"})
	require.Error(t, err)
	assert.False(t, f.sessions.Get("u1").PenaltyActive)

	f.send(t, "u2", "hello")
}

func TestProviderExhaustionDegrades(t *testing.T) {
	f := newFixture(t, 20)
	f.llm.err = &provider.ExhaustedError{Attempts: 4, Last: errors.New("503")}
	sub := f.bus.Subscribe("u1")
	defer f.bus.Unsubscribe(sub)

	resp := f.send(t, "u1", "this is garbage")
	assert.Equal(t, ApologyText, resp.Text)
	assert.Equal(t, ErrorAIUnavailable, resp.Error)
	require.NotNil(t, resp.PriceModifier, "haggle runs before and independently of the model")
	assert.Empty(t, resp.ToolResults)

	assert.Equal(t, events.TypeHagglePenalty, (<-sub.C).Type)
	assert.Equal(t, events.TypeProviderExhausted, (<-sub.C).Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TurnsTotal.WithLabelValues("degraded")))
}

func TestMisconfiguredFailsBeforeAdmission(t *testing.T) {
	f := newFixture(t, 1)
	f.svc.deps.Ready = func() error { return provider.ErrNoProviders }

	for i := 0; i < 3; i++ {
		_, err := f.svc.HandleMessage(context.Background(), Message{Identity: "u1", Text: "hi"})
		assert.ErrorIs(t, err, provider.ErrNoProviders)
	}
	assert.Equal(t, 0, f.llm.calls)
	assert.True(t, f.governor.Admit("u1").Allowed)
}

// slowCompleter waits before its first upstream attempt, like a turn that
// spends time on search and profile lookups.
type slowCompleter struct {
	delay      time.Duration
	dispatches int32
}

func (s *slowCompleter) Complete(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	atomic.AddInt32(&s.dispatches, 1)
	req.OnDispatch()
	return &orchestrator.Result{Completion: &provider.Completion{Text: "ok", ProviderUsed: "groq"}}, nil
}

func TestConcurrentTurnsRespectIdentityCap(t *testing.T) {
	f := newFixture(t, 1)
	llm := &slowCompleter{delay: 50 * time.Millisecond}
	f.svc.deps.Orchestrator = llm

	var wg sync.WaitGroup
	var answered, limited int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.HandleMessage(context.Background(), Message{Identity: "u1", Text: "hi"})
			var rl *RateLimitError
			switch {
			case err == nil:
				atomic.AddInt32(&answered, 1)
			case errors.As(err, &rl):
				atomic.AddInt32(&limited, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), answered)
	assert.Equal(t, int32(4), limited)
	assert.Equal(t, int32(1), atomic.LoadInt32(&llm.dispatches))
	assert.Equal(t, 1, f.governor.Stats()["global_count"])
	assert.Equal(t, 0, f.governor.Stats()["global_pending"])
}

func TestCancelledTurnReturnsItsSlot(t *testing.T) {
	f := newFixture(t, 1)
	f.svc.deps.Orchestrator = &slowCompleter{delay: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.svc.HandleMessage(ctx, Message{Identity: "u1", Text: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.governor.Stats()["global_pending"])
	assert.Equal(t, 0, f.governor.Stats()["global_count"])

	f.svc.deps.Orchestrator = f.llm
	f.send(t, "u1", "hi again")
	assert.Equal(t, 1, f.llm.calls)
}

func TestRawArguments(t *testing.T) {
	assert.JSONEq(t, `{}`, string(rawArguments("")))
	assert.JSONEq(t, `{"a":1}`, string(rawArguments(`{"a":1}`)))
	assert.JSONEq(t, `"not json"`, string(rawArguments("not json")))
}
