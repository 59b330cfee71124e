// Package chat runs one shopper turn end to end: admission, haggle state,
// grounded completion and tool dispatch.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shopkeeper/backend/internal/behavior"
	"github.com/shopkeeper/backend/internal/events"
	"github.com/shopkeeper/backend/internal/metrics"
	"github.com/shopkeeper/backend/internal/orchestrator"
	"github.com/shopkeeper/backend/internal/provider"
	"github.com/shopkeeper/backend/internal/ratelimit"
	"github.com/shopkeeper/backend/internal/session"
	"github.com/shopkeeper/backend/internal/tools"
)

// ApologyText is returned when no provider could answer.
const ApologyText = "Sorry, I'm having trouble thinking right now. Please try again in a moment."

// ErrorAIUnavailable marks a degraded turn in Response.Error.
const ErrorAIUnavailable = "ai_unavailable"

const maxTextLength = 4000

// Message is the inbound request.
type Message struct {
	Identity string                     `json:"identity"`
	Text     string                     `json:"text"`
	History  []orchestrator.HistoryTurn `json:"history,omitempty"`
}

type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type SessionState struct {
	HasActiveCode bool   `json:"hasActiveCode"`
	ActiveCode    string `json:"activeCode,omitempty"`
}

// Response is the outbound reply. A degraded turn still carries Text.
type Response struct {
	TurnID        string           `json:"turnId"`
	Text          string           `json:"text"`
	ToolCalls     []ToolCall       `json:"toolCalls"`
	ToolResults   []tools.Result   `json:"toolResults"`
	PriceModifier *behavior.Effect `json:"priceModifier,omitempty"`
	SessionState  SessionState     `json:"sessionState"`
	ProviderUsed  string           `json:"providerUsed,omitempty"`
	RateLimited   bool             `json:"rateLimited,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// Completer is satisfied by *orchestrator.Orchestrator.
type Completer interface {
	Complete(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Dispatcher is satisfied by *tools.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, identity string, calls []provider.ToolCall) []tools.Result
}

type Deps struct {
	Governor     *ratelimit.Governor
	Sessions     session.Store
	Haggler      *behavior.Haggler
	Orchestrator Completer
	Tools        Dispatcher
	// Ready reports a configuration error, such as an empty provider list,
	// that must fail the turn before it is admitted.
	Ready   func() error
	Events  events.Emitter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Service struct {
	deps   Deps
	logger *slog.Logger
}

func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Haggler == nil {
		deps.Haggler = behavior.NewHaggler(behavior.DefaultPenaltyPercent)
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore()
	}
	return &Service{deps: deps, logger: deps.Logger}
}

// HandleMessage processes one turn. It returns an error only for validation,
// rate limiting, configuration problems or caller cancellation; provider and
// tool failures are folded into the Response.
func (s *Service) HandleMessage(ctx context.Context, msg Message) (*Response, error) {
	start := time.Now()
	outcome := "ok"
	defer func() { s.deps.Metrics.ObserveTurn(outcome, time.Since(start)) }()

	identity := strings.TrimSpace(msg.Identity)
	if err := validate(identity, msg.Text); err != nil {
		outcome = "invalid"
		return nil, err
	}

	if s.deps.Ready != nil {
		if err := s.deps.Ready(); err != nil {
			outcome = "misconfigured"
			s.logger.Error("[Chat] refusing turn", "identity", identity, "error", err)
			return nil, err
		}
	}

	turnID := uuid.NewString()
	log := s.logger.With("identity", identity, "turn_id", turnID)

	// The admitted slot is charged when the first upstream attempt goes out
	// and handed back if the turn ends before that.
	var dispatched atomic.Bool
	if s.deps.Governor != nil {
		if d := s.deps.Governor.Admit(identity); !d.Allowed {
			outcome = "rate_limited"
			s.deps.Metrics.RateLimited(string(d.Scope))
			return nil, &RateLimitError{Scope: d.Scope, RetryAfter: d.RetryAfter}
		}
		defer func() {
			if !dispatched.Load() {
				s.deps.Governor.Release(identity)
			}
		}()
	}

	sentiment := behavior.Classify(msg.Text)
	var effect *behavior.Effect
	state := s.deps.Sessions.Update(identity, func(sess *behavior.Session) {
		effect = s.deps.Haggler.Apply(sess, sentiment)
	})
	if effect != nil {
		s.recordEffect(identity, effect)
		log.Info("[Chat] haggle effect", "effect", effect.Type, "percentage", effect.Percentage)
	}

	resp := &Response{
		TurnID:        turnID,
		ToolCalls:     []ToolCall{},
		ToolResults:   []tools.Result{},
		PriceModifier: effect,
	}

	result, err := s.deps.Orchestrator.Complete(ctx, orchestrator.Request{
		Identity:      identity,
		Text:          msg.Text,
		History:       msg.History,
		PenaltyActive: state.PenaltyActive,
		ActiveCode:    state.ActiveCode,
		OnDispatch: func() {
			if s.deps.Governor == nil || !dispatched.CompareAndSwap(false, true) {
				return
			}
			if !s.deps.Governor.Record(identity) {
				log.Warn("[Chat] rate bucket already full at dispatch")
			}
		},
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		outcome = "cancelled"
		return nil, ctx.Err()
	case errors.Is(err, provider.ErrNoProviders):
		outcome = "misconfigured"
		return nil, err
	default:
		outcome = "degraded"
		log.Error("[Chat] all providers failed, sending apology", "error", err)
		if s.deps.Events != nil {
			s.deps.Events.Emit(events.TypeProviderExhausted, "/chat", identity, map[string]interface{}{
				"turn_id": turnID,
				"error":   err.Error(),
			})
		}
		resp.Text = ApologyText
		resp.Error = ErrorAIUnavailable
		resp.SessionState = sessionState(s.deps.Sessions.Get(identity))
		return resp, nil
	}

	resp.Text = result.Text
	resp.ProviderUsed = result.ProviderUsed
	for _, c := range result.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{Name: c.Function.Name, Arguments: rawArguments(c.Function.Arguments)})
	}
	if len(result.ToolCalls) > 0 && s.deps.Tools != nil {
		resp.ToolResults = s.deps.Tools.Dispatch(ctx, identity, result.ToolCalls)
	}
	if strings.TrimSpace(resp.Text) == "" && len(resp.ToolResults) > 0 {
		resp.Text = summarize(resp.ToolResults)
	}

	resp.SessionState = sessionState(s.deps.Sessions.Get(identity))
	log.Info("[Chat] turn complete",
		"provider", result.ProviderUsed, "attempts", result.Attempts,
		"tool_calls", len(resp.ToolCalls), "elapsed_ms", time.Since(start).Milliseconds())
	return resp, nil
}

func validate(identity, text string) error {
	if identity == "" {
		return &ValidationError{Field: "identity", Reason: "is required"}
	}
	if strings.TrimSpace(text) == "" {
		return &ValidationError{Field: "text", Reason: "is required"}
	}
	if len(text) > maxTextLength {
		return &ValidationError{Field: "text", Reason: "is too long"}
	}
	return nil
}

func (s *Service) recordEffect(identity string, effect *behavior.Effect) {
	s.deps.Metrics.HaggleEffect(string(effect.Type))
	if s.deps.Events == nil {
		return
	}
	eventType := events.TypeHagglePenalty
	if effect.Type == behavior.EffectReset {
		eventType = events.TypeHaggleReset
	}
	s.deps.Events.Emit(eventType, "/chat", identity, map[string]interface{}{
		"percentage": effect.Percentage,
		"message":    effect.Message,
	})
}

func sessionState(sess behavior.Session) SessionState {
	return SessionState{HasActiveCode: sess.ActiveCode != "", ActiveCode: sess.ActiveCode}
}

// rawArguments passes valid JSON through and quotes anything else.
func rawArguments(args string) json.RawMessage {
	if strings.TrimSpace(args) == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	quoted, _ := json.Marshal(args)
	return quoted
}

// summarize gives tool-only completions a readable reply.
func summarize(results []tools.Result) string {
	ok, failed := 0, 0
	for _, r := range results {
		switch {
		case r.Success:
			ok++
		case !r.Ignored:
			failed++
		}
	}
	switch {
	case failed == 0 && ok > 0:
		return "Done! Let me know if there's anything else I can help with."
	case ok == 0 && failed > 0:
		return "Sorry, I couldn't complete that just now."
	case ok > 0:
		return "I finished part of that, but something went wrong with the rest."
	default:
		return "How else can I help?"
	}
}
