package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopkeeper/backend/internal/metrics"
)

var (
	ErrNoProviders        = errors.New("no language-model providers configured")
	ErrProvidersExhausted = errors.New("all language-model providers failed")
	ErrEmptyResponse      = errors.New("provider returned no choices")
)

// ExhaustedError wraps the last upstream failure once every descriptor failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrProvidersExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrProvidersExhausted, e.Last}
}

// CompletionRequest is built fresh per turn and never persisted.
type CompletionRequest struct {
	Messages []Message
	Tools    []ToolSchema
	// OnDispatch runs once, right before the first upstream attempt.
	OnDispatch func()
}

// Completion is the winning provider's answer.
type Completion struct {
	Text         string
	ToolCalls    []ToolCall
	ProviderUsed string
	Model        string
	Attempts     int
	Elapsed      time.Duration
}

type ExecutorOptions struct {
	Policy         RetryPolicy
	AttemptTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Executor walks the registry in order until one provider answers.
// Providers are never raced, so cost and failure attribution stay deterministic.
type Executor struct {
	registry       *Registry
	client         Client
	policy         RetryPolicy
	attemptTimeout time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

func NewExecutor(registry *Registry, client Client, opts ExecutorOptions) *Executor {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		registry:       registry,
		client:         client,
		policy:         opts.Policy,
		attemptTimeout: opts.AttemptTimeout,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
}

// Ready reports a configuration error when there is nothing to call.
func (e *Executor) Ready() error {
	if e.registry.Len() == 0 {
		return ErrNoProviders
	}
	return nil
}

func (e *Executor) Execute(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := e.Ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	dispatched := false
	total := 0
	var lastErr error

	for _, d := range e.registry.Descriptors() {
		var resp *ChatResponse
		attempts, err := e.policy.Do(ctx, func(ctx context.Context, attempt int) error {
			if !dispatched {
				dispatched = true
				if req.OnDispatch != nil {
					req.OnDispatch()
				}
			}
			r, err := e.attempt(ctx, d, req)
			if err != nil {
				e.logger.Warn("[Fallback] provider attempt failed",
					"provider", d.Name, "model", d.Model, "attempt", attempt,
					"class", Classify(err).String(), "error", err)
				return err
			}
			resp = r
			return nil
		})
		total += attempts

		if err == nil {
			choice := resp.Choices[0]
			model := resp.Model
			if model == "" {
				model = d.Model
			}
			e.logger.Info("[Fallback] provider answered",
				"provider", d.Name, "model", model, "attempts", total,
				"tool_calls", len(choice.Message.ToolCalls))
			return &Completion{
				Text:         choice.Message.Content,
				ToolCalls:    choice.Message.ToolCalls,
				ProviderUsed: d.Name,
				Model:        model,
				Attempts:     total,
				Elapsed:      time.Since(start),
			}, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		if Classify(err) == FailureAuth {
			e.logger.Error("[Fallback] provider rejected credentials, skipping", "provider", d.Name, "error", err)
		}
	}

	return nil, &ExhaustedError{Attempts: total, Last: lastErr}
}

// attempt bounds one upstream call so a hung provider cannot stall the chain.
func (e *Executor) attempt(ctx context.Context, d Descriptor, req CompletionRequest) (*ChatResponse, error) {
	actx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
	defer cancel()

	chatReq := ChatRequest{
		Model:    d.Model,
		Messages: req.Messages,
		Tools:    req.Tools,
	}
	if len(req.Tools) > 0 {
		chatReq.ToolChoice = "auto"
	}

	started := time.Now()
	resp, err := e.client.Complete(actx, d, chatReq)
	if err == nil && (resp == nil || len(resp.Choices) == 0) {
		err = fmt.Errorf("%s: %w", d.Name, ErrEmptyResponse)
	}

	result := "success"
	if err != nil {
		result = Classify(err).String()
	}
	e.metrics.ObserveProviderAttempt(d.Name, result, time.Since(started))
	return resp, err
}
