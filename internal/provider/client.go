package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Message is one chat message in the OpenAI-compatible shape.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolSchema advertises one callable function to the model.
type ToolSchema struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

type FunctionSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is a structured action requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the raw JSON argument string exactly as the model sent it.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StatusError is returned for any non-2xx upstream response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Client performs a single chat completion against one descriptor.
type Client interface {
	Complete(ctx context.Context, d Descriptor, req ChatRequest) (*ChatResponse, error)
}

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient calls /chat/completions through openai-go, keeping one SDK
// client per descriptor. The SDK's own retries are disabled; RetryPolicy is
// the only retry loop.
type OpenAIClient struct {
	httpClient *http.Client

	mu      sync.Mutex
	clients map[Descriptor]chatCompletions
}

// NewOpenAIClient uses httpClient for every descriptor; nil keeps the SDK
// default. Attempt deadlines come from the request context.
func NewOpenAIClient(httpClient *http.Client) *OpenAIClient {
	return &OpenAIClient{
		httpClient: httpClient,
		clients:    make(map[Descriptor]chatCompletions),
	}
}

func (c *OpenAIClient) completions(d Descriptor) chatCompletions {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.clients[d]; ok {
		return cc
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(d.BaseURL, "/") + "/"),
		option.WithMaxRetries(0),
	}
	if d.APIKey != "" {
		opts = append(opts, option.WithAPIKey(d.APIKey))
	}
	if c.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(c.httpClient))
	}

	client := openai.NewClient(opts...)
	cc := &client.Chat.Completions
	c.clients[d] = cc
	return cc
}

func (c *OpenAIClient) Complete(ctx context.Context, d Descriptor, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = d.Model
	}

	params, err := buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", d.Name, err)
	}

	completion, err := c.completions(d).New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			body := apiErr.Message
			if body == "" {
				body = http.StatusText(apiErr.StatusCode)
			}
			return nil, &StatusError{Provider: d.Name, StatusCode: apiErr.StatusCode, Body: body, Err: err}
		}
		return nil, fmt.Errorf("request %s: %w", d.Name, err)
	}
	return convertCompletion(completion), nil
}

func buildParams(req ChatRequest) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)),
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		case "tool":
			params.Messages = append(params.Messages, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}

	for _, t := range req.Tools {
		var schema shared.FunctionParameters
		if len(t.Function.Parameters) > 0 {
			if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
				return params, fmt.Errorf("tool %s parameters: %w", t.Function.Name, err)
			}
		}
		tool := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       t.Function.Name,
				Parameters: schema,
			},
		}
		if t.Function.Description != "" {
			tool.Function.Description = openai.String(t.Function.Description)
		}
		params.Tools = append(params.Tools, tool)
	}

	if req.ToolChoice != "" {
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(req.ToolChoice)}
	}
	if req.Temperature != 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	return params, nil
}

func convertCompletion(completion *openai.ChatCompletion) *ChatResponse {
	out := &ChatResponse{
		ID:    completion.ID,
		Model: completion.Model,
		Usage: Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, ch := range completion.Choices {
		msg := Message{Role: "assistant", Content: ch.Message.Content}
		for _, tc := range ch.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out.Choices = append(out.Choices, Choice{
			Index:        int(ch.Index),
			Message:      msg,
			FinishReason: string(ch.FinishReason),
		})
	}
	return out
}
