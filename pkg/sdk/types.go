package sdk

import (
	"encoding/json"
	"fmt"
	"time"
)

// Turn is one prior message in a conversation.
type Turn struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

type ChatRequest struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
	History  []Turn `json:"history,omitempty"`
}

type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ToolResult struct {
	Tool    string          `json:"tool"`
	CallID  string          `json:"callId,omitempty"`
	Success bool            `json:"success"`
	Ignored bool            `json:"ignored,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// PriceModifier is the surcharge signal raised or lifted by the shop.
type PriceModifier struct {
	Type       string  `json:"type"` // increase or reset
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message"`
}

type SessionState struct {
	HasActiveCode bool   `json:"hasActiveCode"`
	ActiveCode    string `json:"activeCode,omitempty"`
}

type ChatResponse struct {
	TurnID        string         `json:"turnId"`
	Text          string         `json:"text"`
	ToolCalls     []ToolCall     `json:"toolCalls"`
	ToolResults   []ToolResult   `json:"toolResults"`
	PriceModifier *PriceModifier `json:"priceModifier,omitempty"`
	SessionState  SessionState   `json:"sessionState"`
	ProviderUsed  string         `json:"providerUsed,omitempty"`
	// Error is set on degraded turns, e.g. "ai_unavailable".
	Error string `json:"error,omitempty"`
}

type CouponValidation struct {
	Valid      bool   `json:"valid"`
	Percentage int    `json:"percentage,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Session struct {
	Identity      string `json:"identity"`
	HasActiveCode bool   `json:"hasActiveCode"`
	ActiveCode    string `json:"activeCode"`
	PenaltyActive bool   `json:"penaltyActive"`
	PoliteCount   int    `json:"politeCount"`
}

// RateLimitedError is returned for HTTP 429.
type RateLimitedError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("shopkeeper: rate limited (%s), retry after %s", e.Scope, e.RetryAfter)
}

// APIError is any other non-2xx answer.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shopkeeper: HTTP %d: %s", e.StatusCode, e.Message)
}
