// Package sdk is a Go client for the shopkeeper chat API.
//
//	client := sdk.NewClient(sdk.Config{BaseURL: "http://localhost:8080"})
//	conv := client.Conversation("shopper-42")
//	resp, err := conv.Send(ctx, "Do you have this jacket in navy?")
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// BaseURL of the shopkeeper service (required).
	BaseURL string
	// Timeout bounds each request. A chat turn may walk several providers,
	// so the default is generous (60s).
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Chat sends one message. Degraded turns (no provider answered) return a
// response with Error set, not a Go error.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var out ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateCoupon checks and redeems code for identity.
func (c *Client) ValidateCoupon(ctx context.Context, code, identity string) (*CouponValidation, error) {
	in := map[string]string{"code": code, "identity": identity}
	var out CouponValidation
	if err := c.do(ctx, http.MethodPost, "/api/v1/coupons/validate", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Session(ctx context.Context, identity string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(identity), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shopkeeper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		var rl struct {
			Scope string `json:"scope"`
		}
		json.NewDecoder(resp.Body).Decode(&rl)
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &RateLimitedError{Scope: rl.Scope, RetryAfter: time.Duration(secs) * time.Second}
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
