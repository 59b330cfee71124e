package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopkeeper/backend/internal/circuitbreaker"
)

// jsonClient posts JSON to one collaborator behind an optional breaker.
type jsonClient struct {
	service string
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func newJSONClient(service, baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker) jsonClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return jsonClient{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// post sends in to path and decodes the 2xx body into out. Transport
// failures, 5xx and an open breaker all wrap ErrUnavailable; a 4xx is a
// RejectedError and does not count against the breaker.
func (c jsonClient) post(ctx context.Context, path string, in, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("%s: no endpoint configured: %w", c.service, ErrUnavailable)
	}

	var rejected *RejectedError
	call := func(ctx context.Context) error {
		err := c.do(ctx, path, in, out)
		if errors.As(err, &rejected) {
			return nil
		}
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if rejected != nil {
		return rejected
	}
	if err != nil {
		return fmt.Errorf("%s: %v: %w", c.service, err, ErrUnavailable)
	}
	return nil
}

func (c jsonClient) do(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if resp.StatusCode >= 400 {
		return &RejectedError{Service: c.service, StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage pulls {"error": "..."} or {"detail": "..."} out of a body.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 2048))
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}
