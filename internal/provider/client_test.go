package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClientMapsAPIErrors(t *testing.T) {
	cases := []struct {
		status int
		class  FailureClass
	}{
		{http.StatusTooManyRequests, FailureRetryable},
		{http.StatusBadGateway, FailureRetryable},
		{http.StatusForbidden, FailureAuth},
		{http.StatusBadRequest, FailureOther},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			var hits int32
			srv := statusServer(t, tc.status, &hits)

			_, err := NewOpenAIClient(nil).Complete(context.Background(),
				Descriptor{Name: "A", BaseURL: srv.URL, APIKey: "k", Model: "m"}, ChatRequest{
					Messages: []Message{{Role: "user", Content: "hi"}},
				})
			require.Error(t, err)

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "A", se.Provider)
			assert.Equal(t, tc.status, se.StatusCode)
			assert.Equal(t, tc.class, Classify(err))
			// The SDK must not retry on its own.
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
		})
	}
}

func TestOpenAIClientSendsToolsAndParsesCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama-3.3-70b-versatile", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)
		require.Len(t, req.Tools, 1)
		assert.Equal(t, "create_discount", req.Tools[0].Function.Name)
		assert.JSONEq(t, `{"type":"object","properties":{"percentage":{"type":"integer"}}}`, string(req.Tools[0].Function.Parameters))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-9",
			"object": "chat.completion",
			"model": "llama-3.3-70b-versatile",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "create_discount", "arguments": "{\"percentage\":10}"}}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer srv.Close()

	d := Descriptor{Name: "groq", BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "llama-3.3-70b-versatile"}
	resp, err := NewOpenAIClient(srv.Client()).Complete(context.Background(), d, ChatRequest{
		Messages: []Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "discount please"}},
		Tools: []ToolSchema{{
			Type: "function",
			Function: FunctionSchema{
				Name:       "create_discount",
				Parameters: json.RawMessage(`{"type":"object","properties":{"percentage":{"type":"integer"}}}`),
			},
		}},
		ToolChoice: "auto",
	})
	require.NoError(t, err)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
	calls := resp.Choices[0].Message.ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "create_discount", calls[0].Function.Name)
	assert.JSONEq(t, `{"percentage":10}`, calls[0].Function.Arguments)
	assert.Equal(t, 19, resp.Usage.TotalTokens)
}
