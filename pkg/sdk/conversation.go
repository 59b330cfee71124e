package sdk

import (
	"context"
	"sync"
)

// MaxHistory matches the number of prior turns the server reads.
const MaxHistory = 10

// Conversation keeps the rolling history for one shopper.
type Conversation struct {
	client   *Client
	identity string

	mu      sync.Mutex
	history []Turn
}

func (c *Client) Conversation(identity string) *Conversation {
	return &Conversation{client: c, identity: identity}
}

// Send posts text with the current history and, on success, appends both
// sides of the exchange.
func (cv *Conversation) Send(ctx context.Context, text string) (*ChatResponse, error) {
	cv.mu.Lock()
	history := append([]Turn(nil), cv.history...)
	cv.mu.Unlock()

	resp, err := cv.client.Chat(ctx, ChatRequest{Identity: cv.identity, Text: text, History: history})
	if err != nil {
		return nil, err
	}

	cv.mu.Lock()
	cv.history = append(cv.history, Turn{Role: "user", Content: text})
	if resp.Text != "" {
		cv.history = append(cv.history, Turn{Role: "assistant", Content: resp.Text})
	}
	if len(cv.history) > MaxHistory {
		cv.history = cv.history[len(cv.history)-MaxHistory:]
	}
	cv.mu.Unlock()
	return resp, nil
}

func (cv *Conversation) History() []Turn {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return append([]Turn(nil), cv.history...)
}
