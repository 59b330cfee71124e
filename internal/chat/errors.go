package chat

import (
	"fmt"
	"time"

	"github.com/shopkeeper/backend/internal/ratelimit"
)

// ValidationError rejects a message before any quota is charged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RateLimitError means the governor refused the turn; no provider was called.
type RateLimitError struct {
	Scope      ratelimit.Scope
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s), retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}
