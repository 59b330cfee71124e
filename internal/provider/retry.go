package provider

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// FailureClass buckets an upstream error for the fallback loop.
type FailureClass int

const (
	FailureOther     FailureClass = iota // move on without retrying
	FailureRetryable                     // 429 or 5xx
	FailureAuth                          // 401 or 403, provider is misconfigured
)

func (c FailureClass) String() string {
	switch c {
	case FailureRetryable:
		return "retryable"
	case FailureAuth:
		return "auth"
	default:
		return "error"
	}
}

// Classify maps an error onto a FailureClass.
func Classify(err error) FailureClass {
	var se *StatusError
	if !errors.As(err, &se) {
		return FailureOther
	}
	switch {
	case se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500:
		return FailureRetryable
	case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
		return FailureAuth
	default:
		return FailureOther
	}
}

// IsRetryable reports whether err is a rate-limit or server error.
func IsRetryable(err error) bool {
	return Classify(err) == FailureRetryable
}

// RetryPolicy is a reusable attempt/backoff envelope for any upstream call.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// Retryable decides whether a failure earns another attempt.
	Retryable func(error) bool
}

// DefaultRetryPolicy allows two attempts with 1s then 2s backoff on 429/5xx.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     BackoffSchedule(time.Second, 2*time.Second),
		Retryable:   IsRetryable,
	}
}

// BackoffSchedule returns fixed steps; attempts past the end reuse the last step.
func BackoffSchedule(steps ...time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if len(steps) == 0 || attempt < 1 {
			return 0
		}
		if attempt > len(steps) {
			return steps[len(steps)-1]
		}
		return steps[attempt-1]
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or runs out
// of attempts. Every retryable failure is followed by its backoff, including
// the last one, so a caller moving on to another upstream does so after the
// cool-off. Waits end early when ctx is cancelled.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}

		attempts++
		err := fn(ctx, attempt)
		if err == nil {
			return attempts, nil
		}
		lastErr = err

		if !retryable(err) {
			return attempts, err
		}
		if p.Backoff != nil {
			if err := sleep(ctx, p.Backoff(attempt)); err != nil {
				return attempts, err
			}
		}
	}
	return attempts, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
