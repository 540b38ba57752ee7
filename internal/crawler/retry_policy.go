package crawler

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"
)

// RetryPolicy decides which fetch failures are retried and how long to wait between them.
type RetryPolicy struct {
	MaxAttempts int
	// Unit is the delay before the second attempt; it doubles per attempt.
	Unit     time.Duration
	MaxDelay time.Duration
}

// NewRetryPolicy builds a policy with the given attempt count, one-second unit and a 60s cap.
func NewRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Unit:        time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Attempts returns the configured attempt count, at least one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Retryable reports whether a response status or transport error warrants another attempt.
// Per-request timeouts are transient; caller cancellation is not.
func (p RetryPolicy) Retryable(status int, err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case 0:
		// No response at all: connection-level failure.
		return err != nil
	default:
		return false
	}
}

// Backoff returns the wait after the given zero-based attempt failed.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.Unit <= 0 || attempt < 0 {
		return 0
	}
	delay := float64(p.Unit) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
