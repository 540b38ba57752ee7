package crawler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Backoff_DoublesAndCaps(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(10)
	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 4*time.Second, p.Backoff(2))
	require.Equal(t, 32*time.Second, p.Backoff(5))
	require.Equal(t, 60*time.Second, p.Backoff(6))
	require.Equal(t, 60*time.Second, p.Backoff(30))
}

func TestRetryPolicy_Backoff_ZeroUnit(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3}
	require.Zero(t, p.Backoff(4))
}

func TestRetryPolicy_Retryable(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3)
	connErr := errors.New("connection refused")

	cases := []struct {
		name   string
		status int
		err    error
		want   bool
	}{
		{"too many requests", http.StatusTooManyRequests, connErr, true},
		{"internal error", http.StatusInternalServerError, connErr, true},
		{"bad gateway", http.StatusBadGateway, connErr, true},
		{"unavailable", http.StatusServiceUnavailable, connErr, true},
		{"gateway timeout", http.StatusGatewayTimeout, connErr, true},
		{"connection error", 0, connErr, true},
		{"not found", http.StatusNotFound, connErr, false},
		{"forbidden", http.StatusForbidden, connErr, false},
		{"canceled", 0, context.Canceled, false},
		{"request timeout", 0, context.DeadlineExceeded, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, p.Retryable(tc.status, tc.err))
		})
	}
}

func TestRetryPolicy_Attempts_AtLeastOne(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, RetryPolicy{}.Attempts())
	require.Equal(t, 4, RetryPolicy{MaxAttempts: 4}.Attempts())
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

func TestErrors_Matching(t *testing.T) {
	t.Parallel()

	inner := errors.New("boom")
	var err error = &RetryExhaustedError{Target: "https://example.com", Attempts: 3, Err: inner}
	require.ErrorIs(t, err, ErrRetryExhausted)
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "3 attempts")

	apiErr := errors.New("api down")
	storeErr := errors.New("db down")
	err = &PersistenceError{Records: 2, APIErr: apiErr, StoreErr: storeErr}
	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, apiErr)
	require.ErrorIs(t, err, storeErr)
}

func TestDedupKey_Format(t *testing.T) {
	t.Parallel()

	require.Equal(t, "crawler:duplicate:51job:123", DedupKey("51job", "123"))
	rec := NormalizedRecord{Source: "51job", SourceExternalID: "9"}
	require.Equal(t, "crawler:duplicate:51job:9", rec.DedupKey())
}
