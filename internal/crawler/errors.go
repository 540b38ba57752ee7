package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRetryExhausted matches any *RetryExhaustedError.
	ErrRetryExhausted = errors.New("retry exhausted")
	// ErrParseFailure marks a single item whose fields could not be extracted.
	ErrParseFailure = errors.New("parse failure")
	// ErrIdentityExhausted is returned when the pool has no active identity.
	ErrIdentityExhausted = errors.New("no active identity available")
	// ErrPersistence matches any *PersistenceError.
	ErrPersistence = errors.New("persistence failure")
	// ErrDuplicateExtractor is returned when an extractor name is registered twice.
	ErrDuplicateExtractor = errors.New("extractor already registered")
)

// RetryExhaustedError is returned by the fetch primitive after its last attempt fails.
type RetryExhaustedError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("fetch %s: gave up after %d attempts: %v", e.Target, e.Attempts, e.Err)
}

// Unwrap exposes the last attempt's error.
func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRetryExhausted) match.
func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// StatusError reports an HTTP status that is not worth retrying.
type StatusError struct {
	Target     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d %s", e.Target, e.StatusCode, http.StatusText(e.StatusCode))
}

// PersistenceError is returned when neither the ingestion API nor direct storage
// accepted a batch.
type PersistenceError struct {
	Records  int
	APIErr   error
	StoreErr error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %d records: api: %v; direct: %v", e.Records, e.APIErr, e.StoreErr)
}

// Unwrap exposes both underlying failures.
func (e *PersistenceError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.APIErr != nil {
		out = append(out, e.APIErr)
	}
	if e.StoreErr != nil {
		out = append(out, e.StoreErr)
	}
	return out
}

// Is lets errors.Is(err, ErrPersistence) match.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
