package crawl

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FetchError reports a failed page retrieval. Transient errors (timeouts,
// connection resets, 429/5xx) are worth retrying sooner; permanent ones
// (404, removed content) still retry up to the same ceiling because the
// crawler cannot distinguish a removed page from a misrendered one.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError classifies err and wraps it. Timeouts and temporary network
// failures are marked transient.
func NewFetchError(url string, statusCode int, err error) *FetchError {
	transient := statusCode == 429 || statusCode >= 500
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		transient = true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		transient = true
	}
	return &FetchError{URL: url, StatusCode: statusCode, Transient: transient, Err: err}
}

// ParseError reports page content that did not match structural expectations.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StoreError reports a persistence failure. Always retryable: parsing is
// repeated on retry, which is acceptable because storage is idempotent.
type StoreError struct {
	Entity string
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Entity, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsTransientFetch reports whether err is a fetch error flagged transient.
func IsTransientFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}
