package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind is a tagged classification of fetch and parse failures. The retry
// policy is a pure function of this tag.
type ErrorKind string

// Error kinds, from most to least retryable.
const (
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindConnection  ErrorKind = "connection"
	ErrKindServerError ErrorKind = "http_5xx"
	ErrKindRateLimited ErrorKind = "http_429"
	ErrKindClientError ErrorKind = "http_4xx"
	ErrKindParse       ErrorKind = "parse"
	ErrKindCanceled    ErrorKind = "canceled"
)

// Retryable reports whether the kind may be re-attempted at all.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindTimeout, ErrKindConnection, ErrKindServerError, ErrKindRateLimited:
		return true
	default:
		return false
	}
}

// FetchError carries a classified failure for a single fetch attempt.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError builds a FetchError with an explicit kind.
func NewFetchError(kind ErrorKind, url string, status int, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, StatusCode: status, Err: err}
}

// ClassifyStatus maps an HTTP status code to an error kind, or "" when the
// status is not an error.
func ClassifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrKindRateLimited
	case status >= 500:
		return ErrKindServerError
	case status == http.StatusRequestTimeout:
		return ErrKindTimeout
	case status >= 400:
		return ErrKindClientError
	default:
		return ""
	}
}

// ClassifyError maps a transport-level error to an error kind.
func ClassifyError(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ErrKindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTimeout
	}
	return ErrKindConnection
}

// KindOf extracts the ErrorKind from err, defaulting to connection for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ClassifyError(err)
}
