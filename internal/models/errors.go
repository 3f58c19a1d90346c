package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures across the aggregation layer.
type ErrorKind string

const (
	ErrorKindValidation          ErrorKind = "validation"
	ErrorKindRateLimited         ErrorKind = "rate_limited"
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindCancelled           ErrorKind = "cancelled"
	ErrorKindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrorKindNoFallback          ErrorKind = "no_fallback_available"
)

// FetchError carries an ErrorKind together with the underlying cause.
type FetchError struct {
	Kind     ErrorKind
	Message  string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempt(s)", msg, e.Attempts)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError is a shorthand for &FetchError{Kind: kind, Message: message, Err: cause}.
func NewFetchError(kind ErrorKind, message string, cause error) *FetchError {
	return &FetchError{Kind: kind, Message: message, Err: cause}
}

// KindOf classifies err. Unknown errors count as upstream unavailability.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	default:
		return ErrorKindUpstreamUnavailable
	}
}
