package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/phrazzld/scry-tasks/internal/router"
)

// Kind is the explicit retry classification of a gateway failure.
type Kind int

// Failure kinds
const (
	// Transient failures are retried with backoff until attempts run out.
	Transient Kind = iota
	// Terminal failures are never retried.
	Terminal
	// MalformedOutput means the backend answered but never in the expected shape.
	MalformedOutput
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Terminal:
		return "terminal"
	case MalformedOutput:
		return "malformed_output"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Failure codes, stable for logs and metrics.
const (
	CodeTimeout           = "timeout"
	CodeRateLimited       = "rate_limited"
	CodeServerError       = "server_error"
	CodeNetwork           = "network"
	CodeCancelled         = "cancelled"
	CodeInvalidRequest    = "invalid_request"
	CodeAuth              = "auth"
	CodeContentPolicy     = "content_policy"
	CodeMalformedOutput   = "malformed_output"
	CodeAttemptsExhausted = "attempts_exhausted"
	CodeUnsupported       = "unsupported_backend"
)

// Error is the only error type Generate returns.
type Error struct {
	Kind     Kind
	Code     string
	Backend  router.Backend
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("gateway %s failure (%s) from %s after %d attempt(s)", e.Kind, e.Code, e.Backend, e.Attempts)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransientError classifies err as retryable.
func NewTransientError(code string, err error) *Error {
	return &Error{Kind: Transient, Code: code, Err: err}
}

// NewTerminalError classifies err as not retryable.
func NewTerminalError(code string, err error) *Error {
	return &Error{Kind: Terminal, Code: code, Err: err}
}

// AsError extracts a gateway error from err.
func AsError(err error) (*Error, bool) {
	var gErr *Error
	if errors.As(err, &gErr) {
		return gErr, true
	}
	return nil, false
}

// ClassifyHTTPStatus maps a provider HTTP status onto a kind and code.
func ClassifyHTTPStatus(status int, err error) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return NewTransientError(CodeRateLimited, err)
	case status == http.StatusRequestTimeout:
		return NewTransientError(CodeTimeout, err)
	case status >= http.StatusInternalServerError:
		return NewTransientError(CodeServerError, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewTerminalError(CodeAuth, err)
	case status >= http.StatusBadRequest:
		return NewTerminalError(CodeInvalidRequest, err)
	default:
		return NewTransientError(CodeServerError, err)
	}
}

// ClassifyTransportError handles failures that never produced a provider
// status: deadlines, cancellation, and network errors. Anything else is
// treated as transient since the request may not have reached the backend.
func ClassifyTransportError(err error) *Error {
	if gErr, ok := AsError(err); ok {
		return gErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewTransientError(CodeTimeout, err)
	case errors.Is(err, context.Canceled):
		return NewTransientError(CodeCancelled, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewTransientError(CodeTimeout, err)
		}
		return NewTransientError(CodeNetwork, err)
	}
	return NewTransientError(CodeNetwork, err)
}
