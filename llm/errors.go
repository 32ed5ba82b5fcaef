package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies gateway failures
type ErrorKind string

const (
	// KindValidation is a malformed request, rejected before any network call
	KindValidation ErrorKind = "validation"
	// KindTransport is a network or provider failure
	KindTransport ErrorKind = "transport"
	// KindParse is a successful call whose body could not be mapped
	KindParse ErrorKind = "parse"
)

// GatewayError is the error returned by the gateway and its providers
type GatewayError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Retryable  bool
	Message    string
	Raw        string // raw response body for parse failures
	Err        error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s error", e.Kind)
	if e.Provider != "" {
		msg = fmt.Sprintf("%s %s", e.Provider, msg)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a non-retryable validation error
func NewValidationError(message string) *GatewayError {
	return &GatewayError{Kind: KindValidation, Message: message}
}

// NewParseError creates a parse error carrying the raw response
func NewParseError(provider, raw string, err error) *GatewayError {
	return &GatewayError{Kind: KindParse, Provider: provider, Raw: raw, Err: err}
}

// NewStatusError creates a transport error from an HTTP status.
// 5xx and 429 are retryable, every other status is terminal.
func NewStatusError(provider string, statusCode int, message string) *GatewayError {
	return &GatewayError{
		Kind:       KindTransport,
		Provider:   provider,
		StatusCode: statusCode,
		Retryable:  IsRetryableStatus(statusCode),
		Message:    message,
	}
}

// NewTransportError wraps a network-level failure.
// Cancellation is terminal; timeouts and connection errors are retried.
func NewTransportError(provider string, err error) *GatewayError {
	return &GatewayError{
		Kind:      KindTransport,
		Provider:  provider,
		Retryable: !errors.Is(err, context.Canceled),
		Err:       err,
	}
}

// IsRetryableStatus reports whether an HTTP status warrants a retry
func IsRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// IsRetryable reports whether err is a retryable gateway error
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Retryable
}

// KindOf returns the error kind, or "" when err is not a gateway error
func KindOf(err error) ErrorKind {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}
