package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a failure. The values double as the gateway wire error codes.
type Kind string

const (
	KindNetwork          Kind = "network_error"
	KindAPI              Kind = "api_error"
	KindAuth             Kind = "auth_error"
	KindTransform        Kind = "transform_error"
	KindStream           Kind = "stream_error"
	KindConfig           Kind = "config_error"
	KindProviderNotFound Kind = "provider_not_found"
	KindRateLimited      Kind = "rate_limited"
	KindCancelled        Kind = "cancelled"
	KindBus              Kind = "bus_error"
	KindInternal         Kind = "internal_error"
)

// GatewayError is the base error type for all application errors
type GatewayError struct {
	Kind     Kind          // Taxonomy bucket
	Message  string        // Human-readable error message
	Context  *ErrorContext // Rich error context
	Cause    error         // Underlying error (for wrapping)
	ExitCode ExitCode      // Exit code for CLI
}

// Error returns the error message with cause if present
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// ErrorKind returns the taxonomy bucket. Promoted through every typed wrapper.
func (e *GatewayError) ErrorKind() Kind {
	return e.Kind
}

// GetUserMessage returns a user-friendly error message with context
func (e *GatewayError) GetUserMessage() string {
	msg := fmt.Sprintf("ERROR: %s", e.Message)

	if e.Cause != nil {
		msg += fmt.Sprintf("\nCause: %v", e.Cause)
	}

	if e.Context != nil {
		msg += e.Context.Format()
	}

	return msg
}

// NewError creates a new GatewayError with the given kind and message
func NewError(kind Kind, message string, exitCode ExitCode) *GatewayError {
	return &GatewayError{
		Kind:     kind,
		Message:  message,
		ExitCode: exitCode,
	}
}

// WrapError wraps an existing error with additional context
func WrapError(cause error, kind Kind, message string, exitCode ExitCode) *GatewayError {
	return &GatewayError{
		Kind:     kind,
		Message:  message,
		Cause:    cause,
		ExitCode: exitCode,
	}
}

type kinded interface {
	ErrorKind() Kind
}

// KindOf returns the taxonomy bucket of err, looking through wrapping.
// Context cancellation maps to KindCancelled and unknown errors to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if stderrors.As(err, &k) {
		return k.ErrorKind()
	}
	if stderrors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindInternal
}

// WireCode returns the code sent to clients in error events
func WireCode(err error) string {
	return string(KindOf(err))
}

// IsRetryable reports whether the caller may resubmit the same request
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimited:
		return true
	}
	return false
}

// ErrorContext provides rich error information for user-friendly error messages
type ErrorContext struct {
	Operation   string                 // The operation that failed
	Component   string                 // The component that failed
	Details     map[string]interface{} // Additional details about the error
	Suggestions []string               // Actionable suggestions for the user
	Recoverable bool                   // Whether the error is recoverable
}

// Format returns a formatted string representation of the error context
func (ec *ErrorContext) Format() string {
	var sb strings.Builder

	switch {
	case ec.Operation != "" && ec.Component != "":
		sb.WriteString(fmt.Sprintf("\nWhat happened:\n  %s failed in %s.\n", ec.Operation, ec.Component))
	case ec.Operation != "":
		sb.WriteString(fmt.Sprintf("\nWhat happened:\n  %s failed.\n", ec.Operation))
	case ec.Component != "":
		sb.WriteString(fmt.Sprintf("\nWhat happened:\n  Failure in %s.\n", ec.Component))
	}

	if len(ec.Details) > 0 {
		sb.WriteString("\nDetails:\n")
		for key, value := range ec.Details {
			sb.WriteString(fmt.Sprintf("  - %s: %v\n", key, value))
		}
	}

	if len(ec.Suggestions) > 0 {
		sb.WriteString("\nWhat you can do:\n")
		for i, suggestion := range ec.Suggestions {
			sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion))
		}
	}

	if ec.Recoverable {
		sb.WriteString("\nRecoverable: Yes\n")
	}

	return sb.String()
}
