package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Is and As forward to the standard library so callers need only one errors import
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// NetworkError is raised when the transport to a provider fails. Safe to retry.
type NetworkError struct {
	*GatewayError
}

// NewNetworkError creates a new network error
func NewNetworkError(provider string, cause error) *NetworkError {
	return &NetworkError{
		GatewayError: &GatewayError{
			Kind:    KindNetwork,
			Message: fmt.Sprintf("failed to reach provider %s", provider),
			Cause:   cause,
			Context: &ErrorContext{
				Operation: "LLM API Call",
				Component: "Provider",
				Details: map[string]interface{}{
					"provider": provider,
				},
				Suggestions: []string{
					"Check your internet connection",
					"Verify the API endpoint is accessible",
					"Resubmit the request",
				},
				Recoverable: true,
			},
			ExitCode: ExitLLMError,
		},
	}
}

// APIError is raised when the vendor rejects a request
type APIError struct {
	*GatewayError
	StatusCode int
}

// NewAPIError creates a new API error
func NewAPIError(provider string, status int, message string) *APIError {
	return &APIError{
		GatewayError: &GatewayError{
			Kind:    KindAPI,
			Message: fmt.Sprintf("API error from %s (status %d): %s", provider, status, message),
			Context: &ErrorContext{
				Operation: "LLM API Call",
				Component: "Provider",
				Details: map[string]interface{}{
					"provider": provider,
					"status":   status,
				},
			},
			ExitCode: ExitLLMError,
		},
		StatusCode: status,
	}
}

// AuthError is raised when credentials are missing, rejected or cannot be refreshed
type AuthError struct {
	*GatewayError
	Provider string
}

// NewAuthError creates a new authentication error
func NewAuthError(provider, reason string, cause error) *AuthError {
	return &AuthError{
		GatewayError: &GatewayError{
			Kind:    KindAuth,
			Message: fmt.Sprintf("authentication failed for %s: %s", provider, reason),
			Cause:   cause,
			Context: &ErrorContext{
				Operation: "Authentication",
				Component: "Authenticator",
				Details: map[string]interface{}{
					"provider": provider,
				},
				Suggestions: []string{
					"Check that the API key or token is valid",
					"Run 'llmgate login <provider>' for device-code providers",
				},
			},
			ExitCode: ExitAuthError,
		},
		Provider: provider,
	}
}

// TransformReason narrows a transform failure
type TransformReason string

const (
	ReasonMissingField  TransformReason = "missing_field"
	ReasonInvalidFormat TransformReason = "invalid_format"
	ReasonUnsupported   TransformReason = "unsupported"
)

// TransformError is raised when a payload does not match the expected schema.
// The request shape is presumed invalid so these are never retried.
type TransformError struct {
	*GatewayError
	Reason TransformReason
	Field  string
}

// NewMissingFieldError reports a required vendor field that is absent
func NewMissingFieldError(vendor, field string) *TransformError {
	return &TransformError{
		GatewayError: &GatewayError{
			Kind:     KindTransform,
			Message:  fmt.Sprintf("%s payload is missing field %q", vendor, field),
			ExitCode: ExitLLMError,
		},
		Reason: ReasonMissingField,
		Field:  field,
	}
}

// NewInvalidFormatError reports a payload that cannot be decoded
func NewInvalidFormatError(vendor string, cause error) *TransformError {
	return &TransformError{
		GatewayError: &GatewayError{
			Kind:     KindTransform,
			Message:  fmt.Sprintf("invalid %s payload", vendor),
			Cause:    cause,
			ExitCode: ExitLLMError,
		},
		Reason: ReasonInvalidFormat,
	}
}

// NewUnsupportedError reports a request needing a capability the vendor cannot express
func NewUnsupportedError(vendor, capability string) *TransformError {
	return &TransformError{
		GatewayError: &GatewayError{
			Kind:     KindTransform,
			Message:  fmt.Sprintf("%s does not support %s", vendor, capability),
			ExitCode: ExitLLMError,
		},
		Reason: ReasonUnsupported,
		Field:  capability,
	}
}

// StreamError is raised when a stream fails mid-flight
type StreamError struct {
	*GatewayError
}

// NewStreamError creates a new stream error
func NewStreamError(provider, reason string, cause error) *StreamError {
	return &StreamError{
		GatewayError: &GatewayError{
			Kind:     KindStream,
			Message:  fmt.Sprintf("stream from %s failed: %s", provider, reason),
			Cause:    cause,
			ExitCode: ExitLLMError,
		},
	}
}

// ProviderNotFoundError is raised when no provider is registered under an id
type ProviderNotFoundError struct {
	*GatewayError
	ProviderID string
}

// NewProviderNotFoundError creates a new provider-not-found error
func NewProviderNotFoundError(id string) *ProviderNotFoundError {
	return &ProviderNotFoundError{
		GatewayError: &GatewayError{
			Kind:    KindProviderNotFound,
			Message: fmt.Sprintf("ProviderNotFound(%q)", id),
			Context: &ErrorContext{
				Operation: "Provider lookup",
				Component: "Registry",
				Suggestions: []string{
					"Check the providers section of llmgate.yaml",
					"Run 'llmgate providers list'",
				},
			},
			ExitCode: ExitConfigError,
		},
		ProviderID: id,
	}
}

// RateLimitedError is raised on HTTP 429. Callers back off exactly RetryAfter.
type RateLimitedError struct {
	*GatewayError
	RetryAfter time.Duration
}

// NewRateLimitedError creates a new rate limit error
func NewRateLimitedError(provider string, retryAfter time.Duration) *RateLimitedError {
	return &RateLimitedError{
		GatewayError: &GatewayError{
			Kind:    KindRateLimited,
			Message: fmt.Sprintf("rate limited by %s, retry after %s", provider, retryAfter),
			Context: &ErrorContext{
				Operation:   "LLM API Call",
				Component:   "Provider",
				Recoverable: true,
			},
			ExitCode: ExitLLMError,
		},
		RetryAfter: retryAfter,
	}
}

// RetryAfter returns the back-off hint carried by a rate limit error
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// BusError is raised when a message cannot be delivered
type BusError struct {
	*GatewayError
	Topic string
}

// NewNoHandlerError reports a publish that reached no handler
func NewNoHandlerError(topic, kind string) *BusError {
	return &BusError{
		GatewayError: &GatewayError{
			Kind:     KindBus,
			Message:  fmt.Sprintf("no handler for %s messages on topic %s", kind, topic),
			ExitCode: ExitGeneralError,
		},
		Topic: topic,
	}
}
