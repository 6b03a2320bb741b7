// Package auth supplies credentials for upstream provider requests.
package auth

import (
	"context"

	"github.com/user/llmgate/internal/errors"
)

// Authenticator supplies the credential header for one provider
type Authenticator interface {
	// AuthHeader returns the header name and value to attach, refreshing first if needed.
	// An empty name means no header is sent.
	AuthHeader(ctx context.Context) (name, value string, err error)

	// NeedsRefresh reports whether the credential is absent or about to expire
	NeedsRefresh() bool

	// Refresh obtains a new credential. Concurrent calls share one refresh.
	Refresh(ctx context.Context) error
}

// Invalidator is implemented by authenticators whose credential can be
// rejected upstream before its advertised expiry
type Invalidator interface {
	Invalidate()
}

// APIKeyAuth sends a static key in a configurable header
type APIKeyAuth struct {
	provider string
	header   string
	prefix   string
	key      string
}

// NewAPIKeyAuth creates an authenticator sending key in header, e.g. x-api-key
func NewAPIKeyAuth(provider, header, key string) *APIKeyAuth {
	return &APIKeyAuth{provider: provider, header: header, key: key}
}

// NewOpenAIKeyAuth sends the key as an Authorization bearer value
func NewOpenAIKeyAuth(provider, key string) *APIKeyAuth {
	return &APIKeyAuth{provider: provider, header: "Authorization", prefix: "Bearer ", key: key}
}

// NewAnthropicKeyAuth sends the key in x-api-key
func NewAnthropicKeyAuth(provider, key string) *APIKeyAuth {
	return NewAPIKeyAuth(provider, "x-api-key", key)
}

func (a *APIKeyAuth) AuthHeader(ctx context.Context) (string, string, error) {
	if a.key == "" {
		return "", "", errors.NewAuthError(a.provider, "API key is not configured", nil)
	}
	return a.header, a.prefix + a.key, nil
}

func (a *APIKeyAuth) NeedsRefresh() bool { return false }

// Refresh cannot renew a static key
func (a *APIKeyAuth) Refresh(ctx context.Context) error {
	return errors.NewAuthError(a.provider, "static API key was rejected", nil)
}

// BearerAuth sends a static bearer token
type BearerAuth struct {
	provider string
	token    string
}

// NewBearerAuth creates a static bearer authenticator
func NewBearerAuth(provider, token string) *BearerAuth {
	return &BearerAuth{provider: provider, token: token}
}

func (a *BearerAuth) AuthHeader(ctx context.Context) (string, string, error) {
	if a.token == "" {
		return "", "", errors.NewAuthError(a.provider, "bearer token is not configured", nil)
	}
	return "Authorization", "Bearer " + a.token, nil
}

func (a *BearerAuth) NeedsRefresh() bool { return false }

func (a *BearerAuth) Refresh(ctx context.Context) error {
	return errors.NewAuthError(a.provider, "static bearer token was rejected", nil)
}

// NoAuth sends no credential
type NoAuth struct{}

func (NoAuth) AuthHeader(ctx context.Context) (string, string, error) { return "", "", nil }

func (NoAuth) NeedsRefresh() bool { return false }

func (NoAuth) Refresh(ctx context.Context) error { return nil }
