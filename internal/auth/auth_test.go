package auth

import (
	"context"
	"testing"

	"github.com/user/llmgate/internal/errors"
)

func TestAPIKeyAuth_Headers(t *testing.T) {
	tests := []struct {
		name          string
		auth          Authenticator
		expectedName  string
		expectedValue string
	}{
		{"openai", NewOpenAIKeyAuth("openai", "sk-1"), "Authorization", "Bearer sk-1"},
		{"anthropic", NewAnthropicKeyAuth("anthropic", "ak-1"), "x-api-key", "ak-1"},
		{"bearer", NewBearerAuth("p", "tok"), "Authorization", "Bearer tok"},
		{"none", NoAuth{}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, value, err := tt.auth.AuthHeader(context.Background())
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if name != tt.expectedName || value != tt.expectedValue {
				t.Errorf("Expected %s: %s, got %s: %s", tt.expectedName, tt.expectedValue, name, value)
			}
			if tt.auth.NeedsRefresh() {
				t.Error("Expected static credential to never need refresh")
			}
		})
	}
}

func TestAPIKeyAuth_MissingKey(t *testing.T) {
	_, _, err := NewOpenAIKeyAuth("openai", "").AuthHeader(context.Background())
	if errors.KindOf(err) != errors.KindAuth {
		t.Errorf("Expected auth error, got %v", err)
	}
}

func TestStaticAuth_RefreshFails(t *testing.T) {
	if err := NewAnthropicKeyAuth("anthropic", "k").Refresh(context.Background()); errors.KindOf(err) != errors.KindAuth {
		t.Errorf("Expected auth error from static refresh, got %v", err)
	}
	if err := (NoAuth{}).Refresh(context.Background()); err != nil {
		t.Errorf("Expected no-auth refresh to succeed, got %v", err)
	}
}
