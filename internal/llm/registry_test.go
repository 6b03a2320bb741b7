package llm_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/user/llmgate/internal/config"
	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llm"
	testutil "github.com/user/llmgate/internal/testing"
)

func TestRegistry_UnknownProvider(t *testing.T) {
	reg := llm.NewRegistry(nil)
	_ = reg.Register(testutil.NewMockProvider("a"))

	_, err := reg.Chat(context.Background(), "x", userRequest("hi"))
	var nf *errors.ProviderNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected ProviderNotFoundError, got %v", err)
	}
	if nf.ProviderID != "x" {
		t.Errorf("Expected id x, got %s", nf.ProviderID)
	}
	if err.Error() != `ProviderNotFound("x")` {
		t.Errorf("unexpected message %q", err.Error())
	}
	if _, err := reg.ChatStream(context.Background(), "x", userRequest("hi")); errors.KindOf(err) != errors.KindProviderNotFound {
		t.Errorf("ChatStream: expected provider_not_found, got %v", err)
	}
}

func TestRegistry_DefaultAndList(t *testing.T) {
	reg := llm.NewRegistry(nil)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(testutil.NewMockProvider(id, testutil.TextScript(id))); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
	if err := reg.Register(testutil.NewMockProvider("alpha")); err == nil {
		t.Error("Expected duplicate registration to fail")
	}

	if reg.DefaultID() != "zeta" {
		t.Errorf("Expected first registered provider as default, got %s", reg.DefaultID())
	}
	if err := reg.SetDefault("mid"); err != nil {
		t.Fatalf("SetDefault: %v", err)
	}
	if err := reg.SetDefault("nope"); err == nil {
		t.Error("Expected SetDefault on unknown id to fail")
	}

	resp, err := reg.Chat(context.Background(), "", userRequest("hi"))
	if err != nil {
		t.Fatalf("Chat via default: %v", err)
	}
	if resp.Message.Content.AsText() != "mid" {
		t.Errorf("Expected default provider to answer, got %q", resp.Message.Content.AsText())
	}

	list := reg.List()
	if len(list) != 3 || list[0].ID != "alpha" || list[2].ID != "zeta" {
		t.Errorf("Expected sorted list, got %+v", list)
	}
}

func TestRegistry_ValidateAll(t *testing.T) {
	reg := llm.NewRegistry(nil)
	good := testutil.NewMockProvider("good")
	bad := testutil.NewMockProvider("bad")
	bad.ValidateErr = stderrors.New("unreachable")
	_ = reg.Register(good)
	_ = reg.Register(bad)

	results := reg.ValidateAll(context.Background(), time.Second)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].ID != "bad" || results[0].Err == nil {
		t.Errorf("Expected bad to fail first in sorted order, got %+v", results[0])
	}
	if results[1].ID != "good" || results[1].Err != nil {
		t.Errorf("Expected good to pass, got %+v", results[1])
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := &config.GatewayConfig{
		DefaultProvider: "claude",
		Providers: map[string]config.ProviderConfig{
			"gpt": {
				Type:    config.ProviderOpenAI,
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o",
				Auth:    config.AuthConfig{Type: config.AuthAPIKey, APIKey: "sk"},
			},
			"claude": {
				Type:      config.ProviderAnthropic,
				BaseURL:   "https://api.anthropic.com",
				MaxTokens: 2048,
				Auth:      config.AuthConfig{Type: config.AuthAPIKey, APIKey: "sk-ant"},
			},
			"relay": {
				Type:    config.ProviderPassthrough,
				Format:  config.ProviderAnthropic,
				BaseURL: "http://localhost:9999",
				Auth:    config.AuthConfig{Type: config.AuthNone},
			},
			"copilot": {
				Type:    config.ProviderOpenAICompatible,
				BaseURL: "https://api.example.com",
				Auth: config.AuthConfig{Type: config.AuthDeviceCode, DeviceCode: config.DeviceCodeConfig{
					ClientID: "abc", DeviceURL: "https://example.com/device", TokenURL: "https://example.com/token",
				}},
			},
		},
	}

	reg, err := llm.NewRegistryFromConfig(cfg, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig failed: %v", err)
	}
	if reg.DefaultID() != "claude" {
		t.Errorf("Expected default claude, got %s", reg.DefaultID())
	}
	if n := len(reg.List()); n != 4 {
		t.Fatalf("Expected 4 providers, got %d", n)
	}

	p, _ := reg.Get("claude")
	if p.Metadata().Capabilities.JSONMode {
		t.Error("anthropic should not advertise json mode")
	}
	p, _ = reg.Get("relay")
	if p.Metadata().Capabilities.JSONMode {
		t.Error("anthropic-format passthrough should not advertise json mode")
	}
	p, _ = reg.Get("gpt")
	if !p.Metadata().Capabilities.JSONMode {
		t.Error("openai should advertise json mode")
	}
}

func TestFactory_CreateAuthenticator(t *testing.T) {
	f := llm.NewFactory(config.RetryConfig{}, nil, nil)

	a, err := f.CreateAuthenticator("claude", config.ProviderConfig{
		Type: config.ProviderAnthropic,
		Auth: config.AuthConfig{Type: config.AuthAPIKey, APIKey: "sk-ant"},
	})
	if err != nil {
		t.Fatalf("CreateAuthenticator: %v", err)
	}
	name, value, _ := a.AuthHeader(context.Background())
	if name != "x-api-key" || value != "sk-ant" {
		t.Errorf("Expected x-api-key header, got %s: %s", name, value)
	}

	a, _ = f.CreateAuthenticator("custom", config.ProviderConfig{
		Type: config.ProviderOpenAICompatible,
		Auth: config.AuthConfig{Type: config.AuthAPIKey, APIKey: "k", Header: "api-key"},
	})
	name, value, _ = a.AuthHeader(context.Background())
	if name != "api-key" || value != "k" {
		t.Errorf("Expected custom header, got %s: %s", name, value)
	}

	if _, err := f.CreateAuthenticator("x", config.ProviderConfig{Auth: config.AuthConfig{Type: "kerberos"}}); err == nil {
		t.Error("Expected unknown auth type to fail")
	}
}
