package llm

import (
	"fmt"
	"net/http"

	"github.com/user/llmgate/internal/auth"
	"github.com/user/llmgate/internal/config"
	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/logging"
	"github.com/user/llmgate/internal/transform"
)

// Factory builds providers from configuration
type Factory struct {
	retry  config.RetryConfig
	tokens *auth.TokenCache
	logger *logging.Logger
}

// NewFactory creates a new provider factory. tokens backs device-code authenticators.
func NewFactory(retry config.RetryConfig, tokens *auth.TokenCache, logger *logging.Logger) *Factory {
	if tokens == nil {
		tokens = auth.NewTokenCache(auth.DefaultSafetyMargin)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Factory{retry: retry, tokens: tokens, logger: logger}
}

// retryConfig overlays configured values on the client defaults
func (f *Factory) retryConfig() *RetryConfig {
	rc := DefaultRetryConfig()
	if f.retry.MaxAttempts > 0 {
		rc.MaxAttempts = f.retry.MaxAttempts
	}
	if f.retry.Multiplier > 0 {
		rc.Multiplier = f.retry.Multiplier
	}
	if f.retry.MaxWaitPerAttempt > 0 {
		rc.MaxWaitPerAttempt = f.retry.MaxWaitPerAttempt
	}
	if f.retry.MaxTotalWait > 0 {
		rc.MaxTotalWait = f.retry.MaxTotalWait
	}
	return rc
}

// CreateProvider creates the provider described by cfg
func (f *Factory) CreateProvider(id string, cfg config.ProviderConfig) (Provider, error) {
	t, err := transform.ForFormat(cfg.GetFormat())
	if err != nil {
		return nil, errors.NewConfigurationError(fmt.Sprintf("provider %s: %v", id, err))
	}
	if at, ok := t.(*transform.AnthropicTransformer); ok && cfg.MaxTokens > 0 {
		at.DefaultMaxTokens = cfg.MaxTokens
	}

	client := NewRetryClientWithTimeout(cfg.GetTimeout(), f.retryConfig())
	authenticator, err := f.CreateAuthenticator(id, cfg)
	if err != nil {
		return nil, err
	}

	return NewHTTPProvider(HTTPProviderConfig{
		ID:           id,
		DisplayName:  cfg.DisplayName,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		Capabilities: cfg.GetCapabilities(),
		Headers:      cfg.Headers,
		Transformer:  t,
		Auth:         authenticator,
		Client:       client,
		Logger:       f.logger.Named("llm"),
	})
}

// CreateAuthenticator creates the authenticator described by cfg.Auth
func (f *Factory) CreateAuthenticator(id string, cfg config.ProviderConfig) (auth.Authenticator, error) {
	a := cfg.Auth
	switch a.Type {
	case config.AuthAPIKey:
		switch {
		case a.Header != "":
			return auth.NewAPIKeyAuth(id, a.Header, a.APIKey), nil
		case cfg.GetFormat() == config.ProviderAnthropic:
			return auth.NewAnthropicKeyAuth(id, a.APIKey), nil
		default:
			return auth.NewOpenAIKeyAuth(id, a.APIKey), nil
		}
	case config.AuthBearer:
		return auth.NewBearerAuth(id, a.Token), nil
	case config.AuthDeviceCode:
		return auth.NewDeviceCodeAuth(id, auth.DeviceCodeConfig{
			ClientID:        a.DeviceCode.ClientID,
			DeviceCodeURL:   a.DeviceCode.DeviceURL,
			TokenURL:        a.DeviceCode.TokenURL,
			Scopes:          a.DeviceCode.Scopes,
			DefaultInterval: a.DeviceCode.Interval,
		}, f.tokens, &http.Client{Timeout: cfg.GetTimeout()}, f.logger.Named("auth")), nil
	case config.AuthNone, "":
		return auth.NoAuth{}, nil
	}
	return nil, errors.NewConfigurationError(fmt.Sprintf("provider %s: unknown auth type %q", id, a.Type))
}

// NewRegistryFromConfig builds and registers every configured provider
func NewRegistryFromConfig(cfg *config.GatewayConfig, tokens *auth.TokenCache, logger *logging.Logger) (*Registry, error) {
	f := NewFactory(cfg.Retry, tokens, logger)
	reg := NewRegistry(logger)

	for _, id := range cfg.ProviderIDs() {
		p, err := f.CreateProvider(id, cfg.Providers[id])
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}

	if cfg.DefaultProvider != "" {
		if err := reg.SetDefault(cfg.DefaultProvider); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
