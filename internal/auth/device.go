package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/logging"
)

const (
	deviceCodeGrantType   = "urn:ietf:params:oauth:grant-type:device_code"
	refreshTokenGrantType = "refresh_token"

	defaultPollInterval = 5 * time.Second
	defaultSlowDownStep = 5 * time.Second
	defaultCodeLifetime = 15 * time.Minute
)

// DeviceCodeConfig describes a vendor's device authorization endpoints
type DeviceCodeConfig struct {
	ClientID      string
	DeviceCodeURL string
	TokenURL      string
	Scopes        []string

	// DefaultInterval is used when the vendor omits interval
	DefaultInterval time.Duration
	// SlowDownStep is added to the interval on slow_down
	SlowDownStep time.Duration
}

// DeviceCode is the vendor's answer to a device authorization request
type DeviceCode struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// Prompt is what a human needs to authorize the device
type Prompt struct {
	Provider        string
	UserCode        string
	VerificationURL string
	ExpiresAt       time.Time
}

// Presenter shows the device code to a human. It must not block until authorization.
type Presenter interface {
	Present(ctx context.Context, p Prompt) error
}

// PresenterFunc adapts a function to Presenter
type PresenterFunc func(ctx context.Context, p Prompt) error

func (f PresenterFunc) Present(ctx context.Context, p Prompt) error { return f(ctx, p) }

// tokenResponse is the token endpoint body for both success and pending states
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// DeviceCodeAuth authenticates with tokens obtained through the OAuth device flow
type DeviceCodeAuth struct {
	provider string
	cfg      DeviceCodeConfig
	cache    *TokenCache
	client   *http.Client
	logger   *logging.Logger
}

// NewDeviceCodeAuth creates a device-code authenticator backed by cache
func NewDeviceCodeAuth(provider string, cfg DeviceCodeConfig, cache *TokenCache, client *http.Client, logger *logging.Logger) *DeviceCodeAuth {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = defaultPollInterval
	}
	if cfg.SlowDownStep <= 0 {
		cfg.SlowDownStep = defaultSlowDownStep
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &DeviceCodeAuth{
		provider: provider,
		cfg:      cfg,
		cache:    cache,
		client:   client,
		logger:   logger,
	}
}

func (a *DeviceCodeAuth) AuthHeader(ctx context.Context) (string, string, error) {
	tok, ok := a.cache.Get(a.provider)
	if !ok {
		if err := a.Refresh(ctx); err != nil {
			return "", "", err
		}
		if tok, ok = a.cache.Get(a.provider); !ok {
			return "", "", errors.NewAuthError(a.provider, "no usable token after refresh", nil)
		}
	}
	tokenType := tok.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	return "Authorization", tokenType + " " + tok.AccessToken, nil
}

func (a *DeviceCodeAuth) NeedsRefresh() bool {
	return a.cache.NeedsRefresh(a.provider)
}

// Invalidate expires the cached token so the next call refreshes it
func (a *DeviceCodeAuth) Invalidate() {
	a.cache.Expire(a.provider)
}

// Refresh renews the token with the refresh-token grant. Without a refresh
// token the user has to log in again.
func (a *DeviceCodeAuth) Refresh(ctx context.Context) error {
	stale, _ := a.cache.Peek(a.provider)
	if !a.cache.expiring(stale) {
		return nil
	}
	_, err := a.cache.Refresh(ctx, a.provider, stale, func(ctx context.Context, current Token) (Token, error) {
		if current.RefreshToken == "" {
			return Token{}, errors.NewAuthError(a.provider, "no refresh token; log in again", nil)
		}
		a.logger.Debug("Refreshing access token", logging.String("provider", a.provider))
		form := url.Values{
			"grant_type":    {refreshTokenGrantType},
			"refresh_token": {current.RefreshToken},
			"client_id":     {a.cfg.ClientID},
		}
		resp, err := a.postForm(ctx, a.cfg.TokenURL, form)
		if err != nil {
			return Token{}, errors.NewAuthError(a.provider, "refresh request failed", err)
		}
		if resp.Error != "" {
			return Token{}, errors.NewAuthError(a.provider, "refresh rejected: "+resp.Error, nil)
		}
		tok := a.toToken(resp)
		if tok.RefreshToken == "" {
			tok.RefreshToken = current.RefreshToken
		}
		return tok, nil
	})
	return err
}

// Login runs the full device flow and stores the resulting token
func (a *DeviceCodeAuth) Login(ctx context.Context, presenter Presenter) (Token, error) {
	code, err := a.RequestCode(ctx)
	if err != nil {
		return Token{}, err
	}

	verification := code.VerificationURIComplete
	if verification == "" {
		verification = code.VerificationURI
	}
	prompt := Prompt{
		Provider:        a.provider,
		UserCode:        code.UserCode,
		VerificationURL: verification,
		ExpiresAt:       time.Now().Add(codeLifetime(code)),
	}
	if presenter != nil {
		if err := presenter.Present(ctx, prompt); err != nil {
			return Token{}, err
		}
	}

	tok, err := a.Poll(ctx, code)
	if err != nil {
		return Token{}, err
	}
	if err := a.cache.Put(a.provider, tok); err != nil {
		return Token{}, err
	}
	a.logger.Info("Device login complete", logging.String("provider", a.provider))
	return tok, nil
}

// RequestCode asks the vendor for a device/user code pair
func (a *DeviceCodeAuth) RequestCode(ctx context.Context) (DeviceCode, error) {
	form := url.Values{"client_id": {a.cfg.ClientID}}
	if len(a.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(a.cfg.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.DeviceCodeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return DeviceCode{}, errors.NewAuthError(a.provider, "invalid device code URL", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return DeviceCode{}, errors.NewNetworkError(a.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DeviceCode{}, errors.NewNetworkError(a.provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return DeviceCode{}, errors.NewAuthError(a.provider, fmt.Sprintf("device code request failed: status %d", resp.StatusCode), nil)
	}

	var code DeviceCode
	if err := json.Unmarshal(body, &code); err != nil {
		return DeviceCode{}, errors.NewAuthError(a.provider, "invalid device code response", err)
	}
	if code.DeviceCode == "" || code.UserCode == "" {
		return DeviceCode{}, errors.NewAuthError(a.provider, "device code response is missing codes", nil)
	}
	return code, nil
}

// Poll waits for the user to authorize code. It honours the vendor interval,
// backs off on slow_down and gives up when the code expires.
func (a *DeviceCodeAuth) Poll(ctx context.Context, code DeviceCode) (Token, error) {
	interval := a.cfg.DefaultInterval
	if code.Interval > 0 {
		interval = time.Duration(code.Interval) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, codeLifetime(code))
	defer cancel()

	form := url.Values{
		"grant_type":  {deviceCodeGrantType},
		"device_code": {code.DeviceCode},
		"client_id":   {a.cfg.ClientID},
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return Token{}, errors.NewAuthError(a.provider, "device code expired", ctx.Err())
			}
			return Token{}, ctx.Err()
		case <-timer.C:
		}

		resp, err := a.postForm(ctx, a.cfg.TokenURL, form)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return Token{}, errors.NewNetworkError(a.provider, err)
		}

		switch resp.Error {
		case "":
			if resp.AccessToken == "" {
				return Token{}, errors.NewAuthError(a.provider, "token response has no access_token", nil)
			}
			return a.toToken(resp), nil
		case "authorization_pending":
		case "slow_down":
			interval += a.cfg.SlowDownStep
			a.logger.Debug("Device poll slowed down",
				logging.String("provider", a.provider),
				logging.Duration("interval", interval))
		case "access_denied":
			return Token{}, errors.NewAuthError(a.provider, "authorization denied by user", nil)
		case "expired_token":
			return Token{}, errors.NewAuthError(a.provider, "device code expired", nil)
		default:
			return Token{}, errors.NewAuthError(a.provider, "token request failed: "+resp.Error, nil)
		}
		timer.Reset(interval)
	}
}

// postForm posts form and decodes the token endpoint response. OAuth servers
// report pending states as 400 with an error field, so non-200 bodies are decoded too.
func (a *DeviceCodeAuth) postForm(ctx context.Context, endpoint string, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return tokenResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return tokenResponse{}, err
	}
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return tokenResponse{}, fmt.Errorf("invalid token response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK && tr.Error == "" {
		tr.Error = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	return tr, nil
}

func (a *DeviceCodeAuth) toToken(resp tokenResponse) Token {
	now := a.cache.now()
	tok := Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ObtainedAt:   now,
	}
	if resp.ExpiresIn > 0 {
		tok.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return tok
}

func codeLifetime(code DeviceCode) time.Duration {
	if code.ExpiresIn > 0 {
		return time.Duration(code.ExpiresIn) * time.Second
	}
	return defaultCodeLifetime
}
