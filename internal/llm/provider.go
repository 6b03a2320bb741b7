// Package llm binds wire-format transformers, authenticators and HTTP
// transport into callable providers, and keeps a registry of them by id.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/llmgate/internal/auth"
	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llmtypes"
	"github.com/user/llmgate/internal/logging"
	"github.com/user/llmgate/internal/transform"
)

// Provider is one callable upstream
type Provider interface {
	// ID returns the registry id
	ID() string

	// Metadata describes the provider and its capabilities
	Metadata() llmtypes.ProviderMetadata

	// Chat runs a non-streamed completion
	Chat(ctx context.Context, req llmtypes.ChatRequest) (llmtypes.ChatResponse, error)

	// ChatStream starts a streamed completion. The caller must Close the stream.
	ChatStream(ctx context.Context, req llmtypes.ChatRequest) (*ChatStream, error)

	// Validate confirms credentials and reachability
	Validate(ctx context.Context) error
}

// HTTPProviderConfig configures an HTTPProvider
type HTTPProviderConfig struct {
	ID           string
	DisplayName  string
	BaseURL      string
	Model        string // used when a request leaves Model empty
	MaxTokens    int    // used when a request leaves MaxTokens unset
	Temperature  *float64
	Capabilities llmtypes.Capabilities
	Headers      map[string]string

	// ValidatePath is fetched with GET by Validate. Empty uses the format default.
	ValidatePath string

	Transformer transform.Transformer
	Auth        auth.Authenticator
	Client      *RetryClient
	Logger      *logging.Logger
}

// HTTPProvider composes one transformer, one authenticator and a retrying HTTP client
type HTTPProvider struct {
	cfg    HTTPProviderConfig
	client *RetryClient
	logger *logging.Logger
}

// NewHTTPProvider creates a provider from cfg
func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if cfg.ID == "" {
		return nil, errors.NewConfigurationError("provider id is required")
	}
	if cfg.Transformer == nil {
		return nil, errors.NewConfigurationError(fmt.Sprintf("provider %s has no wire format", cfg.ID))
	}
	if cfg.BaseURL == "" {
		return nil, errors.NewConfigurationError(fmt.Sprintf("provider %s has no base_url", cfg.ID))
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Auth == nil {
		cfg.Auth = auth.NoAuth{}
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.ID
	}
	client := cfg.Client
	if client == nil {
		client = NewRetryClient(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: client,
		logger: logger.With(logging.String("provider", cfg.ID)),
	}, nil
}

// NewForwardingProvider forwards to another OpenAI-compatible endpoint
func NewForwardingProvider(id, baseURL, apiKey string, client *RetryClient, logger *logging.Logger) (*HTTPProvider, error) {
	var authenticator auth.Authenticator = auth.NoAuth{}
	if apiKey != "" {
		authenticator = auth.NewOpenAIKeyAuth(id, apiKey)
	}
	return NewHTTPProvider(HTTPProviderConfig{
		ID:           id,
		BaseURL:      baseURL,
		Capabilities: llmtypes.Capabilities{Streaming: true, ToolCalling: true, Vision: true, JSONMode: true},
		Transformer:  transform.NewOpenAITransformer(),
		Auth:         authenticator,
		Client:       client,
		Logger:       logger,
	})
}

// NewPassthroughProvider sends requests in format t to baseURL without credentials
func NewPassthroughProvider(id, baseURL string, t transform.Transformer, client *RetryClient, logger *logging.Logger) (*HTTPProvider, error) {
	return NewHTTPProvider(HTTPProviderConfig{
		ID:           id,
		BaseURL:      baseURL,
		Capabilities: llmtypes.Capabilities{Streaming: true, ToolCalling: true, Vision: true, JSONMode: t.Name() == "openai"},
		Transformer:  t,
		Auth:         auth.NoAuth{},
		Client:       client,
		Logger:       logger,
	})
}

func (p *HTTPProvider) ID() string { return p.cfg.ID }

func (p *HTTPProvider) Metadata() llmtypes.ProviderMetadata {
	return llmtypes.ProviderMetadata{
		ID:           p.cfg.ID,
		DisplayName:  p.cfg.DisplayName,
		Capabilities: p.cfg.Capabilities,
	}
}

// prepare applies defaults and rejects requests the provider cannot serve before any I/O
func (p *HTTPProvider) prepare(req llmtypes.ChatRequest, stream bool) (llmtypes.ChatRequest, error) {
	req = req.Clone()
	req.Stream = stream
	if req.Model == "" {
		req.Model = p.cfg.Model
	}
	if req.Sampling.MaxTokens == 0 {
		req.Sampling.MaxTokens = p.cfg.MaxTokens
	}
	if req.Sampling.Temperature == nil && p.cfg.Temperature != nil {
		t := *p.cfg.Temperature
		req.Sampling.Temperature = &t
	}
	if err := req.Validate(); err != nil {
		return req, errors.NewInvalidFormatError(p.cfg.ID, err)
	}

	caps := p.cfg.Capabilities
	switch {
	case stream && !caps.Streaming:
		return req, errors.NewUnsupportedError(p.cfg.ID, "streaming")
	case len(req.Tools) > 0 && !caps.ToolCalling:
		return req, errors.NewUnsupportedError(p.cfg.ID, "tool_calling")
	case req.HasImages() && !caps.Vision:
		return req, errors.NewUnsupportedError(p.cfg.ID, "vision")
	case req.ResponseFormat != nil && req.ResponseFormat.Type == llmtypes.ResponseFormatJSON && !caps.JSONMode:
		return req, errors.NewUnsupportedError(p.cfg.ID, "json_mode")
	}
	return req, nil
}

// Chat runs a non-streamed completion
func (p *HTTPProvider) Chat(ctx context.Context, req llmtypes.ChatRequest) (llmtypes.ChatResponse, error) {
	req, err := p.prepare(req, false)
	if err != nil {
		return llmtypes.ChatResponse{}, err
	}
	body, err := p.cfg.Transformer.TransformRequest(req)
	if err != nil {
		return llmtypes.ChatResponse{}, err
	}

	start := time.Now()
	resp, err := p.send(ctx, http.MethodPost, p.cfg.Transformer.Endpoint(), body, false)
	if err != nil {
		return llmtypes.ChatResponse{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return llmtypes.ChatResponse{}, errors.NewNetworkError(p.cfg.ID, err)
	}
	result, err := p.cfg.Transformer.ParseResponse(data)
	if err != nil {
		return llmtypes.ChatResponse{}, err
	}

	p.logger.Debug("Chat completed",
		logging.String("model", req.Model),
		logging.Int("input_tokens", result.Usage.InputTokens),
		logging.Int("output_tokens", result.Usage.OutputTokens),
		logging.Duration("duration", time.Since(start)))
	return result, nil
}

// ChatStream starts a streamed completion
func (p *HTTPProvider) ChatStream(ctx context.Context, req llmtypes.ChatRequest) (*ChatStream, error) {
	req, err := p.prepare(req, true)
	if err != nil {
		return nil, err
	}
	body, err := p.cfg.Transformer.TransformRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.send(ctx, http.MethodPost, p.cfg.Transformer.Endpoint(), body, true)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Stream opened", logging.String("model", req.Model))
	return newChatStream(ctx, p.cfg.ID, resp.Body, p.cfg.Transformer.NewStreamDecoder()), nil
}

// Validate fetches the model listing to confirm the credential and endpoint
func (p *HTTPProvider) Validate(ctx context.Context) error {
	path := p.cfg.ValidatePath
	if path == "" {
		path = defaultValidatePath(p.cfg.Transformer)
	}
	resp, err := p.send(ctx, http.MethodGet, path, nil, false)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func defaultValidatePath(t transform.Transformer) string {
	if t.Name() == "anthropic" {
		return "/v1/models"
	}
	return "/models"
}

// send performs one logical request: auth injection, a single refresh-and-retry
// on 401, and mapping of non-2xx statuses to typed errors. The caller closes the body.
func (p *HTTPProvider) send(ctx context.Context, method, path string, body []byte, stream bool) (*http.Response, error) {
	if p.cfg.Auth.NeedsRefresh() {
		if err := p.cfg.Auth.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := p.do(ctx, method, path, body, stream)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		p.logger.Info("Credential rejected, refreshing once")
		if inv, ok := p.cfg.Auth.(auth.Invalidator); ok {
			inv.Invalidate()
		}
		if err := p.cfg.Auth.Refresh(ctx); err != nil {
			return nil, err
		}
		resp, err = p.do(ctx, method, path, body, stream)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			msg := readErrorMessage(resp)
			return nil, errors.NewAuthError(p.cfg.ID, "credential rejected after refresh: "+msg, nil)
		}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter, _ := ParseRetryAfter(resp.Header, time.Now())
		drain(resp)
		return nil, errors.NewRateLimitedError(p.cfg.ID, retryAfter)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.NewAPIError(p.cfg.ID, resp.StatusCode, readErrorMessage(resp))
	}
	return resp, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body []byte, stream bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, errors.NewNetworkError(p.cfg.ID, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if hp, ok := p.cfg.Transformer.(transform.HeaderProvider); ok {
		for k, v := range hp.Headers() {
			req.Header.Set(k, v)
		}
	}
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	name, value, err := p.cfg.Auth.AuthHeader(ctx)
	if err != nil {
		return nil, err
	}
	if name != "" {
		req.Header.Set(name, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.WrapError(ctx.Err(), errors.KindOf(ctx.Err()), "request cancelled", errors.ExitLLMError)
		}
		return nil, errors.NewNetworkError(p.cfg.ID, err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// readErrorMessage extracts error.message from a vendor error body, falling
// back to the raw body. It closes the body.
func readErrorMessage(resp *http.Response) string {
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && len(payload.Error) > 0 {
		var detail struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &detail); err == nil && detail.Message != "" {
			return detail.Message
		}
		var s string
		if err := json.Unmarshal(payload.Error, &s); err == nil && s != "" {
			return s
		}
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return msg
}
