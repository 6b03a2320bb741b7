package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxAttempts       int           // Maximum number of attempts
	Multiplier        int           // Exponential backoff multiplier
	BaseWait          time.Duration // Unit of the exponential backoff
	MaxWaitPerAttempt time.Duration // Maximum wait time per attempt
	MaxTotalWait      time.Duration // Maximum total wait time

	// Connection pooling
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration

	// Transport overrides the pooled transport when set
	Transport http.RoundTripper
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       5,
		Multiplier:        1,
		BaseWait:          time.Second,
		MaxWaitPerAttempt: 60 * time.Second,
		MaxTotalWait:      300 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// RetryClient wraps http.Client with retry logic.
// Transport errors and 5xx responses are retried with exponential backoff.
// 429 is returned to the caller at once so it can honour Retry-After.
type RetryClient struct {
	client *http.Client
	config *RetryConfig
}

// NewRetryClient creates a new retry client
func NewRetryClient(config *RetryConfig) *RetryClient {
	return NewRetryClientWithTimeout(180*time.Second, config)
}

// NewRetryClientWithTimeout creates a retry client whose timeout bounds the
// wait for response headers. Streamed bodies are bounded by the request context.
func NewRetryClientWithTimeout(timeout time.Duration, config *RetryConfig) *RetryClient {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BaseWait <= 0 {
		config.BaseWait = time.Second
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}

	transport := config.Transport
	if transport == nil {
		pooled := http.DefaultTransport.(*http.Transport).Clone()
		if config.MaxIdleConns > 0 {
			pooled.MaxIdleConns = config.MaxIdleConns
		}
		if config.MaxIdleConnsPerHost > 0 {
			pooled.MaxIdleConnsPerHost = config.MaxIdleConnsPerHost
		}
		if config.IdleConnTimeout > 0 {
			pooled.IdleConnTimeout = config.IdleConnTimeout
		}
		if config.TLSHandshakeTimeout > 0 {
			pooled.TLSHandshakeTimeout = config.TLSHandshakeTimeout
		}
		pooled.ResponseHeaderTimeout = timeout
		transport = pooled
	}
	return &RetryClient{
		client: &http.Client{Transport: transport},
		config: config,
	}
}

// CloseIdleConnections closes pooled connections that are not in use
func (rc *RetryClient) CloseIdleConnections() {
	rc.client.CloseIdleConnections()
}

// Do executes an HTTP request with retry logic
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	return rc.DoWithContext(req.Context(), req)
}

// DoWithContext executes an HTTP request with retry logic and context.
// When retries are exhausted on 5xx the last response is returned unread.
func (rc *RetryClient) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	var resp *http.Response
	var err error

	totalStartTime := time.Now()

	for attempt := 0; attempt < rc.config.MaxAttempts; attempt++ {
		// Clone the request for each attempt (request body can only be read once)
		reqClone := req.Clone(ctx)
		if body != nil {
			reqClone.Body = io.NopCloser(bytes.NewReader(body))
			reqClone.ContentLength = int64(len(body))
		}

		resp, err = rc.client.Do(reqClone)

		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if ctx.Err() != nil {
			if resp != nil {
				_ = resp.Body.Close()
			}
			return nil, ctx.Err()
		}

		// Calculate wait time with exponential backoff
		waitTime := rc.calculateWaitTime(attempt)

		last := attempt == rc.config.MaxAttempts-1 ||
			time.Since(totalStartTime)+waitTime > rc.config.MaxTotalWait
		if last {
			break
		}

		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, fmt.Errorf("request failed after %d attempts: %w", rc.config.MaxAttempts, err)
	}
	return resp, nil
}

// calculateWaitTime calculates wait time using exponential backoff
func (rc *RetryClient) calculateWaitTime(attempt int) time.Duration {
	// Exponential backoff: 2^attempt * multiplier * base
	baseWait := time.Duration(math.Pow(2, float64(attempt))) * time.Duration(rc.config.Multiplier) * rc.config.BaseWait

	// Cap at max wait per attempt
	if baseWait > rc.config.MaxWaitPerAttempt {
		baseWait = rc.config.MaxWaitPerAttempt
	}

	return baseWait
}

// SetTimeout updates the response header timeout
func (rc *RetryClient) SetTimeout(timeout time.Duration) {
	if t, ok := rc.client.Transport.(*http.Transport); ok {
		t.ResponseHeaderTimeout = timeout
	}
}

// GetTimeout returns the response header timeout
func (rc *RetryClient) GetTimeout() time.Duration {
	if t, ok := rc.client.Transport.(*http.Transport); ok {
		return t.ResponseHeaderTimeout
	}
	return 0
}

// ParseRetryAfter reads a Retry-After header in seconds or HTTP-date form
func ParseRetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
