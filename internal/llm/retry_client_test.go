package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) *RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = attempts
	cfg.BaseWait = time.Millisecond
	cfg.MaxWaitPerAttempt = 5 * time.Millisecond
	cfg.MaxTotalWait = time.Second
	return cfg
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 5 {
		t.Errorf("Expected MaxAttempts 5, got %d", config.MaxAttempts)
	}
	if config.Multiplier != 1 {
		t.Errorf("Expected Multiplier 1, got %d", config.Multiplier)
	}
	if config.MaxWaitPerAttempt != 60*time.Second {
		t.Errorf("Expected MaxWaitPerAttempt 60s, got %v", config.MaxWaitPerAttempt)
	}
	if config.MaxIdleConnsPerHost != 10 {
		t.Errorf("Expected MaxIdleConnsPerHost 10, got %d", config.MaxIdleConnsPerHost)
	}
}

func TestNewRetryClient_PooledTransport(t *testing.T) {
	client := NewRetryClientWithTimeout(45*time.Second, &RetryConfig{
		MaxAttempts:         1,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 2,
	})

	transport, ok := client.client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("Expected *http.Transport, got %T", client.client.Transport)
	}
	if transport.MaxIdleConns != 20 || transport.MaxIdleConnsPerHost != 2 {
		t.Errorf("Expected pool 20/2, got %d/%d", transport.MaxIdleConns, transport.MaxIdleConnsPerHost)
	}
	if client.GetTimeout() != 45*time.Second {
		t.Errorf("Expected timeout 45s, got %v", client.GetTimeout())
	}

	client.SetTimeout(10 * time.Second)
	if client.GetTimeout() != 10*time.Second {
		t.Errorf("Expected timeout 10s, got %v", client.GetTimeout())
	}
	client.CloseIdleConnections()
}

func TestRetryClient_RetriesServerErrorsAndReplaysBody(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"q":1}` {
			t.Errorf("Expected replayed body, got %q", body)
		}
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewRetryClient(fastRetryConfig(5))
	req, _ := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"q":1}`))
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
}

func TestRetryClient_ExhaustedReturnsLastResponse(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer server.Close()

	client := NewRetryClient(fastRetryConfig(3))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Expected last response, got error %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusServiceUnavailable || string(body) != "down" {
		t.Errorf("Expected readable 503 body, got %d %q", resp.StatusCode, body)
	}
	if n := atomic.LoadInt32(&attempts); n != 3 {
		t.Errorf("Expected 3 attempts, got %d", n)
	}
}

func TestRetryClient_DoesNotRetryRateLimit(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewRetryClient(fastRetryConfig(5))
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&attempts); n != 1 {
		t.Errorf("Expected a single attempt, got %d", n)
	}
	if d, ok := ParseRetryAfter(resp.Header, time.Now()); !ok || d != 7*time.Second {
		t.Errorf("Expected Retry-After 7s, got %v (%v)", d, ok)
	}
}

func TestRetryClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := fastRetryConfig(10)
	cfg.BaseWait = 100 * time.Millisecond
	cfg.MaxWaitPerAttempt = time.Second
	client := NewRetryClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)

	_, err := client.Do(req)
	if err == nil {
		t.Fatal("Expected error after cancellation")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		value    string
		expected time.Duration
		ok       bool
	}{
		{"", 0, false},
		{"3", 3 * time.Second, true},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second, true},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.value != "" {
			h.Set("Retry-After", tt.value)
		}
		d, ok := ParseRetryAfter(h, now)
		if ok != tt.ok || d != tt.expected {
			t.Errorf("%q: expected %v/%v, got %v/%v", tt.value, tt.expected, tt.ok, d, ok)
		}
	}
}
