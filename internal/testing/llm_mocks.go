// Package testing holds HTTP and provider fixtures shared by package tests.
package testing

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// WriteSSE writes one event and flushes it
func WriteSSE(w http.ResponseWriter, event, data string) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	Flush(w)
}

func WriteSSEDone(w http.ResponseWriter) {
	fmt.Fprintln(w, "data: [DONE]")
	fmt.Fprintln(w)
	Flush(w)
}

// Flush pushes buffered output to the client if the writer supports it
func Flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
}

func SetJSONHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
}

type MockServerOption func(*mockServerConfig)

type mockServerConfig struct {
	validateAuth bool
	authHeader   string
	authValue    string
}

func WithAuthValidation(header, value string) MockServerOption {
	return func(cfg *mockServerConfig) {
		cfg.validateAuth = true
		cfg.authHeader = header
		cfg.authValue = value
	}
}

// NewMockServer starts an httptest server closed at test cleanup
func NewMockServer(t *testing.T, handler http.HandlerFunc, opts ...MockServerOption) *httptest.Server {
	t.Helper()
	cfg := &mockServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	wrappedHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.validateAuth {
			if r.Header.Get(cfg.authHeader) != cfg.authValue {
				t.Errorf("Expected %s header '%s', got '%s'", cfg.authHeader, cfg.authValue, r.Header.Get(cfg.authHeader))
			}
		}
		handler(w, r)
	})

	server := httptest.NewServer(wrappedHandler)
	t.Cleanup(server.Close)
	return server
}

// StatusHandler answers every request with status and body
func StatusHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetJSONHeaders(w)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func UnauthorizedHandler(errorBody string) http.HandlerFunc {
	return StatusHandler(http.StatusUnauthorized, errorBody)
}

// RateLimitHandler answers 429 with a Retry-After header
func RateLimitHandler(retryAfter, errorBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		StatusHandler(http.StatusTooManyRequests, errorBody)(w, r)
	}
}

func InternalErrorHandler(errorBody string) http.HandlerFunc {
	return StatusHandler(http.StatusInternalServerError, errorBody)
}

// JSONHandler answers every request with a 200 JSON body
func JSONHandler(body string) http.HandlerFunc {
	return StatusHandler(http.StatusOK, body)
}

func OpenAIStreamChunk(content string, finishReason string) string {
	fr := "null"
	if finishReason != "" {
		fr = fmt.Sprintf(`"%s"`, finishReason)
	}
	deltaContent := ""
	if content != "" {
		deltaContent = fmt.Sprintf(`"content":"%s"`, content)
	}
	return fmt.Sprintf(`{"id":"chatcmpl-123","object":"chat.completion.chunk","created":1234567890,"model":"gpt-4o","choices":[{"index":0,"delta":{%s},"finish_reason":%s}]}`, deltaContent, fr)
}

func OpenAIToolCallChunk(index int, id, name, args string) string {
	idPart := ""
	if id != "" {
		idPart = fmt.Sprintf(`"id":"%s","type":"function",`, id)
	}
	namePart := ""
	if name != "" {
		namePart = fmt.Sprintf(`"name":"%s",`, name)
	}
	return fmt.Sprintf(`{"id":"chatcmpl-123","object":"chat.completion.chunk","created":1234567890,"model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":%d,%s"function":{%s"arguments":"%s"}}]},"finish_reason":null}]}`, index, idPart, namePart, strings.ReplaceAll(args, `"`, `\"`))
}

// OpenAIUsageChunk is the trailing chunk sent when stream_options.include_usage is set
func OpenAIUsageChunk(prompt, completion int) string {
	return fmt.Sprintf(`{"id":"chatcmpl-123","object":"chat.completion.chunk","created":1234567890,"model":"gpt-4o","choices":[],"usage":{"prompt_tokens":%d,"completion_tokens":%d,"total_tokens":%d}}`, prompt, completion, prompt+completion)
}

// OpenAIResponse is a non-streamed chat completion body
func OpenAIResponse(content, finishReason string) string {
	return fmt.Sprintf(`{"id":"chatcmpl-123","object":"chat.completion","created":1234567890,"model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"%s"},"finish_reason":"%s"}],"usage":{"prompt_tokens":9,"completion_tokens":3,"total_tokens":12}}`, content, finishReason)
}

func OpenAIStreamHandler(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetSSEHeaders(w)
		WriteSSE(w, "", OpenAIStreamChunk("", ""))
		WriteSSE(w, "", OpenAIStreamChunk(content, ""))
		WriteSSE(w, "", OpenAIStreamChunk("", "stop"))
		WriteSSE(w, "", OpenAIUsageChunk(10, 5))
		WriteSSEDone(w)
	}
}

func AnthropicMessageStart(inputTokens int) string {
	return fmt.Sprintf(`{"type":"message_start","message":{"id":"msg_123","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-20250514","stop_reason":null,"usage":{"input_tokens":%d,"output_tokens":0}}}`, inputTokens)
}

func AnthropicContentBlockStart(index int, blockType string) string {
	if blockType == "text" {
		return fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"text","text":""}}`, index)
	}
	return AnthropicToolUseStart(index, "toolu_123", "")
}

func AnthropicToolUseStart(index int, id, name string) string {
	return fmt.Sprintf(`{"type":"content_block_start","index":%d,"content_block":{"type":"tool_use","id":"%s","name":"%s","input":{}}}`, index, id, name)
}

func AnthropicTextDelta(index int, text string) string {
	return fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"text_delta","text":"%s"}}`, index, text)
}

func AnthropicInputJSONDelta(index int, partial string) string {
	return fmt.Sprintf(`{"type":"content_block_delta","index":%d,"delta":{"type":"input_json_delta","partial_json":"%s"}}`, index, strings.ReplaceAll(partial, `"`, `\"`))
}

func AnthropicContentBlockStop(index int) string {
	return fmt.Sprintf(`{"type":"content_block_stop","index":%d}`, index)
}

func AnthropicMessageDelta(stopReason string, outputTokens int) string {
	return fmt.Sprintf(`{"type":"message_delta","delta":{"stop_reason":"%s","stop_sequence":null},"usage":{"output_tokens":%d}}`, stopReason, outputTokens)
}

func AnthropicMessageStop() string {
	return `{"type":"message_stop"}`
}

// AnthropicResponse is a non-streamed messages body
func AnthropicResponse(text, stopReason string) string {
	return fmt.Sprintf(`{"id":"msg_123","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[{"type":"text","text":"%s"}],"stop_reason":"%s","usage":{"input_tokens":10,"output_tokens":5}}`, text, stopReason)
}

func AnthropicStreamHandler(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetSSEHeaders(w)
		WriteSSE(w, "message_start", AnthropicMessageStart(10))
		WriteSSE(w, "content_block_start", AnthropicContentBlockStart(0, "text"))
		WriteSSE(w, "ping", `{"type":"ping"}`)
		WriteSSE(w, "content_block_delta", AnthropicTextDelta(0, content))
		WriteSSE(w, "content_block_stop", AnthropicContentBlockStop(0))
		WriteSSE(w, "message_delta", AnthropicMessageDelta("end_turn", 5))
		WriteSSE(w, "message_stop", AnthropicMessageStop())
	}
}

// AnthropicToolStreamHandler streams one tool_use block whose input arrives in fragments
func AnthropicToolStreamHandler(id, name string, fragments ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetSSEHeaders(w)
		WriteSSE(w, "message_start", AnthropicMessageStart(20))
		WriteSSE(w, "content_block_start", AnthropicToolUseStart(0, id, name))
		for _, f := range fragments {
			WriteSSE(w, "content_block_delta", AnthropicInputJSONDelta(0, f))
		}
		WriteSSE(w, "content_block_stop", AnthropicContentBlockStop(0))
		WriteSSE(w, "message_delta", AnthropicMessageDelta("tool_use", 15))
		WriteSSE(w, "message_stop", AnthropicMessageStop())
	}
}

// TruncatedStreamHandler sends the given OpenAI deltas and closes without a finish
func TruncatedStreamHandler(contents ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetSSEHeaders(w)
		for _, c := range contents {
			WriteSSE(w, "", OpenAIStreamChunk(c, ""))
		}
	}
}

// HangingStreamHandler sends the given OpenAI deltas and then blocks until the client goes away.
// Released is closed once the handler observed the disconnect.
type HangingStreamHandler struct {
	Contents []string
	Released chan struct{}
}

func NewHangingStreamHandler(contents ...string) *HangingStreamHandler {
	return &HangingStreamHandler{Contents: contents, Released: make(chan struct{})}
}

func (h *HangingStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	SetSSEHeaders(w)
	for _, c := range h.Contents {
		WriteSSE(w, "", OpenAIStreamChunk(c, ""))
	}
	<-r.Context().Done()
	close(h.Released)
}

// RetryHandler fails the first failUntil requests with failStatusCode
type RetryHandler struct {
	callCount      int32
	failUntil      int32
	failStatusCode int
	failBody       string
	successHandler http.HandlerFunc
}

func NewRetryHandler(failUntil, failStatusCode int, failBody string, successHandler http.HandlerFunc) *RetryHandler {
	return &RetryHandler{
		failUntil:      int32(failUntil),
		failStatusCode: failStatusCode,
		failBody:       failBody,
		successHandler: successHandler,
	}
}

func (h *RetryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := atomic.AddInt32(&h.callCount, 1)
	if n <= h.failUntil {
		w.WriteHeader(h.failStatusCode)
		_, _ = w.Write([]byte(h.failBody))
		return
	}
	h.successHandler(w, r)
}

func (h *RetryHandler) CallCount() int {
	return int(atomic.LoadInt32(&h.callCount))
}
