package testing

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/user/llmgate/internal/llmtypes"
)

func TestOpenAIStreamHandler(t *testing.T) {
	server := NewMockServer(t, OpenAIStreamHandler("Hello, world!"))

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	content := string(body)

	if !strings.Contains(content, "Hello, world!") {
		t.Errorf("Expected response to contain 'Hello, world!', got: %s", content)
	}
	if !strings.Contains(content, "[DONE]") {
		t.Errorf("Expected response to contain '[DONE]', got: %s", content)
	}
	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Expected SSE content type, got %s", resp.Header.Get("Content-Type"))
	}
}

func TestAnthropicStreamHandler(t *testing.T) {
	server := NewMockServer(t, AnthropicStreamHandler("Test response"))

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	content := string(body)

	if !strings.Contains(content, "Test response") {
		t.Errorf("Expected response to contain 'Test response', got: %s", content)
	}
	if !strings.Contains(content, "event: message_stop") {
		t.Errorf("Expected response to contain 'message_stop', got: %s", content)
	}
}

func TestRetryHandler(t *testing.T) {
	handler := NewRetryHandler(2, http.StatusServiceUnavailable, "busy", JSONHandler(`{}`))
	server := NewMockServer(t, handler.ServeHTTP)

	for i, want := range []int{503, 503, 200} {
		resp, err := http.Get(server.URL)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("request %d: status %d, want %d", i, resp.StatusCode, want)
		}
	}
	if handler.CallCount() != 3 {
		t.Errorf("Expected 3 calls, got %d", handler.CallCount())
	}
}

func TestRateLimitHandler_SetsRetryAfter(t *testing.T) {
	server := NewMockServer(t, RateLimitHandler("7", `{"error":{"message":"slow down"}}`))
	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") != "7" {
		t.Errorf("got %d Retry-After=%q", resp.StatusCode, resp.Header.Get("Retry-After"))
	}
}

func TestMockProvider_ReplaysScripts(t *testing.T) {
	p := NewMockProvider("mock", TextScript("Hel", "lo"), ToolCallScript("call_1", "lookup", `{"q":"go"}`))
	req := llmtypes.ChatRequest{Messages: []llmtypes.Message{{Role: llmtypes.RoleUser, Content: llmtypes.TextContent("hi")}}}

	resp, err := p.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content.AsText() != "Hello" {
		t.Errorf("Expected 'Hello', got %q", resp.Message.Content.AsText())
	}
	if resp.FinishReason != llmtypes.FinishStop {
		t.Errorf("Expected stop, got %s", resp.FinishReason)
	}

	resp, err = p.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("second Chat failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "lookup" || string(resp.ToolCalls[0].Arguments) != `{"q":"go"}` {
		t.Errorf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if p.CallCount() != 2 || len(p.Requests()) != 2 {
		t.Errorf("Expected 2 recorded calls, got %d", p.CallCount())
	}
}

func TestMockProvider_HoldCancels(t *testing.T) {
	p := NewMockProvider("mock", PartialScript("a"))
	p.Hold = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := p.ChatStream(ctx, llmtypes.ChatRequest{})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	defer stream.Close()

	var last llmtypes.ChatChunk
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if chunk.Kind == llmtypes.ChunkContent {
			cancel()
		}
		last = chunk
	}
	if last.Kind != llmtypes.ChunkFinish || last.FinishReason != llmtypes.FinishCancelled {
		t.Errorf("Expected Finish{cancelled}, got %+v", last)
	}
}
