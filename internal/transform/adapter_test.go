package transform

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func TestAnthropicStreamToOpenAI(t *testing.T) {
	adapter := AnthropicStreamToOpenAI()

	var out []SSEEvent
	for _, ev := range anthropicToolStream() {
		converted, err := adapter.Convert(ev)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		out = append(out, converted...)
	}
	tail, err := adapter.Close()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	out = append(out, tail...)

	if !IsSSEDone(out[len(out)-1].Data) {
		t.Fatalf("Expected [DONE] last, got %s", out[len(out)-1].Data)
	}

	// Decoding the adapted stream must reconstruct the same canonical sequence
	chunks, err := DecodeAll(NewOpenAITransformer(), out)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	assertChunks(t, expectedAnthropicToolChunks(), chunks)
}

func TestAnthropicToOpenAIResponse(t *testing.T) {
	body := []byte(`{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-test",
		"content": [
			{"type": "text", "text": "Checking."},
			{"type": "tool_use", "id": "toolu_01", "name": "get_weather", "input": {"city": "Paris"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 12, "output_tokens": 8}
	}`)

	raw, err := AnthropicToOpenAIResponse(body)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var got openai.ChatCompletionResponse
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if len(got.Choices) != 1 {
		t.Fatalf("Expected 1 choice, got %d", len(got.Choices))
	}
	choice := got.Choices[0]
	if choice.FinishReason != openai.FinishReasonToolCalls {
		t.Errorf("Expected tool_calls, got %s", choice.FinishReason)
	}
	if choice.Message.Content != "Checking." {
		t.Errorf("Expected 'Checking.', got '%s'", choice.Message.Content)
	}
	if len(choice.Message.ToolCalls) != 1 || choice.Message.ToolCalls[0].Function.Arguments != `{"city":"Paris"}` {
		t.Errorf("Expected one tool call with city Paris, got %+v", choice.Message.ToolCalls)
	}
	if got.Usage.TotalTokens != 20 {
		t.Errorf("Expected 20 tokens, got %d", got.Usage.TotalTokens)
	}
}

func TestConvertResponse_OpenAIToAnthropic(t *testing.T) {
	body := []byte(`{"id":"c1","model":"gpt-test","choices":[{"index":0,"message":{"role":"assistant","content":"Hi"},"finish_reason":"length"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)

	raw, err := ConvertResponse(NewOpenAITransformer(), NewAnthropicTransformer(), body)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	var got anthropicResponse
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if got.StopReason != "max_tokens" {
		t.Errorf("Expected max_tokens, got %s", got.StopReason)
	}
	if len(got.Content) != 1 || got.Content[0].Text != "Hi" {
		t.Errorf("Expected single text block 'Hi', got %+v", got.Content)
	}
}
