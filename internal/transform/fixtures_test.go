package transform

import (
	"reflect"
	"testing"

	"github.com/user/llmgate/internal/llmtypes"
)

func anthropicEvents(pairs ...string) []SSEEvent {
	events := make([]SSEEvent, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		events = append(events, SSEEvent{Event: pairs[i], Data: []byte(pairs[i+1])})
	}
	return events
}

func dataEvents(payloads ...string) []SSEEvent {
	events := make([]SSEEvent, len(payloads))
	for i, p := range payloads {
		events[i] = SSEEvent{Data: []byte(p)}
	}
	return events
}

// anthropicToolStream is a text block followed by one tool call whose
// arguments arrive in two fragments with a ping in between
func anthropicToolStream() []SSEEvent {
	return anthropicEvents(
		"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"usage":{"input_tokens":10,"output_tokens":1}}}`,
		"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me check."}}`,
		"content_block_stop", `{"type":"content_block_stop","index":0}`,
		"content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_01","name":"get_weather","input":{}}}`,
		"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		"ping", `{"type":"ping"}`,
		"content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"Paris\"}"}}`,
		"content_block_stop", `{"type":"content_block_stop","index":1}`,
		"message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":20}}`,
		"message_stop", `{"type":"message_stop"}`,
	)
}

func expectedAnthropicToolChunks() []llmtypes.ChatChunk {
	return []llmtypes.ChatChunk{
		llmtypes.StartChunk("claude-test"),
		llmtypes.ContentChunk("Let me check."),
		llmtypes.ToolCallStartChunk("toolu_01", "get_weather"),
		llmtypes.ToolCallDeltaChunk("toolu_01", `{"city":`),
		llmtypes.ToolCallDeltaChunk("toolu_01", `"Paris"}`),
		llmtypes.ToolCallEndChunk("toolu_01"),
		llmtypes.UsageChunk(llmtypes.Usage{InputTokens: 10, OutputTokens: 20}),
		llmtypes.FinishChunk(llmtypes.FinishToolCalls),
	}
}

func assertChunks(t *testing.T, expected, got []llmtypes.ChatChunk) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("Expected %d chunks, got %d: %+v", len(expected), len(got), got)
	}
	for i := range expected {
		if !reflect.DeepEqual(expected[i], got[i]) {
			t.Errorf("Chunk %d: expected %+v, got %+v", i, expected[i], got[i])
		}
	}
}

// assertWellFormed checks the ordering rules every decoded stream must obey
func assertWellFormed(t *testing.T, chunks []llmtypes.ChatChunk) {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatal("Expected chunks, got none")
	}
	for i, c := range chunks[:len(chunks)-1] {
		if c.IsTerminal() {
			t.Errorf("Chunk %d (%s) is terminal but not last", i, c.Kind)
		}
		if c.Kind == llmtypes.ChunkUsage && chunks[i+1].Kind != llmtypes.ChunkFinish {
			t.Errorf("Expected usage to be followed by finish, got %s", chunks[i+1].Kind)
		}
	}
	if !chunks[len(chunks)-1].IsTerminal() {
		t.Errorf("Expected last chunk to be terminal, got %s", chunks[len(chunks)-1].Kind)
	}
}

func accumulate(t *testing.T, chunks []llmtypes.ChatChunk) llmtypes.ChatResponse {
	t.Helper()
	acc := llmtypes.NewStreamAccumulator()
	for _, c := range chunks {
		if err := acc.Apply(c); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
	}
	resp, err := acc.Response()
	if err != nil {
		t.Fatalf("Response failed: %v", err)
	}
	return resp
}
