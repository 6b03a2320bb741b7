package llmtypes

import (
	"encoding/json"
	"testing"
)

func TestContent_MarshalString(t *testing.T) {
	data, err := json.Marshal(TextContent("hello"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if string(data) != `"hello"` {
		t.Errorf("Expected '\"hello\"', got '%s'", string(data))
	}
}

func TestContent_MarshalParts(t *testing.T) {
	c := PartsContent(
		ContentPart{Type: PartText, Text: "look"},
		ContentPart{Type: PartImageURL, URL: "https://example.com/cat.png"},
	)
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var decoded Content
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !decoded.IsMultipart() || len(decoded.Parts) != 2 {
		t.Fatalf("Expected 2 parts, got %+v", decoded)
	}
	if !decoded.HasImages() {
		t.Error("Expected content to report images")
	}
	if decoded.AsText() != "look" {
		t.Errorf("Expected text 'look', got '%s'", decoded.AsText())
	}
}

func TestContent_UnmarshalNull(t *testing.T) {
	var c Content
	if err := json.Unmarshal([]byte(`null`), &c); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !c.IsEmpty() {
		t.Error("Expected empty content")
	}
}

func TestContent_UnmarshalInvalid(t *testing.T) {
	var c Content
	if err := json.Unmarshal([]byte(`42`), &c); err == nil {
		t.Error("Expected error for numeric content")
	}
}

func TestMessage_Validate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"user with text", Message{Role: RoleUser, Content: TextContent("hi")}, false},
		{"user empty", Message{Role: RoleUser}, true},
		{"assistant with tool calls only", Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "x"}}}, false},
		{"assistant empty", Message{Role: RoleAssistant}, true},
		{"tool without id", Message{Role: RoleTool, Content: TextContent("42")}, true},
		{"tool with id", Message{Role: RoleTool, ToolCallID: "call_1", Content: TextContent("42")}, false},
		{"unknown role", Message{Role: "robot", Content: TextContent("beep")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChatRequest_ValidateDuplicateTools(t *testing.T) {
	req := ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: TextContent("hi")}},
		Tools:    []ToolDefinition{{Name: "a"}, {Name: "a"}},
	}
	if err := req.Validate(); err == nil {
		t.Error("Expected error for duplicate tool names")
	}
}

func TestChatRequest_CloneIsDeep(t *testing.T) {
	req := ChatRequest{
		Model: "m",
		Messages: []Message{{
			Role:      RoleAssistant,
			ToolCalls: []ToolCall{{ID: "1", Name: "x", Arguments: json.RawMessage(`{"a":1}`)}},
		}},
	}
	clone := req.Clone()
	clone.Messages[0].ToolCalls[0].Arguments[2] = 'b'
	clone.Messages[0].Role = RoleUser

	if string(req.Messages[0].ToolCalls[0].Arguments) != `{"a":1}` {
		t.Errorf("Expected original arguments untouched, got %s", req.Messages[0].ToolCalls[0].Arguments)
	}
	if req.Messages[0].Role != RoleAssistant {
		t.Errorf("Expected original role untouched, got %s", req.Messages[0].Role)
	}
}

func TestParseFinishReason(t *testing.T) {
	if got := ParseFinishReason("length"); got != FinishLength {
		t.Errorf("Expected length, got %s", got)
	}
	if got := ParseFinishReason("something_new"); got != FinishStop {
		t.Errorf("Expected unknown reason to default to stop, got %s", got)
	}
	if got := ParseFinishReason(""); got != FinishStop {
		t.Errorf("Expected empty reason to default to stop, got %s", got)
	}
}

func TestToolCall_ArgumentsMap(t *testing.T) {
	tc := ToolCall{Name: "read", Arguments: json.RawMessage(`{"path":"."}`)}
	args, err := tc.ArgumentsMap()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if args["path"] != "." {
		t.Errorf("Expected path '.', got %v", args["path"])
	}

	empty, err := ToolCall{}.ArgumentsMap()
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected empty map, got %v (%v)", empty, err)
	}
}
