package llmtypes

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents a chat message
type Message struct {
	ID         string     `json:"id,omitempty"`
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // Tool calls made by assistant (for role="assistant")
	ToolCallID string     `json:"tool_call_id,omitempty"` // ID of the call this message answers (for role="tool")
}

// Validate checks the structural invariants of a message
func (m Message) Validate() error {
	switch m.Role {
	case RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("tool message requires a tool_call_id")
		}
	case RoleUser:
		if m.Content.IsEmpty() {
			return fmt.Errorf("user message requires content")
		}
	case RoleAssistant:
		if m.Content.IsEmpty() && len(m.ToolCalls) == 0 {
			return fmt.Errorf("assistant message requires content or tool calls")
		}
	case RoleSystem:
	default:
		return fmt.Errorf("unknown role %q", m.Role)
	}
	return nil
}

// ToolCall represents a tool/function call from the LLM
type ToolCall struct {
	ID        string          `json:"id"`        // Vendor-correlatable call id
	Name      string          `json:"name"`      // Name of the tool to call
	Arguments json.RawMessage `json:"arguments"` // Opaque JSON arguments
}

// ArgumentsMap decodes the arguments into a map. Empty arguments decode to an empty map.
func (tc ToolCall) ArgumentsMap() (map[string]interface{}, error) {
	args := map[string]interface{}{}
	if len(tc.Arguments) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(tc.Arguments, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments for tool %s: %w", tc.Name, err)
	}
	return args, nil
}

// ToolDefinition defines a tool for the LLM
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// SamplingParams holds optional generation parameters
type SamplingParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// ResponseFormatType is the requested output shape
type ResponseFormatType string

const (
	ResponseFormatText ResponseFormatType = "text"
	ResponseFormatJSON ResponseFormatType = "json_object"
)

// ResponseFormat is an optional response-format hint
type ResponseFormat struct {
	Type ResponseFormatType `json:"type"`
}

// ChatRequest is a request for a chat completion.
// It must not be mutated once handed to a provider; use Clone to derive variants.
type ChatRequest struct {
	Model          string           `json:"model"`
	Messages       []Message        `json:"messages"`
	Sampling       SamplingParams   `json:"sampling"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	ResponseFormat *ResponseFormat  `json:"response_format,omitempty"`
	Stream         bool             `json:"stream"`
}

// Clone returns a deep copy of the request
func (r ChatRequest) Clone() ChatRequest {
	out := r
	out.Messages = make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		out.Messages[i] = m.clone()
	}
	if r.Tools != nil {
		out.Tools = append([]ToolDefinition(nil), r.Tools...)
	}
	if r.Sampling.Stop != nil {
		out.Sampling.Stop = append([]string(nil), r.Sampling.Stop...)
	}
	if r.ResponseFormat != nil {
		rf := *r.ResponseFormat
		out.ResponseFormat = &rf
	}
	return out
}

// HasImages reports whether any message carries image content
func (r ChatRequest) HasImages() bool {
	for _, m := range r.Messages {
		if m.Content.HasImages() {
			return true
		}
	}
	return false
}

// Validate checks every message in the request
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("request has no messages")
	}
	seen := make(map[string]bool, len(r.Tools))
	for _, t := range r.Tools {
		if seen[t.Name] {
			return fmt.Errorf("duplicate tool definition %q", t.Name)
		}
		seen[t.Name] = true
	}
	for i, m := range r.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

func (m Message) clone() Message {
	out := m
	out.Content = m.Content.clone()
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc
			out.ToolCalls[i].Arguments = append(json.RawMessage(nil), tc.Arguments...)
		}
	}
	return out
}

// Usage tracks token usage
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Normalize fills TotalTokens when the vendor omitted it
func (u Usage) Normalize() Usage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// ChatResponse is a complete, non-streamed response
type ChatResponse struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Message      Message      `json:"message"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	Usage        Usage        `json:"usage"`
	FinishReason FinishReason `json:"finish_reason"`
}

// Capabilities describes what a provider can do
type Capabilities struct {
	Streaming   bool `json:"streaming" mapstructure:"streaming"`
	ToolCalling bool `json:"tool_calling" mapstructure:"tool_calling"`
	Vision      bool `json:"vision" mapstructure:"vision"`
	JSONMode    bool `json:"json_mode" mapstructure:"json_mode"`
}

// ProviderMetadata identifies a provider and its capabilities
type ProviderMetadata struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	Capabilities Capabilities `json:"capabilities"`
}
