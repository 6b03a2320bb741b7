package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llmtypes"
)

const (
	anthropicVendor = "anthropic"

	// AnthropicVersion is sent as the anthropic-version header
	AnthropicVersion = "2023-06-01"

	defaultAnthropicMaxTokens = 4096
)

// AnthropicTransformer implements Transformer for the Anthropic Messages API
type AnthropicTransformer struct {
	// DefaultMaxTokens is used when the request leaves max_tokens unset
	DefaultMaxTokens int
}

// NewAnthropicTransformer creates an Anthropic transformer
func NewAnthropicTransformer() *AnthropicTransformer {
	return &AnthropicTransformer{DefaultMaxTokens: defaultAnthropicMaxTokens}
}

// Name returns the format name
func (t *AnthropicTransformer) Name() string { return anthropicVendor }

// Endpoint returns the messages path
func (t *AnthropicTransformer) Endpoint() string { return "/v1/messages" }

// Headers returns the static headers every Anthropic request carries
func (t *AnthropicTransformer) Headers() map[string]string {
	return map[string]string{"anthropic-version": AnthropicVersion}
}

// anthropicRequest represents the request body for Anthropic API
type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

// anthropicMessage represents a message in Anthropic format
type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

// anthropicContentBlock represents a content block
type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Image fields (type=="image")
	Source *anthropicImageSource `json:"source,omitempty"`
	// Tool use fields (type=="tool_use")
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// Tool result fields (type=="tool_result")
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// anthropicImageSource is either inline base64 data or a URL
type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// anthropicTool represents a tool definition
type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// anthropicResponse represents the response from Anthropic API
type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *anthropicError         `json:"error,omitempty"`
}

// anthropicUsage represents token usage
type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicError represents an error from Anthropic
type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TransformRequest converts the canonical request to Anthropic format
func (t *AnthropicTransformer) TransformRequest(req llmtypes.ChatRequest) (json.RawMessage, error) {
	anReq, err := t.convertRequest(req)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(anReq)
	if err != nil {
		return nil, errors.NewInvalidFormatError(anthropicVendor, err)
	}
	return data, nil
}

func (t *AnthropicTransformer) convertRequest(req llmtypes.ChatRequest) (anthropicRequest, error) {
	if req.ResponseFormat != nil && req.ResponseFormat.Type == llmtypes.ResponseFormatJSON {
		return anthropicRequest{}, errors.NewUnsupportedError(anthropicVendor, "json_mode")
	}

	maxTokens := req.Sampling.MaxTokens
	if maxTokens <= 0 {
		maxTokens = t.DefaultMaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultAnthropicMaxTokens
		}
	}

	var system []string
	var messages []anthropicMessage
	for _, msg := range req.Messages {
		if msg.Role == llmtypes.RoleSystem {
			if text := msg.Content.AsText(); text != "" {
				system = append(system, text)
			}
			continue
		}
		anMsg, err := toAnthropicMessage(msg)
		if err != nil {
			return anthropicRequest{}, err
		}
		if len(anMsg.Content) == 0 {
			continue
		}
		// Anthropic requires alternating roles; tool results join the user turn
		if n := len(messages); n > 0 && messages[n-1].Role == anMsg.Role {
			messages[n-1].Content = append(messages[n-1].Content, anMsg.Content...)
			continue
		}
		messages = append(messages, anMsg)
	}

	return anthropicRequest{
		Model:         req.Model,
		Messages:      messages,
		System:        strings.Join(system, "\n\n"),
		MaxTokens:     maxTokens,
		Temperature:   req.Sampling.Temperature,
		TopP:          req.Sampling.TopP,
		StopSequences: req.Sampling.Stop,
		Tools:         toAnthropicTools(req.Tools),
		Stream:        req.Stream,
	}, nil
}

func toAnthropicMessage(msg llmtypes.Message) (anthropicMessage, error) {
	switch msg.Role {
	case llmtypes.RoleTool:
		return anthropicMessage{
			Role: "user",
			Content: []anthropicContentBlock{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content.AsText(),
			}},
		}, nil
	case llmtypes.RoleAssistant:
		blocks, err := toAnthropicBlocks(msg.Content)
		if err != nil {
			return anthropicMessage{}, err
		}
		for _, tc := range msg.ToolCalls {
			blocks = append(blocks, anthropicContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: json.RawMessage(argumentsString(tc.Arguments)),
			})
		}
		return anthropicMessage{Role: "assistant", Content: blocks}, nil
	default:
		blocks, err := toAnthropicBlocks(msg.Content)
		if err != nil {
			return anthropicMessage{}, err
		}
		return anthropicMessage{Role: "user", Content: blocks}, nil
	}
}

func toAnthropicBlocks(c llmtypes.Content) ([]anthropicContentBlock, error) {
	if !c.IsMultipart() {
		if c.Text == "" {
			return nil, nil
		}
		return []anthropicContentBlock{{Type: "text", Text: c.Text}}, nil
	}

	blocks := make([]anthropicContentBlock, 0, len(c.Parts))
	for _, part := range c.Parts {
		switch part.Type {
		case llmtypes.PartText:
			// Messages rejects text blocks without text
			if part.Text == "" {
				continue
			}
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: part.Text})
		case llmtypes.PartImageBase64:
			blocks = append(blocks, anthropicContentBlock{
				Type: "image",
				Source: &anthropicImageSource{
					Type:      "base64",
					MediaType: part.MediaType,
					Data:      part.Data,
				},
			})
		case llmtypes.PartImageURL:
			blocks = append(blocks, anthropicContentBlock{
				Type:   "image",
				Source: &anthropicImageSource{Type: "url", URL: part.URL},
			})
		default:
			return nil, errors.NewUnsupportedError(anthropicVendor, fmt.Sprintf("content part %q", part.Type))
		}
	}
	return blocks, nil
}

func toAnthropicTools(tools []llmtypes.ToolDefinition) []anthropicTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropicTool, len(tools))
	for i, tool := range tools {
		schema := tool.Parameters
		if schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out[i] = anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		}
	}
	return out
}

// TransformTools encodes tool definitions with input_schema
func (t *AnthropicTransformer) TransformTools(tools []llmtypes.ToolDefinition) (json.RawMessage, error) {
	encoded := toAnthropicTools(tools)
	if encoded == nil {
		encoded = []anthropicTool{}
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return nil, errors.NewInvalidFormatError(anthropicVendor, err)
	}
	return data, nil
}

// ParseResponse converts an Anthropic message to the canonical format
func (t *AnthropicTransformer) ParseResponse(body []byte) (llmtypes.ChatResponse, error) {
	var anResp anthropicResponse
	if err := json.Unmarshal(body, &anResp); err != nil {
		return llmtypes.ChatResponse{}, errors.NewInvalidFormatError(anthropicVendor, err)
	}
	if anResp.Error != nil {
		return llmtypes.ChatResponse{}, errors.NewAPIError(anthropicVendor, 0, anResp.Error.Message)
	}
	if anResp.Content == nil {
		return llmtypes.ChatResponse{}, errors.NewMissingFieldError(anthropicVendor, "content")
	}

	msg := llmtypes.Message{ID: anResp.ID, Role: llmtypes.RoleAssistant}
	var parts []llmtypes.ContentPart
	for _, block := range anResp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, llmtypes.ContentPart{Type: llmtypes.PartText, Text: block.Text})
		case "tool_use":
			if block.ID == "" {
				return llmtypes.ChatResponse{}, errors.NewMissingFieldError(anthropicVendor, "content.tool_use.id")
			}
			args := block.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			msg.ToolCalls = append(msg.ToolCalls, llmtypes.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	switch len(parts) {
	case 0:
		msg.Content = llmtypes.TextContent("")
	case 1:
		msg.Content = llmtypes.TextContent(parts[0].Text)
	default:
		msg.Content = llmtypes.PartsContent(parts...)
	}

	return llmtypes.ChatResponse{
		ID:        anResp.ID,
		Model:     anResp.Model,
		Message:   msg,
		ToolCalls: msg.ToolCalls,
		Usage: llmtypes.Usage{
			InputTokens:  anResp.Usage.InputTokens,
			OutputTokens: anResp.Usage.OutputTokens,
		}.Normalize(),
		FinishReason: AnthropicFinishReason(anResp.StopReason),
	}, nil
}

// EncodeResponse renders a canonical response as an Anthropic message
func (t *AnthropicTransformer) EncodeResponse(resp llmtypes.ChatResponse) (json.RawMessage, error) {
	blocks, err := toAnthropicBlocks(resp.Message.Content)
	if err != nil {
		return nil, err
	}
	for _, tc := range resp.Message.ToolCalls {
		blocks = append(blocks, anthropicContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: json.RawMessage(argumentsString(tc.Arguments)),
		})
	}
	if blocks == nil {
		blocks = []anthropicContentBlock{}
	}
	usage := resp.Usage.Normalize()
	data, err := json.Marshal(anthropicResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		Content:    blocks,
		StopReason: anthropicStopReason(resp.FinishReason),
		Usage: anthropicUsage{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		},
	})
	if err != nil {
		return nil, errors.NewInvalidFormatError(anthropicVendor, err)
	}
	return data, nil
}
