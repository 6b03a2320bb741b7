package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llmtypes"
)

const openAIVendor = "openai"

// OpenAITransformer implements Transformer for OpenAI-compatible chat completions
type OpenAITransformer struct{}

// NewOpenAITransformer creates an OpenAI transformer
func NewOpenAITransformer() *OpenAITransformer {
	return &OpenAITransformer{}
}

// Name returns the format name
func (t *OpenAITransformer) Name() string { return openAIVendor }

// Endpoint returns the chat completions path
func (t *OpenAITransformer) Endpoint() string { return "/chat/completions" }

// openaiErrorEnvelope picks up in-band errors before decoding the full payload
type openaiErrorEnvelope struct {
	Choices json.RawMessage    `json:"choices"`
	Error   *openaiErrorDetail `json:"error,omitempty"`
}

// openaiErrorDetail represents an error from OpenAI
type openaiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code,omitempty"`
}

// TransformRequest converts the canonical request to OpenAI format
func (t *OpenAITransformer) TransformRequest(req llmtypes.ChatRequest) (json.RawMessage, error) {
	oaReq, err := t.buildRequest(req)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(oaReq)
	if err != nil {
		return nil, errors.NewInvalidFormatError(openAIVendor, err)
	}
	return data, nil
}

func (t *OpenAITransformer) buildRequest(req llmtypes.ChatRequest) (openai.ChatCompletionRequest, error) {
	oaReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Stream:    req.Stream,
		MaxTokens: req.Sampling.MaxTokens,
		Stop:      req.Sampling.Stop,
	}
	if req.Stream {
		oaReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.Sampling.Temperature != nil {
		oaReq.Temperature = explicitFloat32(*req.Sampling.Temperature)
	}
	if req.Sampling.TopP != nil {
		oaReq.TopP = explicitFloat32(*req.Sampling.TopP)
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == llmtypes.ResponseFormatJSON {
		oaReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		oaMsg, err := toOpenAIMessage(msg)
		if err != nil {
			return oaReq, err
		}
		messages = append(messages, oaMsg)
	}
	oaReq.Messages = messages

	if len(req.Tools) > 0 {
		oaReq.Tools = toOpenAITools(req.Tools)
	}
	return oaReq, nil
}

// explicitFloat32 keeps an explicit zero on the wire. go-openai drops zero
// sampling values through omitempty, so zero becomes the smallest float32.
func explicitFloat32(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}

func toOpenAIMessage(msg llmtypes.Message) (openai.ChatCompletionMessage, error) {
	oaMsg := openai.ChatCompletionMessage{Role: string(msg.Role)}

	switch msg.Role {
	case llmtypes.RoleTool:
		oaMsg.Role = openai.ChatMessageRoleTool
		oaMsg.ToolCallID = msg.ToolCallID
		oaMsg.Content = msg.Content.AsText()
		return oaMsg, nil
	case llmtypes.RoleAssistant:
		oaMsg.Role = openai.ChatMessageRoleAssistant
		oaMsg.Content = msg.Content.AsText()
		for _, tc := range msg.ToolCalls {
			oaMsg.ToolCalls = append(oaMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: argumentsString(tc.Arguments),
				},
			})
		}
		return oaMsg, nil
	}

	if !msg.Content.IsMultipart() {
		oaMsg.Content = msg.Content.Text
		return oaMsg, nil
	}

	for _, part := range msg.Content.Parts {
		switch part.Type {
		case llmtypes.PartText:
			oaMsg.MultiContent = append(oaMsg.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case llmtypes.PartImageURL:
			oaMsg.MultiContent = append(oaMsg.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: part.URL},
			})
		case llmtypes.PartImageBase64:
			oaMsg.MultiContent = append(oaMsg.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: dataURL(part.MediaType, part.Data)},
			})
		default:
			return oaMsg, errors.NewUnsupportedError(openAIVendor, fmt.Sprintf("content part %q", part.Type))
		}
	}
	return oaMsg, nil
}

func toOpenAITools(tools []llmtypes.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		params := tool.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// TransformTools encodes tool definitions as OpenAI function tools
func (t *OpenAITransformer) TransformTools(tools []llmtypes.ToolDefinition) (json.RawMessage, error) {
	data, err := json.Marshal(toOpenAITools(tools))
	if err != nil {
		return nil, errors.NewInvalidFormatError(openAIVendor, err)
	}
	return data, nil
}

// ParseResponse converts an OpenAI response to the canonical format
func (t *OpenAITransformer) ParseResponse(body []byte) (llmtypes.ChatResponse, error) {
	var envelope openaiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return llmtypes.ChatResponse{}, errors.NewInvalidFormatError(openAIVendor, err)
	}
	if envelope.Error != nil {
		return llmtypes.ChatResponse{}, errors.NewAPIError(openAIVendor, 0, envelope.Error.Message)
	}
	if envelope.Choices == nil {
		return llmtypes.ChatResponse{}, errors.NewMissingFieldError(openAIVendor, "choices")
	}

	var oaResp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &oaResp); err != nil {
		return llmtypes.ChatResponse{}, errors.NewInvalidFormatError(openAIVendor, err)
	}
	if len(oaResp.Choices) == 0 {
		return llmtypes.ChatResponse{}, errors.NewMissingFieldError(openAIVendor, "choices[0]")
	}

	choice := oaResp.Choices[0]
	result := llmtypes.ChatResponse{
		ID:    oaResp.ID,
		Model: oaResp.Model,
		Usage: llmtypes.Usage{
			InputTokens:  oaResp.Usage.PromptTokens,
			OutputTokens: oaResp.Usage.CompletionTokens,
			TotalTokens:  oaResp.Usage.TotalTokens,
		}.Normalize(),
		FinishReason: OpenAIFinishReason(string(choice.FinishReason)),
	}

	msg := llmtypes.Message{
		ID:      oaResp.ID,
		Role:    llmtypes.RoleAssistant,
		Content: fromOpenAIContent(choice.Message),
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, llmtypes.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: rawArguments(tc.Function.Arguments),
		})
	}
	result.Message = msg
	result.ToolCalls = msg.ToolCalls
	return result, nil
}

// fromOpenAIContent groups all non-tool text into one canonical text value
func fromOpenAIContent(m openai.ChatCompletionMessage) llmtypes.Content {
	if len(m.MultiContent) == 0 {
		return llmtypes.TextContent(m.Content)
	}
	var sb strings.Builder
	for _, part := range m.MultiContent {
		if part.Type == openai.ChatMessagePartTypeText {
			sb.WriteString(part.Text)
		}
	}
	return llmtypes.TextContent(sb.String())
}

// EncodeResponse renders a canonical response as an OpenAI chat completion
func (t *OpenAITransformer) EncodeResponse(resp llmtypes.ChatResponse) (json.RawMessage, error) {
	msg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: resp.Message.Content.AsText(),
	}
	for _, tc := range resp.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Name,
				Arguments: argumentsString(tc.Arguments),
			},
		})
	}
	usage := resp.Usage.Normalize()
	oaResp := openai.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: openai.FinishReason(openAIFinishReason(resp.FinishReason)),
		}},
		Usage: openai.Usage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.TotalTokens,
		},
	}
	data, err := json.Marshal(oaResp)
	if err != nil {
		return nil, errors.NewInvalidFormatError(openAIVendor, err)
	}
	return data, nil
}

func argumentsString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

// rawArguments keeps vendor argument text opaque; invalid JSON is wrapped as a string value
func rawArguments(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return json.RawMessage(quoted)
}

func dataURL(mediaType, data string) string {
	if mediaType == "" {
		mediaType = "image/png"
	}
	return "data:" + mediaType + ";base64," + data
}
