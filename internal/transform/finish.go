package transform

import "github.com/user/llmgate/internal/llmtypes"

// Vendor finish reasons. Anything not listed decodes to stop.
var anthropicFinishReasons = map[string]llmtypes.FinishReason{
	"end_turn":      llmtypes.FinishStop,
	"stop_sequence": llmtypes.FinishStop,
	"pause_turn":    llmtypes.FinishStop,
	"tool_use":      llmtypes.FinishToolCalls,
	"max_tokens":    llmtypes.FinishLength,
	"refusal":       llmtypes.FinishContentFilter,
}

var openAIFinishReasons = map[string]llmtypes.FinishReason{
	"stop":           llmtypes.FinishStop,
	"length":         llmtypes.FinishLength,
	"tool_calls":     llmtypes.FinishToolCalls,
	"function_call":  llmtypes.FinishToolCalls,
	"content_filter": llmtypes.FinishContentFilter,
}

func decodeFinish(table map[string]llmtypes.FinishReason, vendor string) llmtypes.FinishReason {
	if r, ok := table[vendor]; ok {
		return r
	}
	return llmtypes.FinishStop
}

// AnthropicFinishReason maps an Anthropic stop_reason to the canonical reason
func AnthropicFinishReason(s string) llmtypes.FinishReason {
	return decodeFinish(anthropicFinishReasons, s)
}

// OpenAIFinishReason maps an OpenAI finish_reason to the canonical reason
func OpenAIFinishReason(s string) llmtypes.FinishReason {
	return decodeFinish(openAIFinishReasons, s)
}

func anthropicStopReason(r llmtypes.FinishReason) string {
	switch r {
	case llmtypes.FinishLength:
		return "max_tokens"
	case llmtypes.FinishToolCalls:
		return "tool_use"
	case llmtypes.FinishContentFilter:
		return "refusal"
	default:
		return "end_turn"
	}
}

func openAIFinishReason(r llmtypes.FinishReason) string {
	switch r {
	case llmtypes.FinishLength, llmtypes.FinishToolCalls, llmtypes.FinishContentFilter:
		return string(r)
	default:
		return "stop"
	}
}
