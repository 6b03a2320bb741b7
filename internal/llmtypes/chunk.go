package llmtypes

// ChunkKind tags a streamed chunk
type ChunkKind string

const (
	ChunkStart         ChunkKind = "start"
	ChunkContent       ChunkKind = "content"
	ChunkToolCallStart ChunkKind = "tool_call_start"
	ChunkToolCallDelta ChunkKind = "tool_call_delta"
	ChunkToolCallEnd   ChunkKind = "tool_call_end"
	ChunkUsage         ChunkKind = "usage"
	ChunkFinish        ChunkKind = "finish"
	ChunkError         ChunkKind = "error"
)

// ChatChunk is one unit of a streamed generation.
// Only the fields relevant to Kind are populated.
type ChatChunk struct {
	Kind           ChunkKind    `json:"kind"`
	Model          string       `json:"model,omitempty"`           // start
	Text           string       `json:"text,omitempty"`            // content
	CallID         string       `json:"call_id,omitempty"`         // tool_call_*
	Name           string       `json:"name,omitempty"`            // tool_call_start
	ArgumentsDelta string       `json:"arguments_delta,omitempty"` // tool_call_delta
	Usage          *Usage       `json:"usage,omitempty"`           // usage
	FinishReason   FinishReason `json:"finish_reason,omitempty"`   // finish
	Message        string       `json:"message,omitempty"`         // error

	// Err carries the typed cause of an error chunk in-process
	Err error `json:"-"`
}

// IsTerminal reports whether no chunk may follow this one
func (c ChatChunk) IsTerminal() bool {
	return c.Kind == ChunkFinish || c.Kind == ChunkError
}

func StartChunk(model string) ChatChunk {
	return ChatChunk{Kind: ChunkStart, Model: model}
}

func ContentChunk(text string) ChatChunk {
	return ChatChunk{Kind: ChunkContent, Text: text}
}

func ToolCallStartChunk(callID, name string) ChatChunk {
	return ChatChunk{Kind: ChunkToolCallStart, CallID: callID, Name: name}
}

func ToolCallDeltaChunk(callID, delta string) ChatChunk {
	return ChatChunk{Kind: ChunkToolCallDelta, CallID: callID, ArgumentsDelta: delta}
}

func ToolCallEndChunk(callID string) ChatChunk {
	return ChatChunk{Kind: ChunkToolCallEnd, CallID: callID}
}

func UsageChunk(u Usage) ChatChunk {
	u = u.Normalize()
	return ChatChunk{Kind: ChunkUsage, Usage: &u}
}

func FinishChunk(reason FinishReason) ChatChunk {
	return ChatChunk{Kind: ChunkFinish, FinishReason: reason}
}

// ErrorChunk builds a terminal error chunk from err
func ErrorChunk(err error) ChatChunk {
	return ChatChunk{Kind: ChunkError, Message: err.Error(), Err: err}
}
