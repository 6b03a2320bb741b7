// Package transform converts the canonical chat model to and from vendor wire formats.
//
// Each vendor adapter encodes requests and tool declarations, decodes complete
// responses, and decodes streamed server-sent events through a per-stream
// StreamDecoder that owns all reconstruction state (block index to call id,
// buffered usage and finish reason). Adapters also implement the inverse
// direction so one vendor's output can be re-encoded as another's.
package transform

import (
	"encoding/json"
	"fmt"

	"github.com/user/llmgate/internal/llmtypes"
)

// Transformer is a per-vendor schema adapter
type Transformer interface {
	// Name returns the vendor format name ("openai", "anthropic")
	Name() string

	// Endpoint returns the chat path appended to the provider base URL
	Endpoint() string

	// TransformRequest encodes a canonical request as the vendor request body
	TransformRequest(req llmtypes.ChatRequest) (json.RawMessage, error)

	// TransformTools encodes tool definitions in the vendor declaration shape
	TransformTools(tools []llmtypes.ToolDefinition) (json.RawMessage, error)

	// ParseResponse decodes a complete, non-streamed vendor payload
	ParseResponse(body []byte) (llmtypes.ChatResponse, error)

	// NewStreamDecoder returns fresh decoding state for one stream
	NewStreamDecoder() StreamDecoder

	// EncodeResponse encodes a canonical response as a vendor payload
	EncodeResponse(resp llmtypes.ChatResponse) (json.RawMessage, error)

	// NewStreamEncoder returns fresh encoding state for one stream
	NewStreamEncoder() StreamEncoder
}

// HeaderProvider is implemented by transformers whose vendor requires fixed
// request headers (for example an API version)
type HeaderProvider interface {
	Headers() map[string]string
}

// StreamDecoder turns vendor SSE events into canonical chunks.
// Decode must be called for every event in arrival order. Control events such
// as pings yield no chunks. Once a terminal chunk is returned, later calls
// return nothing.
type StreamDecoder interface {
	Decode(ev SSEEvent) ([]llmtypes.ChatChunk, error)

	// End is called when the transport reports EOF. It returns the terminal
	// chunks still owed if the vendor had already signalled completion, or an
	// error when the stream was cut short.
	End() ([]llmtypes.ChatChunk, error)

	// Done reports whether a terminal chunk has been produced
	Done() bool
}

// StreamEncoder turns canonical chunks into vendor SSE events
type StreamEncoder interface {
	Encode(chunk llmtypes.ChatChunk) ([]SSEEvent, error)
}

// DecodeAll runs a complete event sequence through a fresh decoder
func DecodeAll(t Transformer, events []SSEEvent) ([]llmtypes.ChatChunk, error) {
	dec := t.NewStreamDecoder()
	var out []llmtypes.ChatChunk
	for _, ev := range events {
		chunks, err := dec.Decode(ev)
		if err != nil {
			return out, err
		}
		out = append(out, chunks...)
	}
	if !dec.Done() {
		tail, err := dec.End()
		if err != nil {
			return out, err
		}
		out = append(out, tail...)
	}
	return out, nil
}

// EncodeAll runs a complete chunk sequence through a fresh encoder
func EncodeAll(t Transformer, chunks []llmtypes.ChatChunk) ([]SSEEvent, error) {
	enc := t.NewStreamEncoder()
	var out []SSEEvent
	for _, c := range chunks {
		events, err := enc.Encode(c)
		if err != nil {
			return out, err
		}
		out = append(out, events...)
	}
	return out, nil
}

// ForFormat returns a new transformer for a wire format name
func ForFormat(format string) (Transformer, error) {
	switch format {
	case "openai", "openai_compatible":
		return NewOpenAITransformer(), nil
	case "anthropic":
		return NewAnthropicTransformer(), nil
	default:
		return nil, fmt.Errorf("unsupported wire format: %s (supported: openai, anthropic)", format)
	}
}
