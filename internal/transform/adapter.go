package transform

import (
	"encoding/json"

	"github.com/user/llmgate/internal/llmtypes"
)

// StreamAdapter re-encodes one vendor's event stream as another's by decoding
// into canonical chunks and encoding them again. It holds the state of both
// sides and must not be shared between streams.
type StreamAdapter struct {
	dec StreamDecoder
	enc StreamEncoder
}

// NewStreamAdapter creates an adapter from one wire format to another
func NewStreamAdapter(from, to Transformer) *StreamAdapter {
	return &StreamAdapter{
		dec: from.NewStreamDecoder(),
		enc: to.NewStreamEncoder(),
	}
}

// Convert translates one inbound event into zero or more outbound events
func (a *StreamAdapter) Convert(ev SSEEvent) ([]SSEEvent, error) {
	chunks, err := a.dec.Decode(ev)
	if err != nil {
		return nil, err
	}
	return a.encode(chunks)
}

// Close flushes terminal events owed at end of input
func (a *StreamAdapter) Close() ([]SSEEvent, error) {
	if a.dec.Done() {
		return nil, nil
	}
	chunks, err := a.dec.End()
	if err != nil {
		return nil, err
	}
	return a.encode(chunks)
}

func (a *StreamAdapter) encode(chunks []llmtypes.ChatChunk) ([]SSEEvent, error) {
	var out []SSEEvent
	for _, c := range chunks {
		events, err := a.enc.Encode(c)
		if err != nil {
			return out, err
		}
		out = append(out, events...)
	}
	return out, nil
}

// AnthropicStreamToOpenAI adapts an Anthropic Messages stream into OpenAI chunks
func AnthropicStreamToOpenAI() *StreamAdapter {
	return NewStreamAdapter(NewAnthropicTransformer(), NewOpenAITransformer())
}

// AnthropicToOpenAIResponse converts a complete Anthropic message into an
// OpenAI chat completion payload
func AnthropicToOpenAIResponse(body []byte) (json.RawMessage, error) {
	return ConvertResponse(NewAnthropicTransformer(), NewOpenAITransformer(), body)
}

// ConvertResponse decodes a complete payload with from and re-encodes it with to
func ConvertResponse(from, to Transformer, body []byte) (json.RawMessage, error) {
	resp, err := from.ParseResponse(body)
	if err != nil {
		return nil, err
	}
	return to.EncodeResponse(resp)
}
