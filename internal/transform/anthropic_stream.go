package transform

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llmtypes"
)

// anthropicStreamEvent covers every named event of the Messages stream
type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Message      *anthropicResponse     `json:"message,omitempty"`
	Index        int                    `json:"index"`
	ContentBlock *anthropicContentBlock `json:"content_block,omitempty"`
	Delta        *anthropicDelta        `json:"delta,omitempty"`
	Usage        *anthropicDeltaUsage   `json:"usage,omitempty"`
	Error        *anthropicError        `json:"error,omitempty"`
}

// anthropicDelta is the delta of content_block_delta and message_delta
type anthropicDelta struct {
	Type        string `json:"type,omitempty"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// anthropicDeltaUsage is cumulative; input_tokens is optional on message_delta
type anthropicDeltaUsage struct {
	InputTokens  *int `json:"input_tokens,omitempty"`
	OutputTokens int  `json:"output_tokens"`
}

// anthropicStreamDecoder turns Messages stream events into canonical chunks.
// Tool-use blocks are tracked by block index so interleaved fragments land on
// the right call.
type anthropicStreamDecoder struct {
	done       bool
	toolBlocks map[int]string
	usage      llmtypes.Usage
	hasUsage   bool
	stopReason string
}

// NewStreamDecoder returns a fresh Anthropic stream decoder
func (t *AnthropicTransformer) NewStreamDecoder() StreamDecoder {
	return &anthropicStreamDecoder{toolBlocks: make(map[int]string)}
}

func (d *anthropicStreamDecoder) Done() bool { return d.done }

func (d *anthropicStreamDecoder) Decode(ev SSEEvent) ([]llmtypes.ChatChunk, error) {
	if d.done || len(ev.Data) == 0 {
		return nil, nil
	}

	var data anthropicStreamEvent
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return nil, errors.NewInvalidFormatError(anthropicVendor, err)
	}
	eventType := data.Type
	if eventType == "" {
		eventType = ev.Event
	}

	switch eventType {
	case "message_start":
		model := ""
		if data.Message != nil {
			model = data.Message.Model
			d.usage.InputTokens = data.Message.Usage.InputTokens
			d.usage.OutputTokens = data.Message.Usage.OutputTokens
			d.hasUsage = true
		}
		return []llmtypes.ChatChunk{llmtypes.StartChunk(model)}, nil

	case "content_block_start":
		block := data.ContentBlock
		if block == nil {
			return nil, errors.NewMissingFieldError(anthropicVendor, "content_block")
		}
		switch block.Type {
		case "tool_use":
			id := block.ID
			if id == "" {
				id = fmt.Sprintf("toolu_%d", data.Index)
			}
			d.toolBlocks[data.Index] = id
			out := []llmtypes.ChatChunk{llmtypes.ToolCallStartChunk(id, block.Name)}
			if len(block.Input) > 0 && string(block.Input) != "{}" {
				out = append(out, llmtypes.ToolCallDeltaChunk(id, string(block.Input)))
			}
			return out, nil
		case "text":
			if block.Text != "" {
				return []llmtypes.ChatChunk{llmtypes.ContentChunk(block.Text)}, nil
			}
		}
		return nil, nil

	case "content_block_delta":
		if data.Delta == nil {
			return nil, errors.NewMissingFieldError(anthropicVendor, "delta")
		}
		switch data.Delta.Type {
		case "text_delta":
			if data.Delta.Text == "" {
				return nil, nil
			}
			return []llmtypes.ChatChunk{llmtypes.ContentChunk(data.Delta.Text)}, nil
		case "input_json_delta":
			id, ok := d.toolBlocks[data.Index]
			if !ok {
				return nil, errors.NewStreamError(anthropicVendor, fmt.Sprintf("input_json_delta for unknown block %d", data.Index), nil)
			}
			if data.Delta.PartialJSON == "" {
				return nil, nil
			}
			return []llmtypes.ChatChunk{llmtypes.ToolCallDeltaChunk(id, data.Delta.PartialJSON)}, nil
		}
		return nil, nil

	case "content_block_stop":
		id, ok := d.toolBlocks[data.Index]
		if !ok {
			return nil, nil
		}
		delete(d.toolBlocks, data.Index)
		return []llmtypes.ChatChunk{llmtypes.ToolCallEndChunk(id)}, nil

	case "message_delta":
		if data.Delta != nil && data.Delta.StopReason != "" {
			d.stopReason = data.Delta.StopReason
		}
		if data.Usage != nil {
			if data.Usage.InputTokens != nil {
				d.usage.InputTokens = *data.Usage.InputTokens
			}
			d.usage.OutputTokens = data.Usage.OutputTokens
			d.hasUsage = true
		}
		return nil, nil

	case "message_stop":
		return d.terminate(), nil

	case "error":
		d.done = true
		msg := "unknown stream error"
		if data.Error != nil {
			msg = data.Error.Message
		}
		return []llmtypes.ChatChunk{llmtypes.ErrorChunk(errors.NewStreamError(anthropicVendor, msg, nil))}, nil
	}

	// ping and unknown events
	return nil, nil
}

func (d *anthropicStreamDecoder) terminate() []llmtypes.ChatChunk {
	d.done = true
	var out []llmtypes.ChatChunk
	open := make([]int, 0, len(d.toolBlocks))
	for idx := range d.toolBlocks {
		open = append(open, idx)
	}
	sort.Ints(open)
	for _, idx := range open {
		out = append(out, llmtypes.ToolCallEndChunk(d.toolBlocks[idx]))
		delete(d.toolBlocks, idx)
	}
	if d.hasUsage {
		out = append(out, llmtypes.UsageChunk(d.usage))
	}
	return append(out, llmtypes.FinishChunk(AnthropicFinishReason(d.stopReason)))
}

func (d *anthropicStreamDecoder) End() ([]llmtypes.ChatChunk, error) {
	if d.done {
		return nil, nil
	}
	d.done = true
	return nil, errors.NewStreamError(anthropicVendor, "stream ended before message_stop", nil)
}

// anthropicStreamEncoder renders canonical chunks as Messages stream events
type anthropicStreamEncoder struct {
	id         string
	model      string
	started    bool
	finished   bool
	nextIndex  int
	textIndex  int
	textOpen   bool
	callBlocks map[string]int
	usage      *llmtypes.Usage
}

// NewStreamEncoder returns a fresh Anthropic stream encoder
func (t *AnthropicTransformer) NewStreamEncoder() StreamEncoder {
	return &anthropicStreamEncoder{
		id:         "msg_" + uuid.NewString(),
		textIndex:  -1,
		callBlocks: make(map[string]int),
	}
}

func anthropicEvent(name string, payload map[string]interface{}) (SSEEvent, error) {
	payload["type"] = name
	data, err := json.Marshal(payload)
	if err != nil {
		return SSEEvent{}, errors.NewInvalidFormatError(anthropicVendor, err)
	}
	return SSEEvent{Event: name, Data: data}, nil
}

func (e *anthropicStreamEncoder) Encode(c llmtypes.ChatChunk) ([]SSEEvent, error) {
	if e.finished {
		return nil, nil
	}

	var out []SSEEvent
	emit := func(name string, payload map[string]interface{}) error {
		ev, err := anthropicEvent(name, payload)
		if err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	}

	if !e.started && c.Kind != llmtypes.ChunkError {
		e.started = true
		if c.Kind == llmtypes.ChunkStart {
			e.model = c.Model
		}
		err := emit("message_start", map[string]interface{}{
			"message": map[string]interface{}{
				"id":            e.id,
				"type":          "message",
				"role":          "assistant",
				"model":         e.model,
				"content":       []interface{}{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]int{"input_tokens": 0, "output_tokens": 0},
			},
		})
		if err != nil {
			return nil, err
		}
		if c.Kind == llmtypes.ChunkStart {
			return out, nil
		}
	}

	var err error
	switch c.Kind {
	case llmtypes.ChunkStart:
		// duplicate start
	case llmtypes.ChunkContent:
		if !e.textOpen {
			e.textIndex = e.nextIndex
			e.nextIndex++
			e.textOpen = true
			err = emit("content_block_start", map[string]interface{}{
				"index":         e.textIndex,
				"content_block": map[string]interface{}{"type": "text", "text": ""},
			})
			if err != nil {
				return nil, err
			}
		}
		err = emit("content_block_delta", map[string]interface{}{
			"index": e.textIndex,
			"delta": map[string]interface{}{"type": "text_delta", "text": c.Text},
		})
	case llmtypes.ChunkToolCallStart:
		if err = e.closeText(emit); err != nil {
			return nil, err
		}
		idx := e.nextIndex
		e.nextIndex++
		e.callBlocks[c.CallID] = idx
		err = emit("content_block_start", map[string]interface{}{
			"index": idx,
			"content_block": map[string]interface{}{
				"type":  "tool_use",
				"id":    c.CallID,
				"name":  c.Name,
				"input": map[string]interface{}{},
			},
		})
	case llmtypes.ChunkToolCallDelta:
		idx, ok := e.callBlocks[c.CallID]
		if !ok {
			return nil, errors.NewStreamError(anthropicVendor, "delta for unknown call "+c.CallID, nil)
		}
		err = emit("content_block_delta", map[string]interface{}{
			"index": idx,
			"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": c.ArgumentsDelta},
		})
	case llmtypes.ChunkToolCallEnd:
		idx, ok := e.callBlocks[c.CallID]
		if !ok {
			return nil, nil
		}
		delete(e.callBlocks, c.CallID)
		err = emit("content_block_stop", map[string]interface{}{"index": idx})
	case llmtypes.ChunkUsage:
		if c.Usage != nil {
			u := *c.Usage
			e.usage = &u
		}
	case llmtypes.ChunkFinish:
		e.finished = true
		if err = e.closeText(emit); err != nil {
			return nil, err
		}
		open := make([]int, 0, len(e.callBlocks))
		for id, idx := range e.callBlocks {
			open = append(open, idx)
			delete(e.callBlocks, id)
		}
		sort.Ints(open)
		for _, idx := range open {
			if err = emit("content_block_stop", map[string]interface{}{"index": idx}); err != nil {
				return nil, err
			}
		}
		usage := map[string]int{"output_tokens": 0}
		if e.usage != nil {
			usage["input_tokens"] = e.usage.InputTokens
			usage["output_tokens"] = e.usage.OutputTokens
		}
		err = emit("message_delta", map[string]interface{}{
			"delta": map[string]interface{}{"stop_reason": anthropicStopReason(c.FinishReason), "stop_sequence": nil},
			"usage": usage,
		})
		if err != nil {
			return nil, err
		}
		err = emit("message_stop", map[string]interface{}{})
	case llmtypes.ChunkError:
		e.finished = true
		err = emit("error", map[string]interface{}{
			"error": map[string]interface{}{"type": errors.WireCode(c.Err), "message": c.Message},
		})
	default:
		return nil, errors.NewUnsupportedError(anthropicVendor, fmt.Sprintf("chunk kind %q", c.Kind))
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *anthropicStreamEncoder) closeText(emit func(string, map[string]interface{}) error) error {
	if !e.textOpen {
		return nil
	}
	e.textOpen = false
	return emit("content_block_stop", map[string]interface{}{"index": e.textIndex})
}
