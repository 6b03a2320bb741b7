package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llmtypes"
)

// openAIStreamDecoder reconstructs canonical chunks from chat.completion.chunk events.
// Tool calls are keyed by their index; OpenAI only sends the id on the first delta.
type openAIStreamDecoder struct {
	started  bool
	done     bool
	calls    map[int]string
	openIdx  []int
	usage    *llmtypes.Usage
	finish   llmtypes.FinishReason
	finished bool
}

// NewStreamDecoder returns a fresh OpenAI stream decoder
func (t *OpenAITransformer) NewStreamDecoder() StreamDecoder {
	return &openAIStreamDecoder{calls: make(map[int]string)}
}

func (d *openAIStreamDecoder) Done() bool { return d.done }

func (d *openAIStreamDecoder) Decode(ev SSEEvent) ([]llmtypes.ChatChunk, error) {
	if d.done || len(ev.Data) == 0 {
		return nil, nil
	}
	if IsSSEDone(ev.Data) {
		return d.terminate(), nil
	}

	var envelope openaiErrorEnvelope
	if err := json.Unmarshal(ev.Data, &envelope); err != nil {
		return nil, errors.NewInvalidFormatError(openAIVendor, err)
	}
	if envelope.Error != nil {
		d.done = true
		err := errors.NewStreamError(openAIVendor, envelope.Error.Message, nil)
		return []llmtypes.ChatChunk{llmtypes.ErrorChunk(err)}, nil
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(ev.Data, &chunk); err != nil {
		return nil, errors.NewInvalidFormatError(openAIVendor, err)
	}

	var out []llmtypes.ChatChunk
	if !d.started {
		d.started = true
		out = append(out, llmtypes.StartChunk(chunk.Model))
	}

	if chunk.Usage != nil {
		u := llmtypes.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.TotalTokens,
		}
		d.usage = &u
	}

	if len(chunk.Choices) == 0 {
		return out, nil
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		out = append(out, llmtypes.ContentChunk(choice.Delta.Content))
	}

	for pos, tc := range choice.Delta.ToolCalls {
		// calls are already ended once a finish reason arrived
		if d.finished {
			break
		}
		idx := pos
		if tc.Index != nil {
			idx = *tc.Index
		}
		id, known := d.calls[idx]
		if !known {
			id = tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", idx)
			}
			d.calls[idx] = id
			d.openIdx = append(d.openIdx, idx)
			out = append(out, llmtypes.ToolCallStartChunk(id, tc.Function.Name))
		}
		if tc.Function.Arguments != "" {
			out = append(out, llmtypes.ToolCallDeltaChunk(id, tc.Function.Arguments))
		}
	}

	if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
		out = append(out, d.closeCalls()...)
		d.finish = OpenAIFinishReason(string(choice.FinishReason))
		d.finished = true
	}
	return out, nil
}

// closeCalls ends every open call in index order. Fragments for any index
// may interleave, so calls stay open until the finish reason or [DONE].
func (d *openAIStreamDecoder) closeCalls() []llmtypes.ChatChunk {
	sort.Ints(d.openIdx)
	out := make([]llmtypes.ChatChunk, 0, len(d.openIdx))
	for _, idx := range d.openIdx {
		out = append(out, llmtypes.ToolCallEndChunk(d.calls[idx]))
	}
	d.openIdx = d.openIdx[:0]
	return out
}

// terminate flushes open calls, then emits buffered usage and the finish chunk
func (d *openAIStreamDecoder) terminate() []llmtypes.ChatChunk {
	out := d.closeCalls()
	if d.usage != nil {
		out = append(out, llmtypes.UsageChunk(*d.usage))
	}
	reason := d.finish
	if !d.finished {
		reason = llmtypes.FinishStop
	}
	out = append(out, llmtypes.FinishChunk(reason))
	d.done = true
	return out
}

func (d *openAIStreamDecoder) End() ([]llmtypes.ChatChunk, error) {
	if d.done {
		return nil, nil
	}
	if d.finished {
		return d.terminate(), nil
	}
	d.done = true
	return nil, errors.NewStreamError(openAIVendor, "stream ended before completion", nil)
}

// openAIStreamEncoder renders canonical chunks as chat.completion.chunk events
type openAIStreamEncoder struct {
	id       string
	model    string
	created  int64
	indices  map[string]int
	usage    *llmtypes.Usage
	finished bool
}

// NewStreamEncoder returns a fresh OpenAI stream encoder
func (t *OpenAITransformer) NewStreamEncoder() StreamEncoder {
	return &openAIStreamEncoder{
		id:      "chatcmpl-" + time.Now().Format("20060102150405.000000"),
		created: time.Now().Unix(),
		indices: make(map[string]int),
	}
}

func (e *openAIStreamEncoder) chunk(delta openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) (SSEEvent, error) {
	resp := openai.ChatCompletionStreamResponse{
		ID:      e.id,
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return SSEEvent{}, errors.NewInvalidFormatError(openAIVendor, err)
	}
	return SSEEvent{Data: data}, nil
}

func (e *openAIStreamEncoder) Encode(c llmtypes.ChatChunk) ([]SSEEvent, error) {
	if e.finished {
		return nil, nil
	}

	var delta openai.ChatCompletionStreamChoiceDelta
	switch c.Kind {
	case llmtypes.ChunkStart:
		e.model = c.Model
		delta.Role = openai.ChatMessageRoleAssistant
	case llmtypes.ChunkContent:
		delta.Content = c.Text
	case llmtypes.ChunkToolCallStart:
		idx := len(e.indices)
		e.indices[c.CallID] = idx
		delta.ToolCalls = []openai.ToolCall{{
			Index:    &idx,
			ID:       c.CallID,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: c.Name},
		}}
	case llmtypes.ChunkToolCallDelta:
		idx, ok := e.indices[c.CallID]
		if !ok {
			return nil, errors.NewStreamError(openAIVendor, "delta for unknown call "+c.CallID, nil)
		}
		delta.ToolCalls = []openai.ToolCall{{
			Index:    &idx,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Arguments: c.ArgumentsDelta},
		}}
	case llmtypes.ChunkToolCallEnd:
		return nil, nil
	case llmtypes.ChunkUsage:
		if c.Usage != nil {
			u := *c.Usage
			e.usage = &u
		}
		return nil, nil
	case llmtypes.ChunkFinish:
		return e.finish(c.FinishReason)
	case llmtypes.ChunkError:
		e.finished = true
		data, err := json.Marshal(openaiErrorEnvelope{Error: &openaiErrorDetail{
			Message: c.Message,
			Type:    errors.WireCode(c.Err),
		}})
		if err != nil {
			return nil, errors.NewInvalidFormatError(openAIVendor, err)
		}
		return []SSEEvent{{Data: data}}, nil
	default:
		return nil, errors.NewUnsupportedError(openAIVendor, fmt.Sprintf("chunk kind %q", c.Kind))
	}

	ev, err := e.chunk(delta, "")
	if err != nil {
		return nil, err
	}
	return []SSEEvent{ev}, nil
}

// finish emits the finish_reason chunk, the usage-only chunk and [DONE]
func (e *openAIStreamEncoder) finish(reason llmtypes.FinishReason) ([]SSEEvent, error) {
	e.finished = true
	ev, err := e.chunk(openai.ChatCompletionStreamChoiceDelta{}, openai.FinishReason(openAIFinishReason(reason)))
	if err != nil {
		return nil, err
	}
	out := []SSEEvent{ev}

	if e.usage != nil {
		resp := openai.ChatCompletionStreamResponse{
			ID:      e.id,
			Object:  "chat.completion.chunk",
			Created: e.created,
			Model:   e.model,
			Choices: []openai.ChatCompletionStreamChoice{},
			Usage: &openai.Usage{
				PromptTokens:     e.usage.InputTokens,
				CompletionTokens: e.usage.OutputTokens,
				TotalTokens:      e.usage.TotalTokens,
			},
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return nil, errors.NewInvalidFormatError(openAIVendor, err)
		}
		out = append(out, SSEEvent{Data: data})
	}

	out = append(out, SSEEvent{Data: []byte("[DONE]")})
	return out, nil
}
