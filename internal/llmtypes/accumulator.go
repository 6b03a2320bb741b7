package llmtypes

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StreamAccumulator folds a chunk sequence into a ChatResponse.
// Tool call arguments are concatenated per call id and only parsed once the call ends.
type StreamAccumulator struct {
	model    string
	content  strings.Builder
	calls    []*pendingCall
	byID     map[string]*pendingCall
	usage    Usage
	finish   FinishReason
	err      error
	terminal bool
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
	done bool
}

// NewStreamAccumulator creates an empty accumulator
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{byID: make(map[string]*pendingCall)}
}

// Apply folds one chunk. Chunks after a terminal chunk are rejected.
func (a *StreamAccumulator) Apply(c ChatChunk) error {
	if a.terminal {
		return fmt.Errorf("chunk %s after terminal chunk", c.Kind)
	}
	switch c.Kind {
	case ChunkStart:
		a.model = c.Model
	case ChunkContent:
		a.content.WriteString(c.Text)
	case ChunkToolCallStart:
		pc := &pendingCall{id: c.CallID, name: c.Name}
		a.calls = append(a.calls, pc)
		a.byID[c.CallID] = pc
	case ChunkToolCallDelta:
		pc, ok := a.byID[c.CallID]
		if !ok {
			return fmt.Errorf("delta for unknown tool call %s", c.CallID)
		}
		pc.args.WriteString(c.ArgumentsDelta)
	case ChunkToolCallEnd:
		pc, ok := a.byID[c.CallID]
		if !ok {
			return fmt.Errorf("end for unknown tool call %s", c.CallID)
		}
		pc.done = true
	case ChunkUsage:
		if c.Usage != nil {
			a.usage = *c.Usage
		}
	case ChunkFinish:
		a.finish = c.FinishReason
		a.terminal = true
	case ChunkError:
		a.err = c.Err
		if a.err == nil {
			a.err = fmt.Errorf("%s", c.Message)
		}
		a.finish = FinishError
		a.terminal = true
	}
	return nil
}

// Done reports whether a terminal chunk has been applied
func (a *StreamAccumulator) Done() bool {
	return a.terminal
}

// Err returns the error carried by a terminal error chunk
func (a *StreamAccumulator) Err() error {
	return a.err
}

// Text returns the content received so far
func (a *StreamAccumulator) Text() string {
	return a.content.String()
}

// Response builds the final response. Tool calls whose arguments are not valid JSON are an error.
func (a *StreamAccumulator) Response() (ChatResponse, error) {
	calls := make([]ToolCall, 0, len(a.calls))
	for _, pc := range a.calls {
		raw := strings.TrimSpace(pc.args.String())
		if raw == "" {
			raw = "{}"
		}
		if !json.Valid([]byte(raw)) {
			return ChatResponse{}, fmt.Errorf("tool call %s has invalid arguments JSON", pc.id)
		}
		calls = append(calls, ToolCall{ID: pc.id, Name: pc.name, Arguments: json.RawMessage(raw)})
	}

	msg := Message{Role: RoleAssistant, Content: TextContent(a.content.String())}
	if len(calls) > 0 {
		msg.ToolCalls = calls
	}
	finish := a.finish
	if finish == "" {
		finish = FinishStop
	}
	return ChatResponse{
		Model:        a.model,
		Message:      msg,
		ToolCalls:    msg.ToolCalls,
		Usage:        a.usage.Normalize(),
		FinishReason: finish,
	}, nil
}
