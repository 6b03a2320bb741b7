package testing

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/user/llmgate/internal/llm"
	"github.com/user/llmgate/internal/llmtypes"
	"github.com/user/llmgate/internal/transform"
)

// MockProvider implements llm.Provider from scripted chunk sequences.
// Scripts are encoded to OpenAI SSE and decoded back, so consumers see the
// same ChatStream behaviour as with a real upstream.
type MockProvider struct {
	mu       sync.Mutex
	id       string
	caps     llmtypes.Capabilities
	scripts  [][]llmtypes.ChatChunk
	calls    int
	requests []llmtypes.ChatRequest

	// Err is returned by Chat and ChatStream before any streaming starts
	Err error
	// ValidateErr is returned by Validate
	ValidateErr error
	// Hold keeps the stream open after the script until the request context ends
	Hold bool
	// ChunkDelay is slept before each chunk
	ChunkDelay time.Duration
}

// NewMockProvider creates a provider that replays scripts in order; the last one repeats
func NewMockProvider(id string, scripts ...[]llmtypes.ChatChunk) *MockProvider {
	return &MockProvider{
		id:      id,
		caps:    llmtypes.Capabilities{Streaming: true, ToolCalling: true, Vision: true, JSONMode: true},
		scripts: scripts,
	}
}

func (m *MockProvider) ID() string { return m.id }

func (m *MockProvider) Metadata() llmtypes.ProviderMetadata {
	return llmtypes.ProviderMetadata{ID: m.id, DisplayName: m.id, Capabilities: m.caps}
}

func (m *MockProvider) Validate(ctx context.Context) error { return m.ValidateErr }

// Requests returns every request received so far
func (m *MockProvider) Requests() []llmtypes.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llmtypes.ChatRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many calls were made
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) next(req llmtypes.ChatRequest) []llmtypes.ChatChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req.Clone())
	idx := m.calls
	m.calls++
	if len(m.scripts) == 0 {
		return TextScript("")
	}
	if idx >= len(m.scripts) {
		idx = len(m.scripts) - 1
	}
	return m.scripts[idx]
}

func (m *MockProvider) Chat(ctx context.Context, req llmtypes.ChatRequest) (llmtypes.ChatResponse, error) {
	stream, err := m.ChatStream(ctx, req)
	if err != nil {
		return llmtypes.ChatResponse{}, err
	}
	return stream.Collect()
}

func (m *MockProvider) ChatStream(ctx context.Context, req llmtypes.ChatRequest) (*llm.ChatStream, error) {
	if m.Err != nil {
		m.next(req)
		return nil, m.Err
	}
	script := m.next(req)

	t := transform.NewOpenAITransformer()
	pr, pw := io.Pipe()
	go m.play(ctx, pw, t.NewStreamEncoder(), script)
	return llm.NewChatStream(ctx, m.id, pr, t.NewStreamDecoder()), nil
}

func (m *MockProvider) play(ctx context.Context, pw *io.PipeWriter, enc transform.StreamEncoder, script []llmtypes.ChatChunk) {
	for _, chunk := range script {
		if m.ChunkDelay > 0 {
			select {
			case <-time.After(m.ChunkDelay):
			case <-ctx.Done():
				_ = pw.CloseWithError(ctx.Err())
				return
			}
		}
		events, err := enc.Encode(chunk)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		for _, ev := range events {
			if err := transform.WriteSSE(pw, ev); err != nil {
				return
			}
		}
	}
	if m.Hold {
		<-ctx.Done()
		_ = pw.CloseWithError(ctx.Err())
		return
	}
	_ = pw.Close()
}

// TextScript streams the given text deltas and finishes with stop
func TextScript(deltas ...string) []llmtypes.ChatChunk {
	chunks := []llmtypes.ChatChunk{llmtypes.StartChunk("mock-model")}
	for _, d := range deltas {
		if d != "" {
			chunks = append(chunks, llmtypes.ContentChunk(d))
		}
	}
	return append(chunks,
		llmtypes.UsageChunk(llmtypes.Usage{InputTokens: 10, OutputTokens: len(deltas)}),
		llmtypes.FinishChunk(llmtypes.FinishStop))
}

// PartialScript streams text deltas with no terminal chunk; pair with Hold
func PartialScript(deltas ...string) []llmtypes.ChatChunk {
	chunks := []llmtypes.ChatChunk{llmtypes.StartChunk("mock-model")}
	for _, d := range deltas {
		chunks = append(chunks, llmtypes.ContentChunk(d))
	}
	return chunks
}

// ToolCallScript streams one tool call and finishes with tool_calls
func ToolCallScript(id, name, args string) []llmtypes.ChatChunk {
	return []llmtypes.ChatChunk{
		llmtypes.StartChunk("mock-model"),
		llmtypes.ToolCallStartChunk(id, name),
		llmtypes.ToolCallDeltaChunk(id, args),
		llmtypes.ToolCallEndChunk(id),
		llmtypes.UsageChunk(llmtypes.Usage{InputTokens: 12, OutputTokens: 4}),
		llmtypes.FinishChunk(llmtypes.FinishToolCalls),
	}
}
