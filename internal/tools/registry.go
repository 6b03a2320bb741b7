package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/user/llmgate/internal/llmtypes"
)

// MaxToolResponseSize caps a formatted tool result in bytes
const MaxToolResponseSize = 50000

// Registry holds the tools available to every session.
// It serves as both the Source and the Executor of the agent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a registry holding ts
func NewRegistry(ts ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t. Tool names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// Get looks a tool up by name
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Tools returns the definitions of all tools in registration order
func (r *Registry) Tools(sessionID string) []llmtypes.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llmtypes.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}

// Execute runs call and renders the result as text for the model
func (r *Registry) Execute(ctx context.Context, call llmtypes.ToolCall) (string, error) {
	t, ok := r.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	args, err := call.ArgumentsMap()
	if err != nil {
		return "", err
	}
	result, err := t.Execute(ctx, args)
	if err != nil {
		return "", err
	}
	return FormatResult(result)
}

// FormatResult renders a tool result: strings verbatim, everything else as JSON
func FormatResult(result interface{}) (string, error) {
	var text string
	switch v := result.(type) {
	case nil:
		text = ""
	case string:
		text = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode tool result: %w", err)
		}
		text = string(b)
	}
	if len(text) > MaxToolResponseSize {
		text = text[:MaxToolResponseSize] + fmt.Sprintf("\n\n[TRUNCATED - response exceeded limit, showing first %d bytes]", MaxToolResponseSize)
	}
	return text, nil
}
