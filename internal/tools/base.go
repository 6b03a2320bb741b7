// Package tools provides the tool set offered to the model during a chat.
package tools

import (
	"context"
	"fmt"

	"github.com/user/llmgate/internal/llmtypes"
)

// ModelRetryError is raised when a tool encounters a recoverable error.
// RetryableExecute retries the call when it sees one.
type ModelRetryError struct {
	Message string
}

func (e *ModelRetryError) Error() string {
	return e.Message
}

// Tool is the interface that all tools must implement
type Tool interface {
	// Name returns the tool name
	Name() string

	// Description returns a description of what the tool does
	Description() string

	// Parameters returns the JSON schema for the tool's parameters
	Parameters() map[string]interface{}

	// Execute runs the tool with the given parameters
	Execute(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// Source yields the tool definitions offered to the model for a session
type Source interface {
	Tools(sessionID string) []llmtypes.ToolDefinition
}

// Executor runs a tool call requested by the model and returns its textual result
type Executor interface {
	Execute(ctx context.Context, call llmtypes.ToolCall) (string, error)
}

// Definition converts a tool into the canonical declaration sent to providers
func Definition(t Tool) llmtypes.ToolDefinition {
	return llmtypes.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// BaseTool provides common functionality for all tools
type BaseTool struct {
	MaxRetries int
}

// NewBaseTool creates a new base tool
func NewBaseTool(maxRetries int) BaseTool {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return BaseTool{
		MaxRetries: maxRetries,
	}
}

// RetryableExecute executes fn, retrying only on ModelRetryError
func (bt *BaseTool) RetryableExecute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt < bt.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if _, ok := err.(*ModelRetryError); !ok {
			return nil, err
		}
	}

	return nil, fmt.Errorf("tool failed after %d attempts: %w", bt.MaxRetries, lastErr)
}
