// Package store persists session message history.
package store

import (
	"context"

	"github.com/user/llmgate/internal/llmtypes"
)

// HistoryStore saves and restores the ordered message history of a session
type HistoryStore interface {
	// Save replaces the stored history for sessionID
	Save(ctx context.Context, sessionID string, history []llmtypes.Message) error

	// Load returns the stored history. A missing session yields an empty slice, not an error.
	Load(ctx context.Context, sessionID string) ([]llmtypes.Message, error)

	Delete(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context) ([]string, error)
	Exists(ctx context.Context, sessionID string) (bool, error)
}

func copyHistory(history []llmtypes.Message) []llmtypes.Message {
	out := make([]llmtypes.Message, len(history))
	copy(out, history)
	return out
}
