package bus

import (
	"time"

	"github.com/google/uuid"

	"github.com/user/llmgate/internal/llmtypes"
)

// Canonical topics
const (
	TopicAgentInput  = "agent.input"
	TopicAgentOutput = "agent.output"
)

// Kind tags the payload carried by a Message
type Kind string

const (
	KindChat              Kind = "chat"
	KindCommand           Kind = "command"
	KindAgentToken        Kind = "agent_token"
	KindAgentToolStart    Kind = "agent_tool_start"
	KindAgentToolComplete Kind = "agent_tool_complete"
	KindAgentComplete     Kind = "agent_complete"
	KindError             Kind = "error"
	KindSessionEnded      Kind = "session_ended"
	KindCommandResult     Kind = "command_result"
)

// IsTerminal reports whether the kind ends a generation
func (k Kind) IsTerminal() bool {
	return k == KindAgentComplete || k == KindError
}

// Message is the unit routed between the gateway and the agent.
// It is treated as immutable after Publish.
type Message struct {
	ID         string
	Topic      string
	Kind       Kind
	SessionID  string
	Payload    any
	ReplyTopic string
	CreatedAt  time.Time
}

// NewMessage builds a message with a fresh id and timestamp
func NewMessage(topic string, kind Kind, sessionID string, payload any) Message {
	return Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Kind:      kind,
		SessionID: sessionID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// ChatPayload carries one user turn. Token is the session generation token the
// consumer must use to append history and release the generation.
type ChatPayload struct {
	Content  string
	Token    string
	Provider string
}

// CommandPayload carries a client command the gateway does not handle itself
type CommandPayload struct {
	Name string
	Args map[string]any
}

// CommandResultPayload answers a CommandPayload
type CommandResultPayload struct {
	Name   string
	Result any
}

type TokenPayload struct {
	Token string
}

// ToolPayload describes a tool invocation. Result is set on completion.
type ToolPayload struct {
	CallID    string
	Tool      string
	Arguments string
	Result    string
	IsError   bool
}

type CompletePayload struct {
	Usage        llmtypes.Usage
	FinishReason llmtypes.FinishReason
}

// ErrorPayload reports a failed generation. RetryAfter is set for rate limiting.
type ErrorPayload struct {
	Code       string
	Message    string
	RetryAfter time.Duration
}

type SessionEndedPayload struct {
	Reason string
}
