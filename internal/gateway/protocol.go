package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/llmgate/internal/bus"
	"github.com/user/llmgate/internal/llmtypes"
)

// Client message types
const (
	TypeConnect = "connect"
	TypeChat    = "chat"
	TypeCommand = "command"
	TypePing    = "ping"
)

// Server message types
const (
	TypeConnected         = "connected"
	TypeAgentToken        = "agent_token"
	TypeAgentToolStart    = "agent_tool_start"
	TypeAgentToolComplete = "agent_tool_complete"
	TypeAgentComplete     = "agent_complete"
	TypeError             = "error"
	TypePong              = "pong"
	TypeSessionEnded      = "session_ended"
	TypeCommandResult     = "command_result"
)

// Error codes produced by the gateway itself. Provider and bus failures use errors.WireCode.
const (
	CodeInvalidMessage   = "invalid_message"
	CodeNotConnected     = "not_connected"
	CodeAlreadyConnected = "already_connected"
	CodeBusy             = "busy"
	CodeSessionMismatch  = "session_mismatch"
	CodeSessionNotFound  = "session_not_found"
	CodeUnauthorized     = "unauthorized"
	CodeUnknownCommand   = "unknown_command"
)

// Session end reasons
const (
	ReasonServerShutdown = "server_shutdown"
	ReasonSuperseded     = "superseded"
	ReasonEndedByClient  = "ended_by_client"
)

// ConnectMessage binds the connection to a new or existing session
type ConnectMessage struct {
	SessionID *string `json:"session_id"`
	Auth      *string `json:"auth"`
}

// ChatMessage submits one user turn
type ChatMessage struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	Provider  string `json:"provider,omitempty"`
}

// CommandMessage runs a named command
type CommandMessage struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// PingMessage asks for a pong carrying the same timestamp
type PingMessage struct {
	Timestamp json.Number `json:"timestamp"`
}

// ProtocolError rejects a client frame
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Code + ": " + e.Message
}

func invalid(format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: CodeInvalidMessage, Message: fmt.Sprintf(format, args...)}
}

// DecodeClientMessage parses a frame into *ConnectMessage, *ChatMessage,
// *CommandMessage or *PingMessage. Unknown types and malformed fields yield a
// ProtocolError with code invalid_message.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, invalid("malformed JSON: %v", err)
	}

	var msg any
	switch envelope.Type {
	case TypeConnect:
		msg = &ConnectMessage{}
	case TypeChat:
		msg = &ChatMessage{}
	case TypeCommand:
		msg = &CommandMessage{}
	case TypePing:
		msg = &PingMessage{}
	case "":
		return nil, invalid("missing type")
	default:
		return nil, invalid("unknown message type %q", envelope.Type)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(msg); err != nil {
		return nil, invalid("malformed %s message: %v", envelope.Type, err)
	}

	switch m := msg.(type) {
	case *ChatMessage:
		if m.Content == "" {
			return nil, invalid("chat requires content")
		}
	case *CommandMessage:
		if m.Name == "" {
			return nil, invalid("command requires name")
		}
	case *PingMessage:
		if m.Timestamp == "" {
			return nil, invalid("ping requires timestamp")
		}
	}
	return msg, nil
}

// WireUsage is the token usage reported in agent_complete
type WireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ServerMessage is every gateway-to-client frame. Type selects which fields are set.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`

	// agent_token
	Token string `json:"token,omitempty"`

	// agent_tool_start, agent_tool_complete
	Tool      string `json:"tool,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// agent_tool_complete, command_result
	Result any `json:"result,omitempty"`

	// agent_complete
	Usage        *WireUsage `json:"usage,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`

	// error
	Code       string   `json:"code,omitempty"`
	Message    string   `json:"message,omitempty"`
	RetryAfter *float64 `json:"retry_after,omitempty"` // seconds

	// pong
	Timestamp json.Number `json:"timestamp,omitempty"`

	// session_ended
	Reason string `json:"reason,omitempty"`

	// command_result
	Name string `json:"name,omitempty"`
}

func Connected(sessionID string) ServerMessage {
	return ServerMessage{Type: TypeConnected, SessionID: sessionID}
}

func Pong(ts json.Number) ServerMessage {
	return ServerMessage{Type: TypePong, Timestamp: ts}
}

func ErrorMessage(code, message string) ServerMessage {
	return ServerMessage{Type: TypeError, Code: code, Message: message}
}

func SessionEnded(sessionID, reason string) ServerMessage {
	return ServerMessage{Type: TypeSessionEnded, SessionID: sessionID, Reason: reason}
}

func CommandResult(sessionID, name string, result any) ServerMessage {
	return ServerMessage{Type: TypeCommandResult, SessionID: sessionID, Name: name, Result: result}
}

// FromBusMessage converts an agent.output message into its client frame
func FromBusMessage(msg bus.Message) (ServerMessage, bool) {
	out := ServerMessage{SessionID: msg.SessionID}
	switch p := msg.Payload.(type) {
	case bus.TokenPayload:
		out.Type = TypeAgentToken
		out.Token = p.Token
	case bus.ToolPayload:
		out.Tool = p.Tool
		out.CallID = p.CallID
		if msg.Kind == bus.KindAgentToolStart {
			out.Type = TypeAgentToolStart
			out.Arguments = p.Arguments
		} else {
			out.Type = TypeAgentToolComplete
			out.Result = p.Result
			out.IsError = p.IsError
		}
	case bus.CompletePayload:
		out.Type = TypeAgentComplete
		out.Usage = usageOf(p.Usage)
		out.FinishReason = string(p.FinishReason)
	case bus.ErrorPayload:
		out.Type = TypeError
		out.Code = p.Code
		out.Message = p.Message
		out.RetryAfter = retryAfterSeconds(p.RetryAfter)
	case bus.CommandResultPayload:
		out.Type = TypeCommandResult
		out.Name = p.Name
		out.Result = p.Result
	case bus.SessionEndedPayload:
		out.Type = TypeSessionEnded
		out.Reason = p.Reason
	default:
		return ServerMessage{}, false
	}
	return out, true
}

// retryAfterSeconds renders a wait hint for an error frame
func retryAfterSeconds(d time.Duration) *float64 {
	if d <= 0 {
		return nil
	}
	secs := d.Seconds()
	return &secs
}

// usageOf converts canonical usage to the wire shape
func usageOf(u llmtypes.Usage) *WireUsage {
	u = u.Normalize()
	return &WireUsage{PromptTokens: u.InputTokens, CompletionTokens: u.OutputTokens, TotalTokens: u.TotalTokens}
}
