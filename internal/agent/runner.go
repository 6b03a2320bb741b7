// Package agent consumes chat turns from the bus, drives provider streams and
// publishes the resulting events back for delivery to clients.
package agent

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/user/llmgate/internal/bus"
	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/llm"
	"github.com/user/llmgate/internal/llmtypes"
	"github.com/user/llmgate/internal/logging"
	"github.com/user/llmgate/internal/prompts"
	"github.com/user/llmgate/internal/session"
	"github.com/user/llmgate/internal/tools"
)

// DefaultMaxRounds bounds tool-call round trips per turn
const DefaultMaxRounds = 5

// persistTimeout bounds history writes made after a generation was cancelled
const persistTimeout = 10 * time.Second

// Masker rewrites outbound message text before it reaches a provider
type Masker func(string) string

// Identity is the default Masker
func Identity(s string) string { return s }

// Providers is the provider lookup the runner needs
type Providers interface {
	ChatStream(ctx context.Context, id string, req llmtypes.ChatRequest) (*llm.ChatStream, error)
	List() []llmtypes.ProviderMetadata
}

// Config holds runner settings
type Config struct {
	MaxRounds    int
	SystemPrompt string

	// Provider is used when a chat names none. Empty selects the registry default.
	Provider string

	// Workspace is passed to prompt templates
	Workspace string
}

// Option customizes a Runner
type Option func(*Runner)

// WithTools offers the tools of src to the model and runs calls through exec.
// A nil exec offers tools without executing them.
func WithTools(src tools.Source, exec tools.Executor) Option {
	return func(r *Runner) {
		r.tools = src
		r.exec = exec
	}
}

// WithMasker sets the outbound masking function
func WithMasker(m Masker) Option {
	return func(r *Runner) {
		if m != nil {
			r.mask = m
		}
	}
}

// WithPrompts renders the system prompt from templates instead of Config.SystemPrompt
func WithPrompts(pm *prompts.Manager) Option {
	return func(r *Runner) {
		r.prompts = pm
	}
}

// Runner is the bus handler for agent.input
type Runner struct {
	cfg       Config
	bus       *bus.Bus
	sessions  *session.Manager
	providers Providers
	tools     tools.Source
	exec      tools.Executor
	mask      Masker
	prompts   *prompts.Manager
	logger    *logging.Logger

	wg sync.WaitGroup
}

// NewRunner creates a runner. Call Start to subscribe it.
func NewRunner(cfg Config, b *bus.Bus, sessions *session.Manager, providers Providers, logger *logging.Logger, opts ...Option) *Runner {
	if cfg.MaxRounds < 1 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &Runner{
		cfg:       cfg,
		bus:       b,
		sessions:  sessions,
		providers: providers,
		mask:      Identity,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes the runner to agent.input and returns the unsubscribe function
func (r *Runner) Start() func() {
	return r.bus.Subscribe(bus.TopicAgentInput, r)
}

// Wait blocks until every in-flight turn has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) CanHandle(kind bus.Kind) bool {
	return kind == bus.KindChat || kind == bus.KindCommand
}

// Handle starts a chat turn in the background, or answers a command synchronously
func (r *Runner) Handle(ctx context.Context, msg bus.Message) (*bus.Message, error) {
	switch msg.Kind {
	case bus.KindCommand:
		return r.command(msg)
	case bus.KindChat:
		payload, ok := msg.Payload.(bus.ChatPayload)
		if !ok {
			return nil, errors.NewError(errors.KindBus, fmt.Sprintf("chat message carries %T", msg.Payload), errors.ExitGeneralError)
		}
		genCtx, ok := r.sessions.GenerationContext(msg.SessionID, payload.Token)
		if !ok {
			return nil, errors.NewError(errors.KindBus, "chat message does not hold the session generation", errors.ExitGeneralError)
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.run(genCtx, msg.SessionID, payload)
		}()
		return nil, nil
	}
	return nil, nil
}

func (r *Runner) command(msg bus.Message) (*bus.Message, error) {
	payload, _ := msg.Payload.(bus.CommandPayload)
	var result any
	switch payload.Name {
	case "tools":
		defs := []llmtypes.ToolDefinition{}
		if r.tools != nil {
			defs = r.tools.Tools(msg.SessionID)
		}
		names := make([]string, len(defs))
		for i, d := range defs {
			names[i] = d.Name
		}
		result = names
	case "providers":
		result = r.providers.List()
	default:
		reply := bus.NewMessage("", bus.KindError, msg.SessionID, bus.ErrorPayload{
			Code:    "unknown_command",
			Message: fmt.Sprintf("unknown command %q", payload.Name),
		})
		return &reply, nil
	}
	reply := bus.NewMessage("", bus.KindCommandResult, msg.SessionID, bus.CommandResultPayload{Name: payload.Name, Result: result})
	return &reply, nil
}

// turn is the state of one chat turn
type turn struct {
	ctx       context.Context
	sessionID string
	token     string
	provider  string
	usage     llmtypes.Usage
	logger    *logging.Logger

	// final is the terminal event, published once the generation is released
	final *bus.Message
}

func (r *Runner) run(ctx context.Context, sessionID string, payload bus.ChatPayload) {
	provider := payload.Provider
	if provider == "" {
		provider = r.cfg.Provider
	}
	t := &turn{
		ctx:       ctx,
		sessionID: sessionID,
		token:     payload.Token,
		provider:  provider,
		logger:    r.logger.With(logging.SessionID(sessionID), logging.String(logging.KeyProvider, provider)),
	}
	defer func() {
		r.sessions.EndGeneration(sessionID, payload.Token)
		if t.final != nil {
			r.publishMessage(*t.final)
		}
	}()

	user := llmtypes.Message{Role: llmtypes.RoleUser, Content: llmtypes.TextContent(payload.Content)}
	if err := r.append(t, user); err != nil {
		r.fail(t, err)
		return
	}

	for round := 1; ; round++ {
		t.logger.Debug("Starting round", logging.Int("round", round))
		resp, done := r.round(t)
		if done {
			return
		}

		if resp.FinishReason != llmtypes.FinishToolCalls || len(resp.ToolCalls) == 0 || r.exec == nil {
			r.complete(t, resp.FinishReason)
			return
		}

		if round >= r.cfg.MaxRounds {
			t.logger.Warn("Round limit reached with pending tool calls", logging.Int("max_rounds", r.cfg.MaxRounds))
			r.skipTools(t, resp.ToolCalls, "not executed: round limit reached")
			r.complete(t, llmtypes.FinishToolCalls)
			return
		}

		if !r.runTools(t, resp.ToolCalls) {
			r.complete(t, llmtypes.FinishCancelled)
			return
		}
	}
}

// round streams one provider call, forwarding tokens. done reports that the
// turn already ended with a terminal event.
func (r *Runner) round(t *turn) (resp llmtypes.ChatResponse, done bool) {
	req, err := r.buildRequest(t)
	if err != nil {
		r.fail(t, err)
		return resp, true
	}

	stream, err := r.providers.ChatStream(t.ctx, t.provider, req)
	if err != nil {
		if t.ctx.Err() != nil {
			r.complete(t, llmtypes.FinishCancelled)
			return resp, true
		}
		r.fail(t, err)
		return resp, true
	}
	defer func() { _ = stream.Close() }()

	acc := llmtypes.NewStreamAccumulator()
	var finish llmtypes.FinishReason
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.fail(t, err)
			return resp, true
		}
		if err := acc.Apply(chunk); err != nil {
			r.fail(t, errors.NewStreamError(t.provider, "malformed chunk sequence", err))
			return resp, true
		}
		if chunk.Kind == llmtypes.ChunkFinish {
			finish = chunk.FinishReason
		}
		if chunk.Kind == llmtypes.ChunkContent && chunk.Text != "" {
			r.publish(t.sessionID, bus.KindAgentToken, bus.TokenPayload{Token: chunk.Text})
		}
	}

	if acc.Err() != nil {
		r.fail(t, acc.Err())
		return resp, true
	}

	if finish == llmtypes.FinishCancelled {
		if text := acc.Text(); text != "" {
			_ = r.append(t, llmtypes.Message{Role: llmtypes.RoleAssistant, Content: llmtypes.TextContent(text)})
		}
		r.complete(t, llmtypes.FinishCancelled)
		return resp, true
	}

	resp, err = acc.Response()
	if err != nil {
		r.fail(t, errors.NewStreamError(t.provider, "incomplete response", err))
		return resp, true
	}
	t.usage = addUsage(t.usage, resp.Usage)

	assistant := llmtypes.Message{Role: llmtypes.RoleAssistant, Content: resp.Message.Content, ToolCalls: resp.ToolCalls}
	if !assistant.Content.IsEmpty() || len(assistant.ToolCalls) > 0 {
		if err := r.append(t, assistant); err != nil {
			r.fail(t, err)
			return resp, true
		}
	}
	return resp, false
}

func (r *Runner) buildRequest(t *turn) (llmtypes.ChatRequest, error) {
	history, err := r.sessions.History(t.sessionID)
	if err != nil {
		return llmtypes.ChatRequest{}, err
	}

	system, err := r.systemPrompt(t)
	if err != nil {
		return llmtypes.ChatRequest{}, err
	}

	messages := make([]llmtypes.Message, 0, len(history)+1)
	if system != "" {
		messages = append(messages, llmtypes.Message{Role: llmtypes.RoleSystem, Content: llmtypes.TextContent(system)})
	}
	for _, m := range history {
		m.Content = m.Content.MapText(r.mask)
		messages = append(messages, m)
	}

	req := llmtypes.ChatRequest{Messages: messages, Stream: true}
	if r.tools != nil {
		req.Tools = r.tools.Tools(t.sessionID)
	}
	return req, nil
}

// systemPrompt renders the template for the turn's provider, falling back to Config.SystemPrompt
func (r *Runner) systemPrompt(t *turn) (string, error) {
	if r.prompts == nil {
		return r.cfg.SystemPrompt, nil
	}
	text, err := r.prompts.SystemPrompt(prompts.NewVars(t.provider, t.sessionID, r.cfg.Workspace))
	if err != nil {
		return "", errors.WrapError(err, errors.KindConfig, "failed to render system prompt", errors.ExitConfigError)
	}
	if text == "" {
		return r.cfg.SystemPrompt, nil
	}
	return text, nil
}

// runTools executes calls in order. It returns false when the turn was cancelled.
func (r *Runner) runTools(t *turn, calls []llmtypes.ToolCall) bool {
	for i, call := range calls {
		if t.ctx.Err() != nil {
			r.skipTools(t, calls[i:], "not executed: cancelled")
			return false
		}

		r.publish(t.sessionID, bus.KindAgentToolStart, bus.ToolPayload{
			CallID:    call.ID,
			Tool:      call.Name,
			Arguments: string(call.Arguments),
		})

		start := time.Now()
		result, err := r.exec.Execute(t.ctx, call)
		isError := err != nil
		if isError {
			result = "Error: " + err.Error()
			t.logger.Warn("Tool execution failed", logging.String("tool", call.Name), logging.Error(err))
		} else {
			t.logger.Debug("Tool executed", logging.String("tool", call.Name), logging.Duration("took", time.Since(start)))
		}

		r.publish(t.sessionID, bus.KindAgentToolComplete, bus.ToolPayload{
			CallID:  call.ID,
			Tool:    call.Name,
			Result:  result,
			IsError: isError,
		})
		if err := r.append(t, toolResult(call, result)); err != nil {
			r.logger.Error("Failed to record tool result", logging.SessionID(t.sessionID), logging.Error(err))
		}
	}
	return t.ctx.Err() == nil
}

// skipTools answers calls that will not run, so the history stays well-formed for the next turn
func (r *Runner) skipTools(t *turn, calls []llmtypes.ToolCall, reason string) {
	msgs := make([]llmtypes.Message, len(calls))
	for i, call := range calls {
		msgs[i] = toolResult(call, reason)
	}
	if err := r.append(t, msgs...); err != nil {
		r.logger.Error("Failed to record skipped tool calls", logging.SessionID(t.sessionID), logging.Error(err))
	}
}

func toolResult(call llmtypes.ToolCall, text string) llmtypes.Message {
	return llmtypes.Message{Role: llmtypes.RoleTool, ToolCallID: call.ID, Content: llmtypes.TextContent(text)}
}

// append records msgs even when the generation context is already cancelled
func (r *Runner) append(t *turn, msgs ...llmtypes.Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), persistTimeout)
	defer cancel()
	return r.sessions.Append(ctx, t.sessionID, t.token, msgs...)
}

func (r *Runner) complete(t *turn, reason llmtypes.FinishReason) {
	t.logger.Info("Turn complete",
		logging.String("finish_reason", string(reason)),
		logging.Int("total_tokens", t.usage.TotalTokens))
	msg := bus.NewMessage(bus.TopicAgentOutput, bus.KindAgentComplete, t.sessionID,
		bus.CompletePayload{Usage: t.usage, FinishReason: reason})
	t.final = &msg
}

func (r *Runner) fail(t *turn, err error) {
	if errors.KindOf(err) == errors.KindCancelled {
		r.complete(t, llmtypes.FinishCancelled)
		return
	}
	t.logger.Warn("Turn failed", logging.Error(err))
	payload := bus.ErrorPayload{Code: errors.WireCode(err), Message: err.Error()}
	if wait, ok := errors.RetryAfter(err); ok {
		payload.RetryAfter = wait
	}
	msg := bus.NewMessage(bus.TopicAgentOutput, bus.KindError, t.sessionID, payload)
	t.final = &msg
}

func (r *Runner) publish(sessionID string, kind bus.Kind, payload any) {
	r.publishMessage(bus.NewMessage(bus.TopicAgentOutput, kind, sessionID, payload))
}

func (r *Runner) publishMessage(msg bus.Message) {
	if err := r.bus.Publish(context.Background(), msg); err != nil {
		r.logger.Warn("Failed to publish agent output",
			logging.SessionID(msg.SessionID),
			logging.String("kind", string(msg.Kind)),
			logging.Error(err))
	}
}

func addUsage(a, b llmtypes.Usage) llmtypes.Usage {
	return llmtypes.Usage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		TotalTokens:  a.TotalTokens + b.TotalTokens,
	}
}
