// Package gateway accepts websocket clients, binds them to sessions and
// relays their turns to the agent over the message bus.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/user/llmgate/internal/bus"
	"github.com/user/llmgate/internal/config"
	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/logging"
	"github.com/user/llmgate/internal/session"
)

// Fallbacks for zero-valued server settings
const (
	defaultSendQueue      = 256
	defaultMaxMessageSize = 1 << 20
	defaultPingInterval   = 30 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultWriteWait      = 10 * time.Second
)

// Server is the websocket front door. It serves /ws and /healthz.
type Server struct {
	cfg      config.ServerConfig
	sessions *session.Manager
	bus      *bus.Bus
	pool     *Pool
	logger   *logging.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	http     *http.Server

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu      sync.Mutex
	closing bool
	conns   sync.WaitGroup
}

// NewServer creates a server and subscribes it to agent.output
func NewServer(cfg config.ServerConfig, sessions *session.Manager, b *bus.Bus, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = defaultSendQueue
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		bus:      b,
		pool:     NewPool(),
		logger:   logger.Named("gateway"),
		mux:      http.NewServeMux(),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.mux.HandleFunc("/ws", s.serveWS)
	s.mux.HandleFunc("/healthz", s.serveHealth)
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.unsubscribe = b.Subscribe(bus.TopicAgentOutput, bus.HandlerFunc{
		Kinds: []bus.Kind{
			bus.KindAgentToken,
			bus.KindAgentToolStart,
			bus.KindAgentToolComplete,
			bus.KindAgentComplete,
			bus.KindError,
			bus.KindSessionEnded,
			bus.KindCommandResult,
		},
		Fn: s.deliver,
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Pool exposes the live connection table
func (s *Server) Pool() *Pool { return s.pool }

// ListenAndServe blocks until the listener fails or Shutdown is called
func (s *Server) ListenAndServe() error {
	s.logger.Info("Gateway listening", logging.String("addr", s.cfg.Addr))
	if err := s.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapError(err, errors.KindNetwork, "gateway listener failed", errors.ExitGeneralError)
	}
	return nil
}

// Shutdown tells every client its session is ending, closes the connections
// and waits for them to drain or ctx to expire. Sessions are kept.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	s.unsubscribe()
	conns := s.pool.All()
	for _, c := range conns {
		if sid := c.SessionID(); sid != "" {
			c.Send(SessionEnded(sid, ReasonServerShutdown))
		}
		c.CloseGracefully()
	}
	s.logger.Info("Gateway shutting down", logging.Int("connections", len(conns)))

	err := s.http.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = stderrors.Join(err, ctx.Err())
	}

	s.cancel()
	s.pool.Close()
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.logger.Warn("Rejected websocket origin", logging.String("origin", origin))
	return false
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := "ok"
	if s.closing {
		status = "shutting_down"
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"connections": s.pool.Len(),
		"sessions":    len(s.sessions.List()),
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()
	defer s.conns.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", logging.Error(err))
		return
	}

	conn := newConnection(uuid.NewString(), ws, s.cfg, s.logger)
	s.pool.Register(conn)
	conn.logger.Debug("Connection opened", logging.String("remote", r.RemoteAddr))

	var g errgroup.Group
	g.Go(func() error {
		defer conn.CloseGracefully()
		return conn.readPump(func(data []byte) { s.handle(conn, data) })
	})
	g.Go(func() error {
		defer func() { _ = ws.Close() }()
		return conn.writePump()
	})
	if err := g.Wait(); err != nil {
		conn.logger.Debug("Connection ended with error", logging.Error(err))
	}

	s.disconnect(conn)
}

// disconnect releases the connection but keeps its session for resumption
func (s *Server) disconnect(conn *Connection) {
	s.pool.Unregister(conn)
	if sid := conn.SessionID(); sid != "" {
		s.sessions.UnbindConnection(sid, conn.ID())
	}
	conn.logger.Debug("Connection closed", logging.SessionID(conn.SessionID()))
}

func (s *Server) handle(conn *Connection, data []byte) {
	msg, err := DecodeClientMessage(data)
	if err != nil {
		var perr *ProtocolError
		if stderrors.As(err, &perr) {
			conn.Send(ErrorMessage(perr.Code, perr.Message))
		}
		return
	}

	switch m := msg.(type) {
	case *PingMessage:
		conn.Send(Pong(m.Timestamp))
	case *ConnectMessage:
		s.handleConnect(conn, m)
	case *ChatMessage:
		s.handleChat(conn, m)
	case *CommandMessage:
		s.handleCommand(conn, m)
	}
}

func (s *Server) handleConnect(conn *Connection, m *ConnectMessage) {
	if conn.State() != StateConnecting {
		conn.Send(ErrorMessage(CodeAlreadyConnected, "connection is already bound to a session"))
		return
	}
	if s.cfg.AuthToken != "" {
		if m.Auth == nil || subtle.ConstantTimeCompare([]byte(*m.Auth), []byte(s.cfg.AuthToken)) != 1 {
			conn.logger.Warn("Rejected connect with bad credentials")
			conn.Send(ErrorMessage(CodeUnauthorized, "invalid or missing auth"))
			conn.CloseGracefully()
			return
		}
	}

	var requested string
	if m.SessionID != nil {
		requested = *m.SessionID
	}
	info, created, err := s.sessions.GetOrCreate(s.ctx, requested)
	if err != nil {
		conn.Send(ErrorMessage(errors.WireCode(err), err.Error()))
		return
	}
	if !conn.bind(info.ID) {
		conn.Send(ErrorMessage(CodeAlreadyConnected, "connection is already bound to a session"))
		return
	}
	s.attach(conn, info.ID)
	conn.Send(Connected(info.ID))

	if info.Generating {
		conn.Transition(StateActive)
	}
	conn.logger.Info("Session connected",
		logging.SessionID(info.ID),
		logging.Bool("created", created),
		logging.Int("messages", info.MessageCount))
}

// attach makes conn the owner of sessionID, ending any older connection's hold on it
func (s *Server) attach(conn *Connection, sessionID string) {
	if prev := s.pool.Bind(sessionID, conn); prev != nil {
		prev.logger.Info("Connection superseded", logging.SessionID(sessionID))
		prev.Send(SessionEnded(sessionID, ReasonSuperseded))
		prev.CloseGracefully()
	}
	if _, err := s.sessions.BindConnection(sessionID, conn.ID()); err != nil {
		conn.logger.Warn("Failed to bind session", logging.SessionID(sessionID), logging.Error(err))
	}
}

func (s *Server) handleChat(conn *Connection, m *ChatMessage) {
	switch conn.State() {
	case StateConnected, StateIdle:
	case StateActive:
		conn.Send(ErrorMessage(CodeBusy, "a generation is already in flight"))
		return
	default:
		conn.Send(ErrorMessage(CodeNotConnected, "send connect before chat"))
		return
	}

	sid := conn.SessionID()
	if m.SessionID != sid {
		conn.Send(ErrorMessage(CodeSessionMismatch, "chat session_id does not match the connected session"))
		return
	}

	_, token, err := s.sessions.BeginGeneration(sid)
	switch {
	case stderrors.Is(err, session.ErrBusy):
		conn.Send(ErrorMessage(CodeBusy, err.Error()))
		return
	case stderrors.Is(err, session.ErrNotFound):
		conn.Send(ErrorMessage(CodeSessionNotFound, err.Error()))
		return
	case err != nil:
		conn.Send(ErrorMessage(errors.WireCode(err), err.Error()))
		return
	}
	conn.Transition(StateActive)

	msg := bus.NewMessage(bus.TopicAgentInput, bus.KindChat, sid, bus.ChatPayload{
		Content:  m.Content,
		Token:    token,
		Provider: m.Provider,
	})
	msg.ReplyTopic = bus.TopicAgentOutput
	if err := s.bus.Publish(s.ctx, msg); err != nil {
		s.sessions.EndGeneration(sid, token)
		conn.Transition(StateIdle)
		conn.logger.Error("Failed to dispatch chat", logging.SessionID(sid), logging.Error(err))
		conn.Send(ErrorMessage(errors.WireCode(err), err.Error()))
	}
}

func (s *Server) handleCommand(conn *Connection, m *CommandMessage) {
	sid := conn.SessionID()
	if sid == "" {
		conn.Send(ErrorMessage(CodeNotConnected, "send connect before commands"))
		return
	}

	switch m.Name {
	case "cancel", "stop":
		cancelled := s.sessions.Cancel(sid)
		conn.Send(CommandResult(sid, m.Name, map[string]bool{"cancelled": cancelled}))

	case "history":
		history, err := s.sessions.History(sid)
		if err != nil {
			conn.Send(ErrorMessage(CodeSessionNotFound, err.Error()))
			return
		}
		conn.Send(CommandResult(sid, m.Name, history))

	case "new_session":
		if conn.State() == StateActive {
			conn.Send(ErrorMessage(CodeBusy, "cancel the current generation first"))
			return
		}
		info, err := s.sessions.Create()
		if err != nil {
			conn.Send(ErrorMessage(errors.WireCode(err), err.Error()))
			return
		}
		s.pool.Unbind(sid, conn)
		s.sessions.UnbindConnection(sid, conn.ID())
		conn.rebind(info.ID)
		s.attach(conn, info.ID)
		conn.Send(Connected(info.ID))

	case "end_session":
		s.sessions.Cancel(sid)
		if err := s.sessions.Delete(s.ctx, sid); err != nil && !stderrors.Is(err, session.ErrNotFound) {
			conn.Send(ErrorMessage(errors.WireCode(err), err.Error()))
			return
		}
		conn.Send(SessionEnded(sid, ReasonEndedByClient))
		conn.CloseGracefully()

	default:
		msg := bus.NewMessage(bus.TopicAgentInput, bus.KindCommand, sid, bus.CommandPayload{Name: m.Name, Args: m.Args})
		msg.ReplyTopic = bus.TopicAgentOutput
		if err := s.bus.Publish(s.ctx, msg); err != nil {
			conn.Send(ErrorMessage(CodeUnknownCommand, err.Error()))
		}
	}
}

// deliver routes an agent.output message to the session's active connection
func (s *Server) deliver(_ context.Context, msg bus.Message) (*bus.Message, error) {
	out, ok := FromBusMessage(msg)
	if !ok {
		s.logger.Warn("Dropping agent output with unknown payload",
			logging.SessionID(msg.SessionID),
			logging.String("kind", string(msg.Kind)))
		return nil, nil
	}
	conn, ok := s.pool.ActiveFor(msg.SessionID)
	if !ok {
		s.logger.Debug("No connection for session output",
			logging.SessionID(msg.SessionID),
			logging.String("kind", string(msg.Kind)))
		return nil, nil
	}

	// Command errors share the error kind; only a released generation ends the turn.
	if msg.Kind.IsTerminal() {
		if info, found := s.sessions.Get(msg.SessionID); !found || !info.Generating {
			conn.Transition(StateIdle)
		}
	}
	conn.Send(out)
	return nil, nil
}
