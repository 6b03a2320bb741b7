package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/llmgate/internal/config"
	"github.com/user/llmgate/internal/logging"
)

// State is the lifecycle position of a connection
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateActive
	StateIdle
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the states reachable from each state. Any state may close.
var transitions = map[State][]State{
	StateConnecting: {StateConnected},
	StateConnected:  {StateActive},
	StateActive:     {StateIdle},
	StateIdle:       {StateActive},
}

func canTransition(from, to State) bool {
	if to == StateClosed {
		return from != StateClosed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Connection is one websocket client. Outbound frames go through a bounded
// queue drained by writePump; a client too slow to keep up is disconnected.
type Connection struct {
	id     string
	ws     *websocket.Conn
	cfg    config.ServerConfig
	logger *logging.Logger

	mu        sync.Mutex
	state     State
	sessionID string
	send      chan []byte
	closed    bool
}

func newConnection(id string, ws *websocket.Conn, cfg config.ServerConfig, logger *logging.Logger) *Connection {
	return &Connection{
		id:     id,
		ws:     ws,
		cfg:    cfg,
		logger: logger.With(logging.ConnID(id)),
		state:  StateConnecting,
		send:   make(chan []byte, cfg.SendQueue),
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the bound session, empty before connect
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Transition moves the connection to next if the state machine allows it
func (c *Connection) Transition(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, next) {
		return false
	}
	c.state = next
	return true
}

// bind attaches the session and moves connecting to connected
func (c *Connection) bind(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.sessionID = sessionID
	c.state = StateConnected
	return true
}

// rebind switches the connection to another session without changing its state
func (c *Connection) rebind(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

// Send queues msg without blocking. It returns false when the connection is
// closed or its queue is full, in which case the connection is closed.
func (c *Connection) Send(msg ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to encode server message", logging.String("type", msg.Type), logging.Error(err))
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("Send queue full, closing connection", logging.Int("queue", cap(c.send)))
		c.closeLocked()
		return false
	}
}

// CloseGracefully stops accepting frames; writePump flushes the queue and sends a close frame
func (c *Connection) CloseGracefully() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.state = StateClosed
	close(c.send)
}

// readPump delivers client frames to handle in arrival order until the socket fails
func (c *Connection) readPump(handle func(data []byte)) error {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return fmt.Errorf("read: %w", err)
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			c.Send(ErrorMessage(CodeInvalidMessage, "binary frames are not supported"))
			continue
		}
		handle(data)
	}
}

// writePump drains the send queue and keeps the peer alive with pings
func (c *Connection) writePump() error {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return nil
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}
