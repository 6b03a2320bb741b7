// Package session owns per-session conversation state.
//
// All session state lives in a table owned by a single goroutine. Callers talk
// to it through Manager methods, which hand closures to that goroutine and wait
// for them to run. History writes are restricted to the holder of the
// session's generation token.
package session

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/llmgate/internal/llmtypes"
	"github.com/user/llmgate/internal/logging"
	"github.com/user/llmgate/internal/store"
)

var (
	ErrNotFound = stderrors.New("session not found")
	ErrBusy     = stderrors.New("a generation is already in flight for this session")
	ErrNotOwner = stderrors.New("caller does not hold the session generation token")
	ErrClosed   = stderrors.New("session manager closed")
)

// Session is the durable conversational context of one client
type Session struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	History   []llmtypes.Message

	// ConnID is the connection currently bound to the session, if any
	ConnID string

	token  string
	ctx    context.Context
	cancel context.CancelFunc
}

// Info is a read-only snapshot of a session
type Info struct {
	ID           string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Generating   bool      `json:"generating"`
	ConnID       string    `json:"conn_id,omitempty"`
}

func (s *Session) info() Info {
	return Info{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.History),
		Generating:   s.token != "",
		ConnID:       s.ConnID,
	}
}

type table map[string]*Session

// Manager serializes all access to the session table
type Manager struct {
	ops     chan func(table)
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once

	base       context.Context
	cancelBase context.CancelFunc

	store  store.HistoryStore
	logger *logging.Logger
}

// NewManager starts the table owner. A nil store keeps history in memory only.
func NewManager(hs store.HistoryStore, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	base, cancel := context.WithCancel(context.Background())
	m := &Manager{
		ops:        make(chan func(table)),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		base:       base,
		cancelBase: cancel,
		store:      hs,
		logger:     logger,
	}
	go m.loop()
	return m
}

func (m *Manager) loop() {
	sessions := make(table)
	defer close(m.stopped)
	for {
		select {
		case op := <-m.ops:
			op(sessions)
		case <-m.quit:
			for _, s := range sessions {
				if s.cancel != nil {
					s.cancel()
				}
			}
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it to finish
func (m *Manager) do(fn func(table)) error {
	done := make(chan struct{})
	select {
	case m.ops <- func(t table) { fn(t); close(done) }:
	case <-m.quit:
		return ErrClosed
	}
	<-done
	return nil
}

// Close cancels every in-flight generation and stops the owner goroutine
func (m *Manager) Close() {
	m.once.Do(func() {
		close(m.quit)
		<-m.stopped
		m.cancelBase()
	})
}

func newSession(id string, history []llmtypes.Message) *Session {
	now := time.Now()
	if history == nil {
		history = []llmtypes.Message{}
	}
	return &Session{ID: id, CreatedAt: now, UpdatedAt: now, History: history}
}

// Create starts a session with a generated id
func (m *Manager) Create() (Info, error) {
	s := newSession(uuid.NewString(), nil)
	err := m.do(func(t table) { t[s.ID] = s })
	if err != nil {
		return Info{}, err
	}
	m.logger.Debug("Session created", logging.SessionID(s.ID))
	return s.info(), nil
}

// Get returns a snapshot of a live session
func (m *Manager) Get(id string) (Info, bool) {
	var (
		info Info
		ok   bool
	)
	_ = m.do(func(t table) {
		if s, found := t[id]; found {
			info, ok = s.info(), true
		}
	})
	return info, ok
}

// GetOrCreate resumes session id, restoring its history from the store when it is
// not live. An empty id creates a fresh session. created reports whether the
// session did not exist before.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (info Info, created bool, err error) {
	if id == "" {
		info, err = m.Create()
		return info, true, err
	}
	if info, ok := m.Get(id); ok {
		return info, false, nil
	}

	history := []llmtypes.Message{}
	persisted := false
	if m.store != nil {
		if persisted, err = m.store.Exists(ctx, id); err != nil {
			return Info{}, false, err
		}
		if persisted {
			if history, err = m.store.Load(ctx, id); err != nil {
				return Info{}, false, err
			}
		}
	}

	err = m.do(func(t table) {
		s, ok := t[id]
		if !ok {
			s = newSession(id, history)
			t[id] = s
			created = !persisted
		}
		info = s.info()
	})
	if err == nil {
		m.logger.Debug("Session resumed",
			logging.SessionID(id),
			logging.Bool("created", created),
			logging.Int("messages", info.MessageCount))
	}
	return info, created, err
}

// BeginGeneration opens the cancellation handle of session id. The returned
// token authorizes Append and EndGeneration. Only one generation may be in
// flight per session.
func (m *Manager) BeginGeneration(id string) (context.Context, string, error) {
	var (
		ctx    context.Context
		token  string
		result error
	)
	err := m.do(func(t table) {
		s, ok := t[id]
		if !ok {
			result = ErrNotFound
			return
		}
		if s.token != "" {
			result = ErrBusy
			return
		}
		ctx, s.cancel = context.WithCancel(m.base)
		s.ctx = ctx
		s.token = uuid.NewString()
		token = s.token
	})
	if err != nil {
		return nil, "", err
	}
	return ctx, token, result
}

// GenerationContext returns the context of the generation identified by token
func (m *Manager) GenerationContext(id, token string) (context.Context, bool) {
	var ctx context.Context
	_ = m.do(func(t table) {
		if s, ok := t[id]; ok && token != "" && s.token == token {
			ctx = s.ctx
		}
	})
	return ctx, ctx != nil
}

// EndGeneration closes the handle opened by BeginGeneration. It reports false
// when token is not the current one.
func (m *Manager) EndGeneration(id, token string) bool {
	ended := false
	_ = m.do(func(t table) {
		s, ok := t[id]
		if !ok || token == "" || s.token != token {
			return
		}
		s.cancel()
		s.cancel = nil
		s.ctx = nil
		s.token = ""
		ended = true
	})
	return ended
}

// Cancel signals the in-flight generation of session id. The owner still has
// to call EndGeneration.
func (m *Manager) Cancel(id string) bool {
	cancelled := false
	_ = m.do(func(t table) {
		if s, ok := t[id]; ok && s.cancel != nil {
			s.cancel()
			cancelled = true
		}
	})
	if cancelled {
		m.logger.Debug("Generation cancelled", logging.SessionID(id))
	}
	return cancelled
}

// Append adds msgs to the history. Only the current token holder may append.
func (m *Manager) Append(ctx context.Context, id, token string, msgs ...llmtypes.Message) error {
	var (
		snapshot []llmtypes.Message
		result   error
	)
	err := m.do(func(t table) {
		s, ok := t[id]
		if !ok {
			result = ErrNotFound
			return
		}
		if token == "" || s.token != token {
			result = ErrNotOwner
			return
		}
		for _, msg := range msgs {
			if msg.ID == "" {
				msg.ID = uuid.NewString()
			}
			s.History = append(s.History, msg)
		}
		s.UpdatedAt = time.Now()
		if m.store != nil {
			snapshot = append([]llmtypes.Message(nil), s.History...)
		}
	})
	if err != nil {
		return err
	}
	if result != nil {
		return result
	}
	if snapshot != nil {
		return m.store.Save(ctx, id, snapshot)
	}
	return nil
}

// History returns a copy of the session's messages
func (m *Manager) History(id string) ([]llmtypes.Message, error) {
	var (
		history []llmtypes.Message
		result  = ErrNotFound
	)
	if err := m.do(func(t table) {
		if s, ok := t[id]; ok {
			history = append([]llmtypes.Message{}, s.History...)
			result = nil
		}
	}); err != nil {
		return nil, err
	}
	return history, result
}

// BindConnection marks connID as the active connection of the session and
// returns the connection it replaced, if any.
func (m *Manager) BindConnection(id, connID string) (previous string, err error) {
	result := ErrNotFound
	if err := m.do(func(t table) {
		if s, ok := t[id]; ok {
			previous = s.ConnID
			s.ConnID = connID
			result = nil
		}
	}); err != nil {
		return "", err
	}
	return previous, result
}

// UnbindConnection clears the binding when connID is still the active connection
func (m *Manager) UnbindConnection(id, connID string) bool {
	unbound := false
	_ = m.do(func(t table) {
		if s, ok := t[id]; ok && s.ConnID == connID {
			s.ConnID = ""
			unbound = true
		}
	})
	return unbound
}

// Delete cancels any generation and forgets the session, including stored history
func (m *Manager) Delete(ctx context.Context, id string) error {
	found := false
	if err := m.do(func(t table) {
		if s, ok := t[id]; ok {
			if s.cancel != nil {
				s.cancel()
			}
			delete(t, id)
			found = true
		}
	}); err != nil {
		return err
	}
	if m.store == nil {
		if !found {
			return ErrNotFound
		}
		return nil
	}
	if !found {
		persisted, err := m.store.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !persisted {
			return ErrNotFound
		}
	}
	return m.store.Delete(ctx, id)
}

// List returns live sessions, oldest first
func (m *Manager) List() []Info {
	var out []Info
	_ = m.do(func(t table) {
		out = make([]Info, 0, len(t))
		for _, s := range t {
			out = append(out, s.info())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
