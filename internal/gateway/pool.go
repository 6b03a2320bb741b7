package gateway

import (
	"sort"
	"sync"
)

type poolTable struct {
	conns  map[string]*Connection
	active map[string]string // session id -> connection id
}

// Pool tracks live connections and which one currently owns each session.
// One goroutine owns the tables; callers submit closures through do.
type Pool struct {
	ops     chan func(*poolTable)
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func NewPool() *Pool {
	p := &Pool{
		ops:     make(chan func(*poolTable)),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *Pool) loop() {
	defer close(p.stopped)
	t := &poolTable{conns: make(map[string]*Connection), active: make(map[string]string)}
	for {
		select {
		case fn := <-p.ops:
			fn(t)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) do(fn func(*poolTable)) bool {
	done := make(chan struct{})
	select {
	case p.ops <- func(t *poolTable) { fn(t); close(done) }:
		<-done
		return true
	case <-p.stopped:
		return false
	}
}

// Close stops the owning goroutine. Later calls are no-ops.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.quit) })
	<-p.stopped
}

func (p *Pool) Register(c *Connection) {
	p.do(func(t *poolTable) { t.conns[c.ID()] = c })
}

// Unregister forgets c and releases any session it was active for
func (p *Pool) Unregister(c *Connection) {
	p.do(func(t *poolTable) {
		delete(t.conns, c.ID())
		for sid, cid := range t.active {
			if cid == c.ID() {
				delete(t.active, sid)
			}
		}
	})
}

// Bind makes c the active connection for sessionID and returns the
// connection it superseded, if any.
func (p *Pool) Bind(sessionID string, c *Connection) (previous *Connection) {
	p.do(func(t *poolTable) {
		if cid, ok := t.active[sessionID]; ok && cid != c.ID() {
			previous = t.conns[cid]
		}
		t.active[sessionID] = c.ID()
	})
	return previous
}

// Unbind releases sessionID if c is still its active connection
func (p *Pool) Unbind(sessionID string, c *Connection) bool {
	var ok bool
	p.do(func(t *poolTable) {
		if t.active[sessionID] == c.ID() {
			delete(t.active, sessionID)
			ok = true
		}
	})
	return ok
}

// ActiveFor returns the connection currently bound to sessionID
func (p *Pool) ActiveFor(sessionID string) (*Connection, bool) {
	var c *Connection
	p.do(func(t *poolTable) {
		if cid, ok := t.active[sessionID]; ok {
			c = t.conns[cid]
		}
	})
	return c, c != nil
}

// All returns every registered connection ordered by id
func (p *Pool) All() []*Connection {
	var out []*Connection
	p.do(func(t *poolTable) {
		out = make([]*Connection, 0, len(t.conns))
		for _, c := range t.conns {
			out = append(out, c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (p *Pool) Len() int {
	var n int
	p.do(func(t *poolTable) { n = len(t.conns) })
	return n
}
