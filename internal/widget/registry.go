package widget

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/leapstack-labs/ehimanual/pkg/core"
)

// PayloadSource resolves a widget id to its baked payload.
type PayloadSource interface {
	Payload(id string) (core.WidgetPayload, bool)
}

// Payloads is a PayloadSource backed by a map.
type Payloads map[string]core.WidgetPayload

// Payload implements PayloadSource.
func (p Payloads) Payload(id string) (core.WidgetPayload, bool) {
	w, ok := p[id]
	return w, ok
}

// Registry limits.
const (
	DefaultMaxSessions = 10000
	DefaultIdleTimeout = 2 * time.Hour
)

// Registry keeps one Controller per (reader session, widget id), created on
// first use. All controllers share the registry's executor. Sessions idle
// longer than the idle timeout are dropped, and past the session limit the
// least recently used session is dropped.
type Registry struct {
	exec        Executor
	maxSessions int
	idleTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	source   PayloadSource
	sessions map[string]*readerSession
	lru      *list.List // of session ids, most recent first
}

type readerSession struct {
	widgets  map[string]*Controller
	lastSeen time.Time
	elem     *list.Element
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxSessions bounds the number of tracked sessions.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxSessions = n
		}
	}
}

// WithIdleTimeout sets how long an unused session is kept.
func WithIdleTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(exec Executor, source PayloadSource, opts ...RegistryOption) *Registry {
	r := &Registry{
		exec:        exec,
		maxSessions: DefaultMaxSessions,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		source:      source,
		sessions:    make(map[string]*readerSession),
		lru:         list.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetSource swaps the payload source after a rebuild and drops every
// controller, since baked results may have changed.
func (r *Registry) SetSource(source PayloadSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = source
	r.sessions = make(map[string]*readerSession)
	r.lru.Init()
}

// Controller returns the session's controller for widget id, creating the
// session and the controller when needed.
func (r *Registry) Controller(session, id string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.expire(now)

	rs, ok := r.sessions[session]
	if ok {
		if c, ok := rs.widgets[id]; ok {
			r.touch(rs, now)
			return c, nil
		}
	}

	p, err := r.payload(id)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		rs = r.add(session)
	}
	r.touch(rs, now)
	c := NewController(p, r.exec)
	rs.widgets[id] = c
	return c, nil
}

// State returns the session's view of widget id without creating anything:
// a reader that never touched the widget sees its baked state.
func (r *Registry) State(session, id string) (State, error) {
	r.mu.Lock()
	if rs, ok := r.sessions[session]; ok && r.now().Sub(rs.lastSeen) <= r.idleTimeout {
		if c, ok := rs.widgets[id]; ok {
			r.mu.Unlock()
			return c.State(), nil
		}
	}
	p, err := r.payload(id)
	r.mu.Unlock()
	if err != nil {
		return State{}, err
	}
	return NewController(p, r.exec).State(), nil
}

func (r *Registry) payload(id string) (core.WidgetPayload, error) {
	if r.source == nil {
		return core.WidgetPayload{}, fmt.Errorf("unknown widget %q", id)
	}
	p, ok := r.source.Payload(id)
	if !ok {
		return core.WidgetPayload{}, fmt.Errorf("unknown widget %q", id)
	}
	return p, nil
}

func (r *Registry) add(session string) *readerSession {
	for len(r.sessions) >= r.maxSessions {
		r.remove(r.lru.Back().Value.(string))
	}
	rs := &readerSession{widgets: make(map[string]*Controller)}
	rs.elem = r.lru.PushFront(session)
	r.sessions[session] = rs
	return rs
}

func (r *Registry) touch(rs *readerSession, now time.Time) {
	rs.lastSeen = now
	r.lru.MoveToFront(rs.elem)
}

// expire drops sessions idle past the timeout, oldest first.
func (r *Registry) expire(now time.Time) {
	for e := r.lru.Back(); e != nil; e = r.lru.Back() {
		id := e.Value.(string)
		if now.Sub(r.sessions[id].lastSeen) <= r.idleTimeout {
			return
		}
		r.remove(id)
	}
}

func (r *Registry) remove(session string) {
	if rs, ok := r.sessions[session]; ok {
		r.lru.Remove(rs.elem)
		delete(r.sessions, session)
	}
}

// Forget drops every controller of a session.
func (r *Registry) Forget(session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(session)
}

// Sessions returns the number of tracked sessions.
func (r *Registry) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
