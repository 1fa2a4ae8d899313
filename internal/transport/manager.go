package transport

import "sync"

// Concern names one logical connection. The notification bell and the
// agent-monitoring dashboard each own a concern so they can be mounted and
// reset independently while reusing a single socket apiece.
type Concern string

const (
	ConcernNotifications Concern = "notifications"
	ConcernPresence      Concern = "presence"
)

// Manager hands out one shared Conn per concern, creating it lazily on the
// first Get. Concurrent Get calls for the same concern never create more
// than one connection.
type Manager struct {
	mu    sync.Mutex
	conns map[Concern]*Conn
	dial  func(Concern) *Conn
}

// NewManager creates a manager dialing real connections from the base
// options. The concern name is stamped onto each connection's options.
func NewManager(base Options) *Manager {
	return &Manager{
		conns: make(map[Concern]*Conn),
		dial: func(concern Concern) *Conn {
			opts := base
			opts.Concern = string(concern)
			return Dial(opts)
		},
	}
}

// NewManagerWithDialer creates a manager with a custom dial function,
// letting tests substitute fake connections.
func NewManagerWithDialer(dial func(Concern) *Conn) *Manager {
	return &Manager{
		conns: make(map[Concern]*Conn),
		dial:  dial,
	}
}

// Get returns the shared connection for a concern, dialing on first use.
func (m *Manager) Get(concern Concern) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[concern]; ok {
		return c
	}
	c := m.dial(concern)
	m.conns[concern] = c
	return c
}

// Reset closes and forgets a concern's connection so the next Get dials
// fresh.
func (m *Manager) Reset(concern Concern) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[concern]; ok {
		c.Close()
		delete(m.conns, concern)
	}
}

// CloseAll tears down every connection. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for concern, c := range m.conns {
		c.Close()
		delete(m.conns, concern)
	}
}
