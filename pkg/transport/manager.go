package transport

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/ajitpratap0/toolmesh/pkg/logging"
	"github.com/ajitpratap0/toolmesh/pkg/observability"
	"github.com/ajitpratap0/toolmesh/pkg/protocol"
)

// DefaultDialTimeout bounds the wait for a link to open
const DefaultDialTimeout = 10 * time.Second

// MessageHandler receives inbound frames for one server
type MessageHandler func(data []byte)

// TransitionFunc observes connection state changes
type TransitionFunc func(serverID string, from, to protocol.ConnectionStatus)

// Options configures a ConnectionManager
type Options struct {
	// Dialer opens ws/wss links; builtin:// endpoints never reach it
	Dialer      Dialer
	DialTimeout time.Duration
	Logger      logging.Logger
	Metrics     *observability.Metrics
	// OnTransition is called after every state change, outside any lock
	OnTransition TransitionFunc
}

// Connection is a point-in-time copy of one connection's state
type Connection struct {
	ServerID       string                    `json:"serverId"`
	Endpoint       string                    `json:"endpoint,omitempty"`
	Status         protocol.ConnectionStatus `json:"status"`
	LastActivityAt time.Time                 `json:"lastActivityAt"`
}

// connection is one table entry. Its generation changes every time a new
// link is attached so stale pump goroutines can recognize themselves.
type connection struct {
	mu             sync.Mutex
	serverID       string
	endpoint       string
	status         protocol.ConnectionStatus
	link           Link
	generation     uint64
	lastActivityAt time.Time
}

// ConnectionManager owns one connection per server id
type ConnectionManager struct {
	mu       sync.Mutex
	conns    map[string]*connection
	handlers map[string]MessageHandler

	dialer       Dialer
	dialTimeout  time.Duration
	logger       logging.Logger
	metrics      *observability.Metrics
	onTransition TransitionFunc
}

// NewConnectionManager creates a manager
func NewConnectionManager(opts Options) *ConnectionManager {
	if opts.Dialer == nil {
		opts.Dialer = NewWebSocketDialer(nil)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &ConnectionManager{
		conns:        make(map[string]*connection),
		handlers:     make(map[string]MessageHandler),
		dialer:       opts.Dialer,
		dialTimeout:  opts.DialTimeout,
		logger:       opts.Logger.WithFields(logging.Component("connections")),
		metrics:      opts.Metrics,
		onTransition: opts.OnTransition,
	}
}

// entry returns the table entry for id, creating a disconnected one
func (m *ConnectionManager) entry(id string) *connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		c = &connection{serverID: id, status: protocol.StatusDisconnected}
		m.conns[id] = c
	}
	return c
}

func (m *ConnectionManager) lookup(id string) (*connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	return c, ok
}

// setStatus must be called with c.mu held. It returns the previous status.
func (m *ConnectionManager) setStatus(c *connection, to protocol.ConnectionStatus) protocol.ConnectionStatus {
	from := c.status
	c.status = to
	m.metrics.RecordConnectionState(c.serverID, string(to))
	return from
}

func (m *ConnectionManager) notify(id string, from, to protocol.ConnectionStatus) {
	if m.onTransition != nil && from != to {
		m.onTransition(id, from, to)
	}
}

// Connect opens a connection to endpoint, replacing any existing one for
// id. It returns true once the link reports open and false on a missing or
// invalid endpoint, a dial error, or when the dial timeout elapses first.
// Failures are logged, never returned.
func (m *ConnectionManager) Connect(ctx context.Context, id, endpoint string) bool {
	logger := m.logger.WithFields(logging.Server(id), logging.String("endpoint", endpoint))

	if endpoint == "" {
		logger.Warn("Refusing to connect: no endpoint configured")
		return false
	}
	if err := validateEndpoint(endpoint); err != nil {
		logger.WithError(err).Warn("Refusing to connect: invalid endpoint")
		return false
	}

	// A live connection passes through disconnected before reconnecting
	m.Disconnect(id)

	c := m.entry(id)
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.endpoint = endpoint
	from := m.setStatus(c, protocol.StatusConnecting)
	c.mu.Unlock()
	m.notify(id, from, protocol.StatusConnecting)

	var (
		link Link
		err  error
	)
	dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()

	if IsBuiltin(endpoint) {
		link = newBuiltinLink()
	} else {
		link, err = m.dialer.Dial(dialCtx, id, endpoint)
	}
	if err != nil {
		logger.WithError(err).Warn("Connection failed")
		m.fail(c, gen)
		return false
	}

	select {
	case ev, ok := <-link.Events():
		if !ok || ev.Type != EventOpen {
			if ev.Err != nil {
				logger.WithError(ev.Err).Warn("Connection failed")
			} else {
				logger.Warn("Connection closed before open")
			}
			link.Close()
			m.fail(c, gen)
			return false
		}
	case <-dialCtx.Done():
		logger.WithError(dialCtx.Err()).Warn("Connection open timed out", logging.Duration("timeout", m.dialTimeout))
		link.Close()
		m.fail(c, gen)
		return false
	}

	c.mu.Lock()
	if c.generation != gen {
		// Disconnected or replaced while the link was opening
		c.mu.Unlock()
		link.Close()
		return false
	}
	c.link = link
	c.lastActivityAt = time.Now()
	from = m.setStatus(c, protocol.StatusConnected)
	c.mu.Unlock()
	m.notify(id, from, protocol.StatusConnected)

	logger.Info("Connected")
	go m.pump(c, gen, link)
	return true
}

// fail marks an opening connection as errored unless it was superseded
func (m *ConnectionManager) fail(c *connection, gen uint64) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.link = nil
	from := m.setStatus(c, protocol.StatusError)
	c.mu.Unlock()
	m.notify(c.serverID, from, protocol.StatusError)
}

// pump consumes link events after open until the link ends
func (m *ConnectionManager) pump(c *connection, gen uint64, link Link) {
	for ev := range link.Events() {
		switch ev.Type {
		case EventMessage:
			c.mu.Lock()
			current := c.generation == gen
			if current {
				c.lastActivityAt = time.Now()
			}
			c.mu.Unlock()
			if !current {
				continue
			}
			m.mu.Lock()
			h := m.handlers[c.serverID]
			m.mu.Unlock()
			if h != nil {
				h(ev.Data)
			}

		case EventError, EventClose:
			to := protocol.StatusDisconnected
			if ev.Type == EventError {
				to = protocol.StatusError
			}
			c.mu.Lock()
			if c.generation != gen {
				c.mu.Unlock()
				return
			}
			c.generation++
			c.link = nil
			from := m.setStatus(c, to)
			c.mu.Unlock()
			link.Close()
			m.notify(c.serverID, from, to)

			logger := m.logger.WithFields(logging.Server(c.serverID))
			if ev.Err != nil {
				logger.WithError(ev.Err).Warn("Connection lost")
			} else {
				logger.Info("Connection closed by peer")
			}
			return
		}
	}
}

// Disconnect closes the connection for id. Closing an absent or already
// closed connection is a no-op.
func (m *ConnectionManager) Disconnect(id string) {
	c, ok := m.lookup(id)
	if !ok {
		return
	}

	c.mu.Lock()
	link := c.link
	c.link = nil
	c.generation++
	from := c.status
	if from != protocol.StatusDisconnected {
		m.setStatus(c, protocol.StatusDisconnected)
	}
	c.mu.Unlock()

	if link != nil {
		link.Close()
		m.logger.Info("Disconnected", logging.Server(id))
	}
	m.notify(id, from, protocol.StatusDisconnected)
}

// SendMessage sends message to a connected server. []byte and
// json.RawMessage are sent as-is; anything else is JSON encoded. It
// returns false without queuing when the connection is not connected or
// the write fails.
func (m *ConnectionManager) SendMessage(ctx context.Context, id string, message interface{}) bool {
	c, ok := m.lookup(id)
	if !ok {
		return false
	}

	c.mu.Lock()
	link := c.link
	connected := c.status == protocol.StatusConnected && link != nil
	c.mu.Unlock()
	if !connected {
		return false
	}

	var data []byte
	switch v := message.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			m.logger.WithError(err).Warn("Failed to encode message", logging.Server(id))
			return false
		}
	}

	if err := link.Send(ctx, data); err != nil {
		m.logger.WithError(err).Warn("Send failed", logging.Server(id))
		return false
	}

	c.mu.Lock()
	c.lastActivityAt = time.Now()
	c.mu.Unlock()
	return true
}

// IsConnected reports whether id has an open connection
func (m *ConnectionManager) IsConnected(id string) bool {
	return m.Status(id) == protocol.StatusConnected
}

// Status returns the connection state for id; unknown ids are disconnected
func (m *ConnectionManager) Status(id string) protocol.ConnectionStatus {
	c, ok := m.lookup(id)
	if !ok {
		return protocol.StatusDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Snapshot returns a copy of every known connection sorted by server id
func (m *ConnectionManager) Snapshot() []Connection {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		c.mu.Lock()
		out = append(out, Connection{
			ServerID:       c.serverID,
			Endpoint:       c.endpoint,
			Status:         c.status,
			LastActivityAt: c.lastActivityAt,
		})
		c.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// Handle registers h for inbound frames from id, replacing any previous
// handler. A nil h removes it.
func (m *ConnectionManager) Handle(id string, h MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.handlers, id)
		return
	}
	m.handlers[id] = h
}

// CloseAll disconnects every server
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id)
	}
}
