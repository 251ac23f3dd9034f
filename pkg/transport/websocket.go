package transport

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"nhooyr.io/websocket"
)

// HeaderFunc supplies handshake headers for a server, typically its
// credentials.
type HeaderFunc func(ctx context.Context, serverID string) (http.Header, error)

// WebSocketDialer opens ws/wss links. Messages are sent as text frames.
type WebSocketDialer struct {
	// Header is consulted once per dial; nil sends no extra headers
	Header HeaderFunc
	// HTTPClient performs the handshake; nil uses http.DefaultClient
	HTTPClient *http.Client
	// ReadLimit caps one inbound message; zero keeps the library default
	ReadLimit int64
}

// NewWebSocketDialer creates a dialer
func NewWebSocketDialer(header HeaderFunc) *WebSocketDialer {
	return &WebSocketDialer{Header: header}
}

// Dial starts the handshake in the background. ctx bounds the handshake
// only; the open link lives until Close or a remote close.
func (d *WebSocketDialer) Dial(ctx context.Context, serverID, endpoint string) (Link, error) {
	opts := &websocket.DialOptions{HTTPClient: d.HTTPClient}
	if d.Header != nil {
		h, err := d.Header(ctx, serverID)
		if err != nil {
			return nil, err
		}
		opts.HTTPHeader = h
	}

	l := &wsLink{
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())

	go l.open(ctx, endpoint, opts, d.ReadLimit)
	return l, nil
}

// wsLink adapts a nhooyr websocket connection to Link
type wsLink struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn

	events    chan Event
	done      chan struct{}
	closing   atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (l *wsLink) open(ctx context.Context, endpoint string, opts *websocket.DialOptions, readLimit int64) {
	conn, resp, err := websocket.Dial(ctx, endpoint, opts)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		l.emit(Event{Type: EventError, Err: err})
		close(l.events)
		return
	}
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}

	l.mu.Lock()
	if l.closing.Load() {
		l.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		l.emit(Event{Type: EventClose})
		close(l.events)
		return
	}
	l.conn = conn
	l.mu.Unlock()

	l.emit(Event{Type: EventOpen})
	l.readLoop(conn)
}

// readLoop forwards inbound frames until the connection ends
func (l *wsLink) readLoop(conn *websocket.Conn) {
	defer close(l.events)

	for {
		_, data, err := conn.Read(l.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if l.closing.Load() ||
				status == websocket.StatusNormalClosure ||
				status == websocket.StatusGoingAway {
				l.emit(Event{Type: EventClose})
				return
			}
			l.emit(Event{Type: EventError, Err: err})
			return
		}
		if !l.emit(Event{Type: EventMessage, Data: data}) {
			return
		}
	}
}

// emit delivers ev unless the link was closed locally
func (l *wsLink) emit(ev Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-l.done:
		return false
	}
}

func (l *wsLink) Events() <-chan Event {
	return l.events
}

// Send writes data as one text message
func (l *wsLink) Send(ctx context.Context, data []byte) error {
	if l.closing.Load() {
		return ErrLinkClosed
	}
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrLinkClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close sends a close frame and stops the read loop. Safe to call multiple
// times.
func (l *wsLink) Close() error {
	l.closeOnce.Do(func() {
		l.closing.Store(true)
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()
		close(l.done)
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "")
		}
		l.cancel()
	})
	return nil
}
