package transport

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/ajitpratap0/toolmesh/pkg/config"
)

// EventType identifies a link event
type EventType int

const (
	// EventOpen is delivered once when the link is usable
	EventOpen EventType = iota
	// EventMessage carries one inbound frame
	EventMessage
	// EventError reports a transport failure; the link is unusable afterwards
	EventError
	// EventClose reports that the peer or the caller closed the link
	EventClose
)

// String returns the event name
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one notification from a Link
type Event struct {
	Type EventType
	Data []byte
	Err  error
}

// Link is one physical channel to a server. The Events channel yields
// EventOpen or EventError first and is closed after the final event.
type Link interface {
	Events() <-chan Event
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens links. Dial must not block on the network: the outcome of
// the open is reported through the link's events.
type Dialer interface {
	Dial(ctx context.Context, serverID, endpoint string) (Link, error)
}

// ErrLinkClosed is returned by Send after Close
var ErrLinkClosed = errors.New("link closed")

// IsBuiltin reports whether endpoint names an in-process server
func IsBuiltin(endpoint string) bool {
	return strings.HasPrefix(endpoint, config.BuiltinScheme+"://")
}

// validateEndpoint accepts ws, wss and builtin URLs
func validateEndpoint(endpoint string) error {
	if IsBuiltin(endpoint) {
		return nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return errors.New("unsupported scheme " + u.Scheme + "; want ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// builtinLink is always open and discards what it is sent
type builtinLink struct {
	events    chan Event
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func newBuiltinLink() *builtinLink {
	l := &builtinLink{events: make(chan Event, 2)}
	l.events <- Event{Type: EventOpen}
	return l
}

func (l *builtinLink) Events() <-chan Event {
	return l.events
}

func (l *builtinLink) Send(context.Context, []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	return nil
}

func (l *builtinLink) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		l.events <- Event{Type: EventClose}
		close(l.events)
	})
	return nil
}
