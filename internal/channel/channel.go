// Package channel owns the single websocket connection between a session
// and the local translation service.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"mathbridge/internal/logging"
	"mathbridge/internal/protocol"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the loopback address of the translation service.
const DefaultEndpoint = "ws://localhost:7513"

const (
	defaultWriteTimeout = 10 * time.Second
	eventBufferSize     = 16
)

var (
	ErrNotReady      = errors.New("channel is not ready")
	ErrClosed        = errors.New("channel is closed")
	ErrAlreadyOpened = errors.New("channel already opened")
)

// EventKind enumerates the lifecycle events of a channel.
type EventKind int

const (
	EventReady EventKind = iota + 1
	EventMessage
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered on the stream returned by Open. Payload is set for
// EventMessage, Err for EventClosed when the connection failed.
type Event struct {
	Kind    EventKind
	Payload []byte
	Err     error
}

type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Options struct {
	Dialer       Dialer
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateReady
	stateClosed
)

// Channel is safe for concurrent Send calls. Events are delivered in order
// on one stream: Ready at most once, then Messages, then exactly one Closed.
type Channel struct {
	endpoint     string
	dialer       Dialer
	writeTimeout time.Duration
	logger       *logging.Logger

	mu    sync.Mutex
	state state
	conn  *websocket.Conn

	writeMu sync.Mutex
}

func New(endpoint string, options Options) *Channel {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	dialer := options.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	writeTimeout := options.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Channel{
		endpoint:     endpoint,
		dialer:       dialer,
		writeTimeout: writeTimeout,
		logger:       options.Logger,
	}
}

func (c *Channel) Endpoint() string {
	return c.endpoint
}

// Open starts connecting in the background and returns the event stream.
// A dial failure is reported as EventClosed without a preceding EventReady.
// The stream is closed after EventClosed or when ctx is done.
func (c *Channel) Open(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return nil, ErrAlreadyOpened
	}
	c.state = stateConnecting
	c.mu.Unlock()

	events := make(chan Event, eventBufferSize)
	go c.run(ctx, events)
	return events, nil
}

func (c *Channel) run(ctx context.Context, events chan<- Event) {
	defer close(events)

	emit := func(event Event) bool {
		select {
		case events <- event:
			return true
		case <-ctx.Done():
			return false
		}
	}

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		c.markClosed()
		c.logger.Warn("bridge dial failed", map[string]string{
			"endpoint": c.endpoint,
			"error":    err.Error(),
		})
		emit(Event{Kind: EventClosed, Err: fmt.Errorf("dial %s: %w", c.endpoint, err)})
		return
	}

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		_ = conn.Close()
		emit(Event{Kind: EventClosed})
		return
	}
	c.conn = conn
	c.state = stateReady
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	defer stop()

	c.logger.Info("bridge connected", map[string]string{"endpoint": c.endpoint})
	if !emit(Event{Kind: EventReady}) {
		_ = c.Close()
		return
	}

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			wasOpen := c.markClosed()
			_ = conn.Close()
			var cause error
			if wasOpen && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cause = err
			}
			fields := map[string]string{"endpoint": c.endpoint}
			if cause != nil {
				fields["error"] = cause.Error()
			}
			c.logger.Info("bridge closed", fields)
			emit(Event{Kind: EventClosed, Err: cause})
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if !emit(Event{Kind: EventMessage, Payload: payload}) {
			_ = c.Close()
			return
		}
	}
}

// Send encodes req and writes it as one text frame.
func (c *Channel) Send(req protocol.Request) error {
	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case stateReady:
	case stateClosed:
		c.mu.Unlock()
		return ErrClosed
	default:
		c.mu.Unlock()
		return ErrNotReady
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send %s: %w", req.Action, err)
	}
	return nil
}

// Ready reports whether Send would currently be accepted.
func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateReady
}

// Close shuts the connection down. Later Sends fail with ErrClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	deadline := time.Now().Add(c.writeTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()
	return conn.Close()
}

// markClosed reports whether the channel was open before the call.
func (c *Channel) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasOpen := c.state != stateClosed
	c.state = stateClosed
	return wasOpen
}
