package stomp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrAuthRejected is returned when the broker answers the connect
// handshake with an ERROR frame. It is fatal; retrying with the same
// credential will not succeed.
var ErrAuthRejected = errors.New("authentication rejected by broker")

// ErrConnClosed is returned from writes after the connection died.
var ErrConnClosed = errors.New("stomp connection closed")

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Conn is one live STOMP session over a WebSocket. It is created by
// Dial with the handshake already completed.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	frames chan Frame
	closed chan error
	done   chan struct{}

	writeMu sync.Mutex

	mu      sync.Mutex
	nextSub int
	dead    bool

	closeOnce sync.Once
}

// Dial opens the WebSocket, performs the CONNECT/CONNECTED handshake
// with the credential, and starts the read loop. The token travels both
// as a query parameter and as a bearer header, matching the platform's
// handshake contract.
func Dial(ctx context.Context, wsURL, token string, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	c := &Conn{
		ws:     ws,
		logger: logger,
		frames: make(chan Frame, 64),
		closed: make(chan error, 1),
		done:   make(chan struct{}),
	}

	connect := NewFrame(CmdConnect,
		"accept-version", "1.2",
		"host", u.Hostname(),
	)
	if err := c.writeFrame(connect); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	reply, err := c.readHandshakeReply(ctx)
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	switch reply.Command {
	case CmdConnected:
	case CmdError:
		_ = ws.Close()
		return nil, fmt.Errorf("%w: %s", ErrAuthRejected, reply.Header("message"))
	default:
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected handshake reply %s", reply.Command)
	}

	go c.readLoop()
	c.logger.Info("stomp session established", zap.String("host", u.Hostname()))
	return c, nil
}

// readHandshakeReply reads frames until the first non-heartbeat one.
func (c *Conn) readHandshakeReply(ctx context.Context) (Frame, error) {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetReadDeadline(deadline)
	defer func() { _ = c.ws.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return Frame{}, fmt.Errorf("read handshake reply: %w", err)
		}
		if isHeartbeat(data) {
			continue
		}
		return Parse(data)
	}
}

// Subscribe issues a SUBSCRIBE for the destination and returns the
// subscription id to use for UNSUBSCRIBE.
func (c *Conn) Subscribe(destination string) (string, error) {
	c.mu.Lock()
	id := fmt.Sprintf("sub-%d", c.nextSub)
	c.nextSub++
	c.mu.Unlock()

	frame := NewFrame(CmdSubscribe,
		"id", id,
		"destination", destination,
		"ack", "auto",
	)
	if err := c.writeFrame(frame); err != nil {
		return "", fmt.Errorf("subscribe %s: %w", destination, err)
	}
	return id, nil
}

// Unsubscribe cancels a subscription by id.
func (c *Conn) Unsubscribe(id string) error {
	if err := c.writeFrame(NewFrame(CmdUnsubscribe, "id", id)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", id, err)
	}
	return nil
}

// Send transmits a JSON payload to the destination.
func (c *Conn) Send(destination string, body []byte) error {
	frame := NewFrame(CmdSend,
		"destination", destination,
		"content-type", "application/json",
	)
	frame.Body = body
	if err := c.writeFrame(frame); err != nil {
		return fmt.Errorf("send to %s: %w", destination, err)
	}
	return nil
}

// Frames returns the inbound frame channel. It is closed when the
// connection dies.
func (c *Conn) Frames() <-chan Frame {
	return c.frames
}

// Closed returns a channel that receives the terminal error exactly
// once when the transport fails. An explicit Close does not signal it.
func (c *Conn) Closed() <-chan error {
	return c.closed
}

// Close sends DISCONNECT best-effort and tears down the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.dead = true
		c.mu.Unlock()

		_ = c.writeFrameLocked(NewFrame(CmdDisconnect))
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) writeFrame(f Frame) error {
	c.mu.Lock()
	dead := c.dead
	c.mu.Unlock()
	if dead {
		return ErrConnClosed
	}
	return c.writeFrameLocked(f)
}

func (c *Conn) writeFrameLocked(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, f.Marshal())
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.dead = true
			c.mu.Unlock()
			select {
			case <-c.done:
				// Explicit Close; not a transport failure.
			default:
				select {
				case c.closed <- err:
				default:
				}
			}
			return
		}
		if isHeartbeat(data) {
			continue
		}
		frame, err := Parse(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		select {
		case c.frames <- frame:
		case <-c.done:
			return
		}
	}
}

func isHeartbeat(data []byte) bool {
	return len(data) == 0 || (len(data) <= 2 && (data[0] == '\n' || data[0] == '\r'))
}
