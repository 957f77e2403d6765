package realtime

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// CloseAuthRejected is the application close code sent when the handshake
// token is missing, invalid, expired or names no active user.
const CloseAuthRejected = 4003

// Conn is one live duplex channel owned by a single user.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close(code int, reason string) error
}

// WSConn adapts a gorilla websocket to Conn.
// Writes are serialized so sends issued by one dispatch arrive in order.
type WSConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewWSConn wraps ws. A non-positive writeTimeout disables write deadlines.
func NewWSConn(ws *websocket.Conn, writeTimeout time.Duration) *WSConn {
	return &WSConn{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: writeTimeout,
	}
}

// ID returns the connection id.
func (c *WSConn) ID() string { return c.id }

// Send writes data as a single text frame.
func (c *WSConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("send on closed connection %s", c.id)
	}
	c.setWriteDeadline()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Ping writes a ping control frame.
func (c *WSConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("ping on closed connection %s", c.id)
	}
	c.setWriteDeadline()
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// Close sends a close frame with code and reason, then closes the socket.
// Calling Close more than once is a no-op.
func (c *WSConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.setWriteDeadline()
	msg := websocket.FormatCloseMessage(code, reason)
	werr := c.ws.WriteMessage(websocket.CloseMessage, msg)
	cerr := c.ws.Close()
	if werr != nil && !isClosedErr(werr) {
		return fmt.Errorf("writing close frame: %w", werr)
	}
	return cerr
}

func (c *WSConn) setWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, websocket.ErrCloseSent)
}
