package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Conn serializes writes to a gorilla connection, which allows only one
// concurrent writer. Reads stay on the handler goroutine.
type Conn struct {
	raw *websocket.Conn
	mu  sync.Mutex
}

// NewConn wraps an upgraded connection.
func NewConn(raw *websocket.Conn) *Conn {
	return &Conn{raw: raw}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw.SetWriteDeadline(time.Now().Add(writeWait))
	return c.raw.WriteJSON(v)
}

// WriteError sends an error event. unanswered lists the question IDs a
// manual submit is still missing, if any.
func (c *Conn) WriteError(code, errMsg string, unanswered ...string) error {
	return c.WriteTyped(ErrorResponse{
		Event:      EventError,
		Code:       code,
		Error:      errMsg,
		Unanswered: unanswered,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func (c *Conn) ReadJSON(v interface{}) error {
	c.raw.SetReadDeadline(time.Now().Add(readWait))
	return c.raw.ReadJSON(v)
}

// CloseNormal sends a close frame and closes the connection.
func (c *Conn) CloseNormal(reason string) {
	c.mu.Lock()
	_ = c.raw.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeWait))
	c.mu.Unlock()
	_ = c.raw.Close()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}
