// Package ws bridges WebSocket connections onto the event bus.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/apiclient/api-store/pkg/model"
)

const (
	// writeWait bounds a single frame write. A subscriber that cannot
	// keep up is dropped rather than backpressuring the bus.
	writeWait = 10 * time.Second

	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// wsError is the error frame pushed to clients.
type wsError struct {
	Error bool   `json:"error"`
	Cause string `json:"cause"`
	Time  int64  `json:"time"`
	Path  string `json:"path"`
}

// Channel wraps one WebSocket connection as an event subscriber.
// Writes are serialized; the bus may call Send from many goroutines.
type Channel struct {
	conn *websocket.Conn
	path string
	log  zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func newChannel(conn *websocket.Conn, path string, log zerolog.Logger) *Channel {
	return &Channel{conn: conn, path: path, log: log}
}

// Send pushes one event frame. An error marks the channel dead.
func (c *Channel) Send(e model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(e)
}

// SendError pushes an error frame. Failures are ignored, the read loop
// notices the dead connection.
func (c *Channel) SendError(cause string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteJSON(wsError{Error: true, Cause: cause, Time: time.Now().UnixMilli(), Path: c.path})
}

// Close tears the connection down. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *Channel) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
