package ws

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ulanzi/decksim/server/internal/registry"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds one inbound frame. Params and activeKeys maps
	// are opaque plugin data and can be large.
	maxMessageSize = 1 << 20
)

// errQueueFull is returned by Send when the outbound queue overflowed. The
// client has been closed by the time the caller sees it.
var errQueueFull = errors.New("outbound queue full")

// client is one WebSocket connection. It implements registry.Conn.
type client struct {
	id          string
	remote      string
	connectedAt time.Time
	conn        *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(id, remote string, conn *websocket.Conn, buf int) *client {
	return &client{
		id:          id,
		remote:      remote,
		connectedAt: time.Now().UTC(),
		conn:        conn,
		send:        make(chan []byte, buf),
	}
}

// Send queues data without blocking. A client whose queue is full is
// disconnected; it is expected to reconnect.
func (c *client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return registry.ErrStaleConnection
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closed = true
		close(c.send)
		slog.Warn("ws: outbound queue full, disconnecting", "client", c.id)
		return errQueueFull
	}
}

// Alive reports whether the client still accepts frames.
func (c *client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// close stops the write pump, which sends a close frame and closes the
// socket. Safe to call more than once.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client dropped).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump hands every text frame to deliver until the connection closes.
// Blocks until then.
func (c *client) readPump(deliver func([]byte)) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("ws: read failed", "client", c.id, "err", err)
			}
			return
		}
		// Any frame proves the peer is alive.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		deliver(msg)
	}
}
