// Package ws owns the realtime transport: one actor per live websocket
// connection, driven by a read pump and a write pump. The actor's life is a
// straight line Connecting -> Open -> Closed; on Closed it deregisters from
// the session registry exactly once, whatever killed it.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pulse-server/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16384
	sendBuffer     = 32
)

// State is the connection actor's lifecycle position. Closed is terminal.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is the per-connection actor. It implements registry.Session.
type Client struct {
	conn     *websocket.Conn
	userID   uuid.UUID
	sessions *registry.Registry
	send     chan []byte

	mu    sync.RWMutex
	state State
}

func newClient(conn *websocket.Conn, userID uuid.UUID, sessions *registry.Registry) *Client {
	return &Client{
		conn:     conn,
		userID:   userID,
		sessions: sessions,
		send:     make(chan []byte, sendBuffer),
		state:    StateConnecting,
	}
}

func (c *Client) UserID() uuid.UUID {
	return c.userID
}

// State returns the actor's current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Enqueue buffers a payload for delivery in push order. It never blocks;
// payloads offered to a non-open or saturated session are refused.
func (c *Client) Enqueue(payload []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateOpen {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close drives the actor to Closed. Safe to call multiple times and from
// any goroutine; only the first call deregisters and releases resources.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	close(c.send)
	c.mu.Unlock()

	// Deregistration happens exactly once, outside the state lock. A stale
	// handle is a no-op on the registry side.
	c.sessions.Remove(c.userID, c)
	c.conn.Close()
}

func (c *Client) open() {
	c.mu.Lock()
	c.state = StateOpen
	c.mu.Unlock()
}

// readPump consumes inbound frames until the peer closes or the transport
// fails. Ping frames are answered with pongs by the underlying library;
// binary and text frames are ignored. Exit always drives Closed.
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logrus.WithField("user_id", c.userID).WithError(err).Warn("websocket read failed")
			}
			return
		}
	}
}

// writePump relays buffered payloads as text frames in the order pushed and
// keeps the connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logrus.WithField("user_id", c.userID).WithError(err).Warn("websocket write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
