package room

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/devsync-io/devsync/internal/models"
	"github.com/devsync-io/devsync/internal/sandbox"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // agent payloads carry whole file trees
	sendBuffer     = 256
)

// Client is one participant connection: the websocket, its identity, and
// the sandbox controller owned by this connection. The handle is created on
// upgrade, passed to the hub, and closed on disconnect.
type Client struct {
	ID        string
	ProjectID string
	Identity  models.Identity

	hub     *Hub
	server  *Server
	conn    *websocket.Conn
	sandbox *sandbox.Controller
	logger  zerolog.Logger

	send     chan []byte
	sendOnce sync.Once
}

// SendEvent queues an event for this client only. Returns false when the
// client's buffer is full or already closed.
func (c *Client) SendEvent(e Event) bool {
	payload, err := json.Marshal(e)
	if err != nil {
		c.logger.Error().Err(err).Str("event", e.Name).Msg("failed to encode event")
		return false
	}
	return c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) bool {
	defer func() {
		// Sending on a closed channel after removal is a benign race with
		// disconnect; swallow it.
		_ = recover()
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendOnce.Do(func() { close(c.send) })
}

// readPump consumes inbound frames until the connection dies, then tears
// down the client's room membership and sandbox.
func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c)
		c.conn.Close()
		c.sandbox.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		c.server.handleInbound(c, message)
	}
}

// writePump flushes queued events and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
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
