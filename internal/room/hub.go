// Package room implements the per-project message bus: room membership,
// best-effort fan-out and the streaming connection handler.
package room

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/devsync-io/devsync/internal/metrics"
)

type broadcastReq struct {
	projectID string
	origin    *Client
	event     string
	payload   []byte
}

// Hub maps project IDs to the set of currently connected participants and
// fans events out to them. A single loop processes joins, leaves and
// broadcasts, which gives per-room FIFO ordering; there is no ordering
// across rooms and no backlog for late joiners.
type Hub struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastReq
	done       chan struct{}
}

// NewHub creates a hub. Call Run before joining clients.
func NewHub(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger.With().Str("component", "hub").Logger(),
		metrics:    m,
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastReq, 256),
		done:       make(chan struct{}),
	}
}

// Run processes hub events until ctx is canceled, then disconnects
// everything.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case req := <-h.broadcast:
			h.fanOut(req)
		}
	}
}

// Join registers the connection under its project room. Membership must be
// verified by the caller before the connection is admitted.
func (h *Hub) Join(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Leave deregisters the connection. Idempotent; leaving twice is harmless.
func (h *Hub) Leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast delivers the event to every current member of the project's
// room except origin. A nil origin reaches everyone. Delivery is
// best-effort: a client that cannot keep up is dropped, never blocked on.
func (h *Hub) Broadcast(projectID string, origin *Client, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		h.logger.Error().Err(err).Str("event", e.Name).Msg("failed to encode event")
		return
	}
	select {
	case h.broadcast <- broadcastReq{projectID: projectID, origin: origin, event: e.Name, payload: payload}:
	case <-h.done:
	}
}

// RoomSize returns the number of connections currently in the room.
func (h *Hub) RoomSize(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[projectID])
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.ProjectID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.ProjectID] = room
	}
	room[c] = struct{}{}
	size := len(room)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RoomConnections.Inc()
	}
	h.logger.Info().
		Str("project_id", c.ProjectID).
		Str("user_id", c.Identity.UserID).
		Int("room_size", size).
		Msg("client joined room")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.ProjectID]
	if ok {
		if _, member := room[c]; !member {
			ok = false
		} else {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, c.ProjectID)
			}
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	c.closeSend()
	if h.metrics != nil {
		h.metrics.RoomConnections.Dec()
	}
	h.logger.Info().
		Str("project_id", c.ProjectID).
		Str("user_id", c.Identity.UserID).
		Msg("client left room")
}

func (h *Hub) fanOut(req broadcastReq) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[req.projectID]))
	for c := range h.rooms[req.projectID] {
		if c != req.origin {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	var stalled []*Client
	for _, c := range members {
		if !c.enqueue(req.payload) {
			stalled = append(stalled, c)
		}
	}

	if h.metrics != nil {
		h.metrics.RecordBroadcast(req.event)
	}

	// Drop clients whose send buffer is full; they reconnect rather than
	// stall the room.
	for _, c := range stalled {
		h.logger.Warn().
			Str("project_id", c.ProjectID).
			Str("user_id", c.Identity.UserID).
			Msg("dropping slow client")
		h.remove(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	var all []*Client
	for _, room := range h.rooms {
		for c := range room {
			all = append(all, c)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.closeSend()
	}
}
