package room

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsync-io/devsync/internal/models"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func newTestClient(projectID, userID string, buffer int) *Client {
	return &Client{
		ID:        userID + "-conn",
		ProjectID: projectID,
		Identity:  models.Identity{UserID: userID},
		send:      make(chan []byte, buffer),
		logger:    zerolog.Nop(),
	}
}

func waitForRoomSize(t *testing.T, h *Hub, projectID string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.RoomSize(projectID) == want
	}, time.Second, 5*time.Millisecond)
}

func receiveEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case payload := <-c.send:
		var e Event
		require.NoError(t, json.Unmarshal(payload, &e))
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.send:
		t.Fatalf("unexpected event: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcastExcludesOrigin(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient("p1", "alice", 8)
	b := newTestClient("p1", "bob", 8)
	h.Join(a)
	h.Join(b)
	waitForRoomSize(t, h, "p1", 2)

	h.Broadcast("p1", a, Event{Name: EventProjectMessage, Data: ChatPayload{Message: "hello"}})

	e := receiveEvent(t, b)
	assert.Equal(t, EventProjectMessage, e.Name)
	assertNoEvent(t, a)
}

func TestBroadcastNilOriginReachesEveryone(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient("p1", "alice", 8)
	b := newTestClient("p1", "bob", 8)
	h.Join(a)
	h.Join(b)
	waitForRoomSize(t, h, "p1", 2)

	h.Broadcast("p1", nil, Event{Name: EventProjectMessage})

	assert.Equal(t, EventProjectMessage, receiveEvent(t, a).Name)
	assert.Equal(t, EventProjectMessage, receiveEvent(t, b).Name)
}

func TestBroadcastScopedToRoom(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient("p1", "alice", 8)
	b := newTestClient("p2", "bob", 8)
	h.Join(a)
	h.Join(b)
	waitForRoomSize(t, h, "p1", 1)
	waitForRoomSize(t, h, "p2", 1)

	h.Broadcast("p1", nil, Event{Name: EventProjectMessage})

	assert.Equal(t, EventProjectMessage, receiveEvent(t, a).Name)
	assertNoEvent(t, b)
}

func TestBroadcastDeliversExactlyOncePerMember(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient("p1", "alice", 8)
	b := newTestClient("p1", "bob", 8)
	h.Join(a)
	h.Join(b)
	waitForRoomSize(t, h, "p1", 2)

	h.Broadcast("p1", a, Event{Name: EventProjectMessage})

	receiveEvent(t, b)
	assertNoEvent(t, b)
}

func TestLeaveIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient("p1", "alice", 8)
	h.Join(a)
	waitForRoomSize(t, h, "p1", 1)

	h.Leave(a)
	waitForRoomSize(t, h, "p1", 0)
	h.Leave(a)
	waitForRoomSize(t, h, "p1", 0)
}

func TestLeftClientReceivesNothing(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient("p1", "alice", 8)
	b := newTestClient("p1", "bob", 8)
	h.Join(a)
	h.Join(b)
	waitForRoomSize(t, h, "p1", 2)

	h.Leave(b)
	waitForRoomSize(t, h, "p1", 1)

	h.Broadcast("p1", nil, Event{Name: EventProjectMessage})
	receiveEvent(t, a)
}

func TestSlowClientIsDropped(t *testing.T) {
	h := newTestHub(t)
	fast := newTestClient("p1", "fast", 8)
	slow := newTestClient("p1", "slow", 1)
	h.Join(fast)
	h.Join(slow)
	waitForRoomSize(t, h, "p1", 2)

	// Fill the slow client's buffer, then broadcast once more. The room must
	// keep moving and the stalled client gets evicted.
	h.Broadcast("p1", nil, Event{Name: EventProjectMessage, Data: ChatPayload{Message: "1"}})
	h.Broadcast("p1", nil, Event{Name: EventProjectMessage, Data: ChatPayload{Message: "2"}})

	waitForRoomSize(t, h, "p1", 1)

	h.Broadcast("p1", nil, Event{Name: EventProjectMessage, Data: ChatPayload{Message: "3"}})
	require.Eventually(t, func() bool {
		return len(fast.send) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestRunShutdownClosesClients(t *testing.T) {
	h := NewHub(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	a := newTestClient("p1", "alice", 8)
	h.Join(a)
	waitForRoomSize(t, h, "p1", 1)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}

	// send channel is closed after shutdown
	_, ok := <-a.send
	assert.False(t, ok)

	// Join and Broadcast after shutdown return without blocking.
	h.Join(newTestClient("p1", "late", 1))
	h.Broadcast("p1", nil, Event{Name: EventProjectMessage})
}
