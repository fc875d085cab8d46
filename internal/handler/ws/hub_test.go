package ws

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

func newTestClient(hub *Hub, userID uuid.UUID) *Client {
	// No live socket: only the mailbox side of the client is exercised
	return newClient(hub, nil, nil, userID, "tester")
}

func drainOne(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case frame := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	default:
		t.Fatal("expected a frame in the send buffer")
		return Envelope{}
	}
}

func TestSendToUser_DeliversToMailbox(t *testing.T) {
	hub := NewHub(nil, metrics.NewMetrics("test"))
	userID := uuid.New()
	client := newTestClient(hub, userID)
	hub.RegisterMailbox(userID, client)

	ok := hub.SendToUser(userID, "user_status", map[string]string{"status": "online"})
	require.True(t, ok)

	env := drainOne(t, client)
	assert.Equal(t, "user_status", env.Type)
	assert.JSONEq(t, `{"status":"online"}`, string(env.Payload))
}

func TestSendToUser_NoMailboxIsDropped(t *testing.T) {
	hub := NewHub(nil, metrics.NewMetrics("test"))
	assert.False(t, hub.SendToUser(uuid.New(), "user_status", nil))
}

func TestRegisterMailbox_ReplacesPreviousConnection(t *testing.T) {
	hub := NewHub(nil, metrics.NewMetrics("test"))
	userID := uuid.New()
	first := newTestClient(hub, userID)
	second := newTestClient(hub, userID)

	hub.RegisterMailbox(userID, first)
	hub.RegisterMailbox(userID, second)

	require.True(t, hub.SendToUser(userID, "ping", nil))
	assert.Empty(t, first.send)
	assert.Len(t, second.send, 1)

	// The replaced connection is torn down and accepts no more frames
	select {
	case <-first.ctx.Done():
	default:
		t.Fatal("expected replaced connection to be cancelled")
	}
	assert.False(t, first.enqueue([]byte("{}")))
}

func TestUnregisterMailbox_IgnoresStaleConnection(t *testing.T) {
	hub := NewHub(nil, metrics.NewMetrics("test"))
	userID := uuid.New()
	first := newTestClient(hub, userID)
	second := newTestClient(hub, userID)

	hub.RegisterMailbox(userID, first)
	hub.RegisterMailbox(userID, second)
	assert.False(t, hub.UnregisterMailbox(userID, first))

	assert.True(t, hub.SendToUser(userID, "ping", nil))
	assert.Equal(t, 1, hub.ConnectedUsers())

	assert.True(t, hub.UnregisterMailbox(userID, second))
	assert.Equal(t, 0, hub.ConnectedUsers())
}

func TestBroadcastToRoom_ExcludesAndCounts(t *testing.T) {
	hub := NewHub(nil, metrics.NewMetrics("test"))
	roomID := uuid.New()
	caller, memberA, memberB := uuid.New(), uuid.New(), uuid.New()

	clients := map[uuid.UUID]*Client{}
	for _, id := range []uuid.UUID{caller, memberA, memberB} {
		c := newTestClient(hub, id)
		hub.RegisterMailbox(id, c)
		hub.JoinRoom(roomID, c)
		clients[id] = c
	}

	delivered := hub.BroadcastToRoom(roomID, "call:invite", map[string]string{"x": "y"}, caller)
	assert.Equal(t, 2, delivered)
	assert.Empty(t, clients[caller].send)
	assert.Len(t, clients[memberA].send, 1)
	assert.Len(t, clients[memberB].send, 1)
}

func TestBroadcastToRoom_EmptyRoom(t *testing.T) {
	hub := NewHub(nil, metrics.NewMetrics("test"))
	assert.Equal(t, 0, hub.BroadcastToRoom(uuid.New(), "call:invite", nil))
}

func TestLeaveRoom_StopsDelivery(t *testing.T) {
	hub := NewHub(nil, metrics.NewMetrics("test"))
	roomID, userID := uuid.New(), uuid.New()
	client := newTestClient(hub, userID)
	hub.RegisterMailbox(userID, client)
	hub.JoinRoom(roomID, client)
	hub.LeaveRoom(roomID, client)

	assert.Equal(t, 0, hub.BroadcastToRoom(roomID, "call:invite", nil))
}

func TestEnqueue_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil, metrics.NewMetrics("test"))
	userID := uuid.New()
	client := newTestClient(hub, userID)
	hub.RegisterMailbox(userID, client)

	for i := 0; i < cap(client.send); i++ {
		require.True(t, hub.SendToUser(userID, "ping", nil))
	}
	assert.False(t, hub.SendToUser(userID, "ping", nil))
}
