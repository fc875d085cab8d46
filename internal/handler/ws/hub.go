// Package ws is the message relay: it owns per-user mailboxes and room
// rosters, and delivers events best-effort to whoever is connected.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wavelink-backend/internal/database"
	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
)

// Envelope is the wire frame for every event in both directions
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// fanoutMessage travels over Redis Pub/Sub so room broadcasts reach clients
// connected to other nodes
type fanoutMessage struct {
	Origin  uuid.UUID       `json:"origin"`
	RoomID  uuid.UUID       `json:"room_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Exclude []uuid.UUID     `json:"exclude,omitempty"`
}

// Hub routes events to connected clients. One mailbox per user: a new
// registration for the same user replaces the previous connection. Delivery
// is fire-and-forget; there is no queueing for absent users.
type Hub struct {
	// nodeID distinguishes this process in cross-node fan-out
	nodeID uuid.UUID

	redisClient *database.RedisClient
	metrics     *metrics.Metrics

	mu        sync.RWMutex
	mailboxes map[uuid.UUID]*Client
	rooms     map[uuid.UUID]map[*Client]bool

	// Cancel functions for room subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc

	// Concurrency limit: maxConnections is the maximum number of concurrent
	// WebSocket connections
	maxConnections int
	semaphore      chan struct{}
}

// NewHub creates the relay. redisClient may be nil for single-node
// deployments and tests; room fan-out then stays process-local.
func NewHub(redisClient *database.RedisClient, m *metrics.Metrics) *Hub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	return &Hub{
		nodeID:              uuid.New(),
		redisClient:         redisClient,
		metrics:             m,
		mailboxes:           make(map[uuid.UUID]*Client),
		rooms:               make(map[uuid.UUID]map[*Client]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		maxConnections:      maxConns,
		semaphore:           make(chan struct{}, maxConns),
	}
}

// RegisterMailbox binds the client as the user's mailbox, closing any
// previous connection for the same user
func (h *Hub) RegisterMailbox(userID uuid.UUID, client *Client) {
	h.mu.Lock()
	previous := h.mailboxes[userID]
	h.mailboxes[userID] = client
	h.mu.Unlock()

	if previous != nil && previous != client {
		logger.Info("replacing existing mailbox",
			zap.String("user_id", userID.String()))
		previous.closeSend()
	}
}

// UnregisterMailbox removes the client's mailbox unless a newer connection
// has already taken it over. Reports whether this client was still current:
// a stale client must not trigger presence or call teardown for a user who
// reconnected.
func (h *Hub) UnregisterMailbox(userID uuid.UUID, client *Client) bool {
	h.mu.Lock()
	current := h.mailboxes[userID] == client
	if current {
		delete(h.mailboxes, userID)
	}
	for roomID := range client.rooms {
		h.leaveRoomLocked(roomID, client)
	}
	h.mu.Unlock()
	return current
}

// SendToUser delivers one event to the user's mailbox. Returns false when
// the user has no live mailbox or its buffer is full; the event is dropped.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload interface{}) bool {
	h.mu.RLock()
	client := h.mailboxes[userID]
	h.mu.RUnlock()
	if client == nil {
		return false
	}

	frame, err := marshalEnvelope(event, payload)
	if err != nil {
		logger.Error("failed to encode event",
			zap.String("event", event), zap.Error(err))
		return false
	}
	if !client.enqueue(frame) {
		h.metrics.RecordWebSocketError("send_buffer_full")
		return false
	}
	h.metrics.RecordWebSocketMessage(event, "out")
	return true
}

// JoinRoom adds the client to a room roster, starting the cross-node
// subscription on first local member
func (h *Hub) JoinRoom(roomID uuid.UUID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
		if h.redisClient != nil {
			ctx, cancel := context.WithCancel(context.Background())
			h.subscriptionCancels[roomID] = cancel
			go h.subscribeToRoom(ctx, roomID)
		}
	}
	h.rooms[roomID][client] = true
	client.rooms[roomID] = true
}

// LeaveRoom removes the client from a room roster
func (h *Hub) LeaveRoom(roomID uuid.UUID, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(roomID, client)
	delete(client.rooms, roomID)
}

func (h *Hub) leaveRoomLocked(roomID uuid.UUID, client *Client) {
	clients, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		if cancel, ok := h.subscriptionCancels[roomID]; ok {
			cancel()
			delete(h.subscriptionCancels, roomID)
		}
		delete(h.rooms, roomID)
	}
}

// BroadcastToRoom delivers one event to every local room member except the
// excluded users, and publishes it for members on other nodes. Returns the
// local delivery count.
func (h *Hub) BroadcastToRoom(roomID uuid.UUID, event string, payload interface{}, exclude ...uuid.UUID) int {
	frame, err := marshalEnvelope(event, payload)
	if err != nil {
		logger.Error("failed to encode event",
			zap.String("event", event), zap.Error(err))
		return 0
	}

	delivered := h.deliverToRoom(roomID, event, frame, exclude)

	if h.redisClient != nil {
		raw, _ := json.Marshal(payload)
		msg, _ := json.Marshal(fanoutMessage{
			Origin:  h.nodeID,
			RoomID:  roomID,
			Event:   event,
			Payload: raw,
			Exclude: exclude,
		})
		if err := h.redisClient.SafePublish(context.Background(), roomChannel(roomID), msg).Err(); err != nil {
			logger.Warn("room fan-out publish failed",
				zap.String("room_id", roomID.String()), zap.Error(err))
		}
	}
	return delivered
}

func (h *Hub) deliverToRoom(roomID uuid.UUID, event string, frame []byte, exclude []uuid.UUID) int {
	excluded := make(map[uuid.UUID]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if !excluded[client.userID] {
			members = append(members, client)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range members {
		if client.enqueue(frame) {
			delivered++
			h.metrics.RecordWebSocketMessage(event, "out")
		} else {
			h.metrics.RecordWebSocketError("send_buffer_full")
		}
	}
	return delivered
}

// subscribeToRoom relays room broadcasts published by other nodes to local
// members
func (h *Hub) subscribeToRoom(ctx context.Context, roomID uuid.UUID) {
	pubsub := h.redisClient.SafeSubscribe(ctx, roomChannel(roomID))
	if pubsub == nil {
		logger.Warn("room subscription unavailable, fan-out is local only",
			zap.String("room_id", roomID.String()))
		return
	}
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var fan fanoutMessage
			if err := json.Unmarshal([]byte(msg.Payload), &fan); err != nil {
				logger.Warn("failed to unmarshal room fan-out message",
					zap.String("room_id", roomID.String()), zap.Error(err))
				continue
			}
			if fan.Origin == h.nodeID {
				continue
			}
			frame, err := marshalEnvelope(fan.Event, fan.Payload)
			if err != nil {
				continue
			}
			h.deliverToRoom(fan.RoomID, fan.Event, frame, fan.Exclude)
		}
	}
}

// ConnectedUsers reports the number of live mailboxes
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.mailboxes)
}

func roomChannel(roomID uuid.UUID) string {
	return fmt.Sprintf("room:%s", roomID)
}

func marshalEnvelope(event string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(Envelope{Type: event, Payload: raw})
}
