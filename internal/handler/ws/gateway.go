package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wavelink-backend/internal/domain"
	"wavelink-backend/internal/service/call"
	"wavelink-backend/internal/service/presence"
	"wavelink-backend/pkg/constants"
	apperrors "wavelink-backend/pkg/errors"
	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
)

// CallService is the signaling coordinator surface the gateway drives
type CallService interface {
	Invite(ctx context.Context, in call.InviteInput) (*domain.CallSession, error)
	Answer(ctx context.Context, callID, userID uuid.UUID, accepted bool) error
	Connected(ctx context.Context, callID, userID uuid.UUID) error
	End(ctx context.Context, callID, userID uuid.UUID, reason string) error
	HandleDisconnect(ctx context.Context, userID uuid.UUID)
}

// NegotiationService forwards opaque negotiation traffic
type NegotiationService interface {
	Forward(msg *domain.NegotiationMessage)
}

// PresenceService is the presence surface the gateway drives
type PresenceService interface {
	HandleConnect(ctx context.Context, userID uuid.UUID)
	HandleHeartbeat(ctx context.Context, userID uuid.UUID)
	HandleDisconnect(ctx context.Context, userID uuid.UUID)
	RunHeartbeat(ctx context.Context, userID uuid.UUID)
	HeartbeatInterval() time.Duration
	Subscribe(ctx context.Context, subscriberID, targetID uuid.UUID) presence.StatusPayload
	Unsubscribe(subscriberID, targetID uuid.UUID)
	UnsubscribeAll(subscriberID uuid.UUID)
	BatchStatus(ctx context.Context, userIDs []uuid.UUID) presence.BatchStatusPayload
}

// RoomLookup validates room membership for join requests
type RoomLookup interface {
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		allowed := allowedOrigins()
		if len(allowed) == 0 {
			// No allow-list configured, accept any origin (dev mode)
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		return allowed[origin]
	},
}

func allowedOrigins() map[string]bool {
	raw := os.Getenv("WS_ALLOWED_ORIGINS")
	if raw == "" {
		return nil
	}
	origins := make(map[string]bool)
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = true
		}
	}
	return origins
}

// Gateway terminates WebSocket connections and dispatches client events to
// the signaling, negotiation, and presence services
type Gateway struct {
	hub         *Hub
	calls       CallService
	negotiation NegotiationService
	presence    PresenceService
	rooms       RoomLookup
	metrics     *metrics.Metrics
}

func NewGateway(hub *Hub, calls CallService, negotiation NegotiationService, presenceSvc PresenceService, rooms RoomLookup, m *metrics.Metrics) *Gateway {
	return &Gateway{
		hub:         hub,
		calls:       calls,
		negotiation: negotiation,
		presence:    presenceSvc,
		rooms:       rooms,
		metrics:     m,
	}
}

// ServeWS upgrades an authenticated HTTP request to the signaling socket
func (g *Gateway) ServeWS(c *gin.Context) {
	select {
	case g.hub.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", g.hub.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity, please try again later"})
		return
	}
	release := func() { <-g.hub.semaphore }

	userIDVal, exists := c.Get("user_id")
	if !exists {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		release()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}
	username := c.GetString("username")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	g.metrics.WebSocketConnected()
	client := newClient(g.hub, g, conn, userID, username)

	go func() {
		defer release()
		client.writePump()
	}()
	go client.readPump()
}

// handleMessage dispatches one inbound frame
func (g *Gateway) handleMessage(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		g.sendError(c, "", apperrors.ProtocolError("malformed event frame"))
		return
	}
	g.metrics.RecordWebSocketMessage(env.Type, "in")

	if env.Type != EventRegister && !c.registered {
		g.sendError(c, env.Type, apperrors.ProtocolError("register first"))
		return
	}

	ctx := c.ctx
	switch env.Type {
	case EventRegister:
		g.handleRegister(ctx, c, env.Payload)
	case EventHeartbeat:
		g.presence.HandleHeartbeat(ctx, c.userID)
	case EventJoinRoom:
		g.handleJoinRoom(ctx, c, env.Payload)
	case EventLeaveRoom:
		var p RoomPayload
		if !g.decode(c, env.Type, env.Payload, &p) {
			return
		}
		g.hub.LeaveRoom(p.RoomID, c)
	case EventCallInvite:
		g.handleInvite(ctx, c, env.Payload)
	case EventCallAnswer:
		var p CallAnswerPayload
		if !g.decode(c, env.Type, env.Payload, &p) {
			return
		}
		if err := g.calls.Answer(ctx, p.CallID, c.userID, p.Accepted); err != nil {
			g.sendError(c, env.Type, err)
		}
	case EventCallConnected:
		var p CallRefPayload
		if !g.decode(c, env.Type, env.Payload, &p) {
			return
		}
		if err := g.calls.Connected(ctx, p.CallID, c.userID); err != nil {
			g.sendError(c, env.Type, err)
		}
	case EventCallEnd:
		var p CallRefPayload
		if !g.decode(c, env.Type, env.Payload, &p) {
			return
		}
		if err := g.calls.End(ctx, p.CallID, c.userID, constants.ReasonHangup); err != nil {
			g.sendError(c, env.Type, err)
		}
	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCCandidate:
		g.handleNegotiation(c, env.Type, env.Payload)
	case EventSubscribeUser:
		var p SubscribePayload
		if !g.decode(c, env.Type, env.Payload, &p) {
			return
		}
		snapshot := g.presence.Subscribe(ctx, c.userID, p.UserID)
		g.hub.SendToUser(c.userID, presence.EventUserStatus, snapshot)
	case EventUnsubscribeUser:
		var p SubscribePayload
		if !g.decode(c, env.Type, env.Payload, &p) {
			return
		}
		g.presence.Unsubscribe(c.userID, p.UserID)
	case EventBatchStatus:
		var p BatchStatusQueryPayload
		if !g.decode(c, env.Type, env.Payload, &p) {
			return
		}
		batch := g.presence.BatchStatus(ctx, p.UserIDs)
		g.hub.SendToUser(c.userID, presence.EventBatchUserStatus, batch)
	default:
		g.sendError(c, env.Type, apperrors.ProtocolError("unknown event type"))
	}
}

func (g *Gateway) handleRegister(ctx context.Context, c *Client, payload json.RawMessage) {
	if len(payload) > 0 {
		var p RegisterPayload
		if !g.decode(c, EventRegister, payload, &p) {
			return
		}
		if p.UserID != uuid.Nil && p.UserID != c.userID {
			g.sendError(c, EventRegister, apperrors.ProtocolError("user_id does not match authenticated identity"))
			return
		}
	}

	g.hub.RegisterMailbox(c.userID, c)
	c.registered = true
	g.presence.HandleConnect(ctx, c.userID)
	go g.presence.RunHeartbeat(c.ctx, c.userID)

	g.hub.SendToUser(c.userID, EventRegisterAck, RegisterAckPayload{
		UserID:            c.userID,
		HeartbeatInterval: int(g.presence.HeartbeatInterval().Seconds()),
	})
	logger.Info("client registered", zap.String("user_id", c.userID.String()))
}

func (g *Gateway) handleJoinRoom(ctx context.Context, c *Client, payload json.RawMessage) {
	var p RoomPayload
	if !g.decode(c, EventJoinRoom, payload, &p) {
		return
	}
	ok, err := g.rooms.IsMember(ctx, p.RoomID, c.userID)
	if err != nil {
		g.sendError(c, EventJoinRoom, err)
		return
	}
	if !ok {
		g.sendError(c, EventJoinRoom, apperrors.NotRoomMemberError())
		return
	}
	g.hub.JoinRoom(p.RoomID, c)
}

func (g *Gateway) handleInvite(ctx context.Context, c *Client, payload json.RawMessage) {
	var p CallInvitePayload
	if !g.decode(c, EventCallInvite, payload, &p) {
		return
	}
	session, err := g.calls.Invite(ctx, call.InviteInput{
		RoomID:       p.RoomID,
		CallerID:     c.userID,
		CallerName:   c.username,
		TargetUserID: p.TargetUserID,
		CallType:     domain.CallType(p.CallType),
		ChatType:     domain.ChatType(p.ChatType),
	})
	if err != nil {
		// The coordinator already delivered a terminal decline to this caller
		logger.Debug("invite rejected",
			zap.String("user_id", c.userID.String()), zap.Error(err))
		return
	}
	if session.State == domain.CallStateRinging {
		g.hub.SendToUser(c.userID, call.EventCallInviteAck, call.InviteAckPayload{
			CallID: session.CallID,
			RoomID: session.RoomID,
		})
	}
}

func (g *Gateway) handleNegotiation(c *Client, event string, payload json.RawMessage) {
	var p NegotiationPayload
	if !g.decode(c, event, payload, &p) {
		return
	}
	kind, ok := negotiationKind(event)
	if !ok {
		g.sendError(c, event, apperrors.ProtocolError("unknown negotiation kind"))
		return
	}
	g.negotiation.Forward(&domain.NegotiationMessage{
		Kind:     kind,
		CallID:   p.CallID,
		SenderID: c.userID,
		Payload:  p.Payload,
	})
}

// handleDisconnect runs once when the client's read loop exits
func (g *Gateway) handleDisconnect(c *Client) {
	g.metrics.WebSocketDisconnected()
	c.cancel()
	if !c.registered {
		return
	}
	if !g.hub.UnregisterMailbox(c.userID, c) {
		// A newer connection took over this user's mailbox. The user is
		// still online and any active call continues there, so only this
		// stale socket goes away.
		logger.Info("stale connection closed",
			zap.String("user_id", c.userID.String()))
		return
	}
	g.presence.UnsubscribeAll(c.userID)
	g.presence.HandleDisconnect(context.Background(), c.userID)
	g.calls.HandleDisconnect(context.Background(), c.userID)
	logger.Info("client disconnected", zap.String("user_id", c.userID.String()))
}

func (g *Gateway) decode(c *Client, event string, payload json.RawMessage, out interface{}) bool {
	if err := json.Unmarshal(payload, out); err != nil {
		g.sendError(c, event, apperrors.ProtocolError("malformed payload"))
		return false
	}
	return true
}

// sendError reports a rejected event back to the offending client only
func (g *Gateway) sendError(c *Client, event string, err error) {
	g.metrics.RecordWebSocketError("client_error")
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		appErr = apperrors.InternalError("internal error")
	}
	payload := ErrorPayload{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Event:   event,
	}
	frame, encodeErr := marshalEnvelope(EventError, payload)
	if encodeErr != nil {
		return
	}
	c.enqueue(frame)
}

func negotiationKind(event string) (domain.NegotiationKind, bool) {
	switch event {
	case EventWebRTCOffer:
		return domain.NegotiationOffer, true
	case EventWebRTCAnswer:
		return domain.NegotiationAnswer, true
	case EventWebRTCCandidate:
		return domain.NegotiationCandidate, true
	}
	return "", false
}
