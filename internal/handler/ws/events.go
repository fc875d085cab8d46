package ws

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Inbound event names accepted from clients
const (
	EventRegister        = "register"
	EventHeartbeat       = "heartbeat"
	EventJoinRoom        = "join_room"
	EventLeaveRoom       = "leave_room"
	EventCallInvite      = "call:invite"
	EventCallAnswer      = "call:answer"
	EventCallConnected   = "call:connected"
	EventCallEnd         = "call:end"
	EventWebRTCOffer     = "webrtc:offer"
	EventWebRTCAnswer    = "webrtc:answer"
	EventWebRTCCandidate = "webrtc:candidate"
	EventSubscribeUser   = "subscribe_user"
	EventUnsubscribeUser = "unsubscribe_user"
	EventBatchStatus     = "batch_user_status"
)

// Server-only event names
const (
	EventRegisterAck = "register_ack"
	EventError       = "error"
)

// RegisterPayload may carry the user id the client believes it has; it must
// match the authenticated identity when present
type RegisterPayload struct {
	UserID uuid.UUID `json:"user_id,omitempty"`
}

// RegisterAckPayload confirms mailbox registration
type RegisterAckPayload struct {
	UserID            uuid.UUID `json:"user_id"`
	HeartbeatInterval int       `json:"heartbeat_interval_seconds"`
}

// RoomPayload addresses a join or leave request
type RoomPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

// CallInvitePayload starts a call
type CallInvitePayload struct {
	RoomID       uuid.UUID  `json:"room_id"`
	TargetUserID *uuid.UUID `json:"target_user_id,omitempty"`
	CallType     string     `json:"call_type"`
	ChatType     string     `json:"chat_type"`
}

// CallAnswerPayload accepts or declines a ringing invite
type CallAnswerPayload struct {
	CallID   uuid.UUID `json:"call_id"`
	Accepted bool      `json:"accepted"`
}

// CallRefPayload addresses an existing call
type CallRefPayload struct {
	CallID uuid.UUID `json:"call_id"`
}

// NegotiationPayload wraps an opaque negotiation blob for a call
type NegotiationPayload struct {
	CallID  uuid.UUID       `json:"call_id"`
	Payload json.RawMessage `json:"payload"`
}

// SubscribePayload addresses a presence subscription
type SubscribePayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// BatchStatusQueryPayload asks for several users' presence at once
type BatchStatusQueryPayload struct {
	UserIDs []uuid.UUID `json:"user_ids"`
}

// ErrorPayload reports a rejected client event
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
