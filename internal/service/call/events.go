package call

import (
	"github.com/google/uuid"
)

// Outbound event names emitted by the coordinator
const (
	EventCallInvite    = "call:invite"
	EventCallInviteAck = "call:invite_ack"
	EventCallAnswered  = "call:answered"
	EventCallDeclined  = "call:declined"
	EventCallConnected = "call:connected"
	EventCallEnded     = "call:ended"
	EventCallMissed    = "call:missed"
)

// InvitePayload is delivered to every prospective callee
type InvitePayload struct {
	CallID     uuid.UUID `json:"call_id"`
	RoomID     uuid.UUID `json:"room_id"`
	CallerID   uuid.UUID `json:"caller_id"`
	CallerName string    `json:"caller_name"`
	CallType   string    `json:"call_type"`
	ChatType   string    `json:"chat_type"`
}

// InviteAckPayload confirms invite creation back to the caller
type InviteAckPayload struct {
	CallID uuid.UUID `json:"call_id"`
	RoomID uuid.UUID `json:"room_id"`
}

// AnsweredPayload notifies the caller that a callee accepted
type AnsweredPayload struct {
	CallID     uuid.UUID `json:"call_id"`
	AnsweredBy uuid.UUID `json:"answered_by"`
}

// DeclinedPayload carries the terminal decline reason to the caller
type DeclinedPayload struct {
	CallID uuid.UUID `json:"call_id"`
	Reason string    `json:"reason"`
}

// ConnectedPayload is fanned out to all participants once media is up
type ConnectedPayload struct {
	CallID       uuid.UUID   `json:"call_id"`
	Participants []uuid.UUID `json:"participants"`
}

// EndedPayload tells remaining parties the call is over
type EndedPayload struct {
	CallID  uuid.UUID `json:"call_id"`
	EndedBy uuid.UUID `json:"ended_by"`
	Reason  string    `json:"reason"`
}

// MissedPayload reaches a callee whose invite could not ring or went
// unanswered, so the client can surface a missed-call entry
type MissedPayload struct {
	CallID     uuid.UUID `json:"call_id"`
	RoomID     uuid.UUID `json:"room_id"`
	CallerID   uuid.UUID `json:"caller_id"`
	CallerName string    `json:"caller_name"`
	CallType   string    `json:"call_type"`
	Reason     string    `json:"reason"`
}
