package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType represents the media kind of a call
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// ChatType represents the conversation kind a call belongs to
type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// CallState is the lifecycle state of a call session.
// Keep values stable because they are part of the wire protocol.
type CallState string

const (
	// CallStateInvited: session created, invite not yet handed to a mailbox
	CallStateInvited CallState = "invited"
	// CallStateRinging: invite delivered, awaiting an answer
	CallStateRinging CallState = "ringing"
	// CallStateAnswered: callee accepted, peers negotiating media
	CallStateAnswered CallState = "answered"
	// CallStateConnected: negotiation succeeded, media flowing peer to peer
	CallStateConnected CallState = "connected"
	// CallStateEnded: terminal, either side hung up or dropped
	CallStateEnded CallState = "ended"
	// CallStateDeclined: terminal, rejected or timed out
	CallStateDeclined CallState = "declined"
)

// IsTerminal reports whether the state admits no further transitions
func (s CallState) IsTerminal() bool {
	return s == CallStateEnded || s == CallStateDeclined
}

// IsBusy reports whether a user in a session with this state counts as busy
// for the purpose of rejecting new invites
func (s CallState) IsBusy() bool {
	switch s {
	case CallStateInvited, CallStateRinging, CallStateAnswered, CallStateConnected:
		return true
	}
	return false
}

// CanNegotiate reports whether negotiation traffic may be relayed for a
// session in this state
func (s CallState) CanNegotiate() bool {
	return s == CallStateAnswered || s == CallStateConnected
}

// CallSession tracks one logical call's lifecycle and participants.
// Owned exclusively by the signaling coordinator; nothing else mutates it.
type CallSession struct {
	CallID         uuid.UUID  `json:"call_id"`
	RoomID         uuid.UUID  `json:"room_id"`
	CallerID       uuid.UUID  `json:"caller_id"`
	TargetUserID   *uuid.UUID `json:"target_user_id,omitempty"` // absent for group-room calls
	CallType       CallType   `json:"call_type"`
	ChatType       ChatType   `json:"chat_type"`
	State          CallState  `json:"state"`
	Participants   []uuid.UUID `json:"participants"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

// NewCallSession creates a session in the invited state with a fresh call id.
// The caller is the first participant of the negotiation scope.
func NewCallSession(roomID, callerID uuid.UUID, targetUserID *uuid.UUID, callType CallType, chatType ChatType) *CallSession {
	now := time.Now().UTC()
	return &CallSession{
		CallID:         uuid.New(),
		RoomID:         roomID,
		CallerID:       callerID,
		TargetUserID:   targetUserID,
		CallType:       callType,
		ChatType:       chatType,
		State:          CallStateInvited,
		Participants:   []uuid.UUID{callerID},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Touch updates the last activity timestamp
func (s *CallSession) Touch() {
	s.LastActivityAt = time.Now().UTC()
}

// IsParticipant reports whether the user is joined to the session's
// negotiation scope
func (s *CallSession) IsParticipant(userID uuid.UUID) bool {
	for _, id := range s.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// AddParticipant joins a user to the negotiation scope; idempotent
func (s *CallSession) AddParticipant(userID uuid.UUID) {
	if s.IsParticipant(userID) {
		return
	}
	s.Participants = append(s.Participants, userID)
	s.Touch()
}

// OtherParticipants returns every participant except the given user
func (s *CallSession) OtherParticipants(userID uuid.UUID) []uuid.UUID {
	others := make([]uuid.UUID, 0, len(s.Participants))
	for _, id := range s.Participants {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}
