package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// NegotiationKind distinguishes the media-negotiation message variants
type NegotiationKind string

const (
	NegotiationOffer     NegotiationKind = "offer"
	NegotiationAnswer    NegotiationKind = "answer"
	NegotiationCandidate NegotiationKind = "candidate"
)

// NegotiationMessage carries an opaque session-description or ICE-candidate
// blob between the participants of one call. Fire-and-forget: relayed only
// while the session exists, never persisted or inspected.
type NegotiationMessage struct {
	Kind     NegotiationKind `json:"kind"`
	CallID   uuid.UUID       `json:"call_id"`
	SenderID uuid.UUID       `json:"sender_id"`
	Payload  json.RawMessage `json:"payload"`
}
