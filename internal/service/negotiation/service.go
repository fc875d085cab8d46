// Package negotiation forwards peer negotiation traffic between call
// participants. Payloads are opaque: they are never parsed, validated, or
// stored, only routed.
package negotiation

import (
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wavelink-backend/internal/domain"
	"wavelink-backend/internal/registry"
	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
)

// Outbound event names, one per negotiation kind
const (
	EventOffer     = "webrtc:offer"
	EventAnswer    = "webrtc:answer"
	EventCandidate = "webrtc:candidate"
)

// Drop reasons recorded when a message is discarded
const (
	dropUnknownCall    = "unknown_call"
	dropBadState       = "bad_state"
	dropNotParticipant = "not_participant"
	dropBadKind        = "bad_kind"
)

// Relay delivers events to connected clients
type Relay interface {
	SendToUser(userID uuid.UUID, event string, payload interface{}) bool
}

// Service routes negotiation messages to the other participants of an
// active call. Reads session state but never mutates it.
type Service struct {
	store   registry.SessionStore
	relay   Relay
	metrics *metrics.Metrics
}

func NewService(store registry.SessionStore, relay Relay, m *metrics.Metrics) *Service {
	return &Service{store: store, relay: relay, metrics: m}
}

// ForwardedPayload is what the receiving peers see: the untouched blob plus
// enough routing context to hand it to the right peer connection
type ForwardedPayload struct {
	CallID   uuid.UUID       `json:"call_id"`
	SenderID uuid.UUID       `json:"sender_id"`
	Payload  json.RawMessage `json:"payload"`
}

// Forward relays the message to every other participant of the call.
// Messages that fail validation are dropped and logged, never bounced back
// to the sender, so a stale client cannot crash signaling for the rest.
func (s *Service) Forward(msg *domain.NegotiationMessage) {
	event, ok := eventFor(msg.Kind)
	if !ok {
		s.drop(msg, dropBadKind)
		return
	}

	session, ok := s.store.Get(msg.CallID)
	if !ok {
		s.drop(msg, dropUnknownCall)
		return
	}
	if !session.State.CanNegotiate() {
		s.drop(msg, dropBadState)
		return
	}
	if !session.IsParticipant(msg.SenderID) {
		s.drop(msg, dropNotParticipant)
		return
	}

	forwarded := ForwardedPayload{
		CallID:   msg.CallID,
		SenderID: msg.SenderID,
		Payload:  msg.Payload,
	}
	for _, id := range session.OtherParticipants(msg.SenderID) {
		s.relay.SendToUser(id, event, forwarded)
	}
	s.metrics.RecordNegotiationRelayed(string(msg.Kind))
}

func (s *Service) drop(msg *domain.NegotiationMessage, reason string) {
	s.metrics.RecordNegotiationDropped(reason)
	logger.Warn("dropped negotiation message",
		zap.String("call_id", msg.CallID.String()),
		zap.String("sender_id", msg.SenderID.String()),
		zap.String("kind", string(msg.Kind)),
		zap.String("reason", reason))
}

func eventFor(kind domain.NegotiationKind) (string, bool) {
	switch kind {
	case domain.NegotiationOffer:
		return EventOffer, true
	case domain.NegotiationAnswer:
		return EventAnswer, true
	case domain.NegotiationCandidate:
		return EventCandidate, true
	}
	return "", false
}
