package negotiation

import (
	"encoding/json"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavelink-backend/internal/domain"
	"wavelink-backend/internal/registry"
	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

type fakeRelay struct {
	mu   sync.Mutex
	sent map[uuid.UUID][]string
	last map[uuid.UUID]interface{}
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		sent: make(map[uuid.UUID][]string),
		last: make(map[uuid.UUID]interface{}),
	}
}

func (r *fakeRelay) SendToUser(userID uuid.UUID, event string, payload interface{}) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[userID] = append(r.sent[userID], event)
	r.last[userID] = payload
	return true
}

func seedSession(t *testing.T, store registry.SessionStore, state domain.CallState) *domain.CallSession {
	t.Helper()
	caller, target := uuid.New(), uuid.New()
	session := domain.NewCallSession(uuid.New(), caller, &target, domain.CallTypeAudio, domain.ChatTypeDirect)
	require.NoError(t, store.Put(session))
	updated, err := store.Update(session.CallID, func(cs *domain.CallSession) error {
		cs.State = state
		cs.AddParticipant(target)
		return nil
	})
	require.NoError(t, err)
	return updated
}

func offerFrom(session *domain.CallSession, sender uuid.UUID) *domain.NegotiationMessage {
	return &domain.NegotiationMessage{
		Kind:     domain.NegotiationOffer,
		CallID:   session.CallID,
		SenderID: sender,
		Payload:  json.RawMessage(`{"sdp":"v=0..."}`),
	}
}

func TestForward_RelaysToOtherParticipants(t *testing.T) {
	store := registry.NewMemoryStore()
	relay := newFakeRelay()
	svc := NewService(store, relay, metrics.NewMetrics("test"))
	session := seedSession(t, store, domain.CallStateAnswered)

	caller := session.CallerID
	callee := *session.TargetUserID

	svc.Forward(offerFrom(session, caller))

	assert.Empty(t, relay.sent[caller])
	require.Equal(t, []string{EventOffer}, relay.sent[callee])

	forwarded := relay.last[callee].(ForwardedPayload)
	assert.Equal(t, session.CallID, forwarded.CallID)
	assert.Equal(t, caller, forwarded.SenderID)
	assert.JSONEq(t, `{"sdp":"v=0..."}`, string(forwarded.Payload))
}

func TestForward_AllKinds(t *testing.T) {
	store := registry.NewMemoryStore()
	relay := newFakeRelay()
	svc := NewService(store, relay, metrics.NewMetrics("test"))
	session := seedSession(t, store, domain.CallStateConnected)
	callee := *session.TargetUserID

	for _, kind := range []domain.NegotiationKind{domain.NegotiationOffer, domain.NegotiationAnswer, domain.NegotiationCandidate} {
		svc.Forward(&domain.NegotiationMessage{
			Kind:     kind,
			CallID:   session.CallID,
			SenderID: session.CallerID,
			Payload:  json.RawMessage(`{}`),
		})
	}
	assert.Equal(t, []string{EventOffer, EventAnswer, EventCandidate}, relay.sent[callee])
}

func TestForward_DropsUnknownCall(t *testing.T) {
	store := registry.NewMemoryStore()
	relay := newFakeRelay()
	svc := NewService(store, relay, metrics.NewMetrics("test"))

	svc.Forward(&domain.NegotiationMessage{
		Kind:     domain.NegotiationOffer,
		CallID:   uuid.New(),
		SenderID: uuid.New(),
		Payload:  json.RawMessage(`{}`),
	})
	assert.Empty(t, relay.sent)
}

func TestForward_DropsWhenNotNegotiating(t *testing.T) {
	for _, state := range []domain.CallState{domain.CallStateInvited, domain.CallStateRinging} {
		store := registry.NewMemoryStore()
		relay := newFakeRelay()
		svc := NewService(store, relay, metrics.NewMetrics("test"))
		session := seedSession(t, store, state)

		svc.Forward(offerFrom(session, session.CallerID))
		assert.Empty(t, relay.sent, "state %s must not relay", state)
	}
}

func TestForward_DropsNonParticipantSender(t *testing.T) {
	store := registry.NewMemoryStore()
	relay := newFakeRelay()
	svc := NewService(store, relay, metrics.NewMetrics("test"))
	session := seedSession(t, store, domain.CallStateAnswered)

	svc.Forward(offerFrom(session, uuid.New()))
	assert.Empty(t, relay.sent)
}

func TestForward_DropsUnknownKind(t *testing.T) {
	store := registry.NewMemoryStore()
	relay := newFakeRelay()
	svc := NewService(store, relay, metrics.NewMetrics("test"))
	session := seedSession(t, store, domain.CallStateAnswered)

	svc.Forward(&domain.NegotiationMessage{
		Kind:     domain.NegotiationKind("renegotiate"),
		CallID:   session.CallID,
		SenderID: session.CallerID,
		Payload:  json.RawMessage(`{}`),
	})
	assert.Empty(t, relay.sent)
}
