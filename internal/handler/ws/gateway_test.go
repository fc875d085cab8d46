package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavelink-backend/internal/domain"
	"wavelink-backend/internal/service/call"
	"wavelink-backend/internal/service/presence"
	"wavelink-backend/pkg/constants"
	"wavelink-backend/pkg/metrics"
)

type stubCalls struct {
	mu          sync.Mutex
	invites     []call.InviteInput
	answers     []CallAnswerPayload
	ended       []uuid.UUID
	disconnects []uuid.UUID
	inviteState domain.CallState
}

func (s *stubCalls) Invite(_ context.Context, in call.InviteInput) (*domain.CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites = append(s.invites, in)
	session := domain.NewCallSession(in.RoomID, in.CallerID, in.TargetUserID, in.CallType, in.ChatType)
	session.State = s.inviteState
	return session, nil
}

func (s *stubCalls) Answer(_ context.Context, callID, userID uuid.UUID, accepted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, CallAnswerPayload{CallID: callID, Accepted: accepted})
	return nil
}

func (s *stubCalls) Connected(_ context.Context, callID, userID uuid.UUID) error { return nil }

func (s *stubCalls) End(_ context.Context, callID, userID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, callID)
	return nil
}

func (s *stubCalls) HandleDisconnect(_ context.Context, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, userID)
}

type stubNegotiation struct {
	mu       sync.Mutex
	messages []*domain.NegotiationMessage
}

func (s *stubNegotiation) Forward(msg *domain.NegotiationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

type stubPresence struct {
	mu          sync.Mutex
	connects    []uuid.UUID
	heartbeats  []uuid.UUID
	disconnects []uuid.UUID
	subscribed  [][2]uuid.UUID
	cleared     []uuid.UUID
}

func (s *stubPresence) HandleConnect(_ context.Context, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects = append(s.connects, userID)
}

func (s *stubPresence) HandleHeartbeat(_ context.Context, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats = append(s.heartbeats, userID)
}

func (s *stubPresence) HandleDisconnect(_ context.Context, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, userID)
}

func (s *stubPresence) RunHeartbeat(ctx context.Context, _ uuid.UUID) { <-ctx.Done() }

func (s *stubPresence) HeartbeatInterval() time.Duration { return constants.HeartbeatInterval }

func (s *stubPresence) Subscribe(_ context.Context, subscriberID, targetID uuid.UUID) presence.StatusPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, [2]uuid.UUID{subscriberID, targetID})
	return presence.StatusPayload{UserID: targetID, Status: "online"}
}

func (s *stubPresence) Unsubscribe(subscriberID, targetID uuid.UUID) {}

func (s *stubPresence) UnsubscribeAll(subscriberID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, subscriberID)
}

func (s *stubPresence) BatchStatus(_ context.Context, userIDs []uuid.UUID) presence.BatchStatusPayload {
	statuses := make([]presence.StatusPayload, 0, len(userIDs))
	for _, id := range userIDs {
		statuses = append(statuses, presence.StatusPayload{UserID: id, Status: "offline"})
	}
	return presence.BatchStatusPayload{Statuses: statuses}
}

type stubRooms struct{ member bool }

func (s *stubRooms) IsMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	return s.member, nil
}

type gatewayEnv struct {
	gateway  *Gateway
	hub      *Hub
	calls    *stubCalls
	nego     *stubNegotiation
	presence *stubPresence
	client   *Client
	userID   uuid.UUID
}

func newGatewayEnv(t *testing.T) *gatewayEnv {
	t.Helper()
	hub := NewHub(nil, metrics.NewMetrics("test"))
	calls := &stubCalls{inviteState: domain.CallStateRinging}
	nego := &stubNegotiation{}
	pres := &stubPresence{}
	gateway := NewGateway(hub, calls, nego, pres, &stubRooms{member: true}, metrics.NewMetrics("test"))

	userID := uuid.New()
	client := newClient(hub, gateway, nil, userID, "Alice")
	return &gatewayEnv{
		gateway:  gateway,
		hub:      hub,
		calls:    calls,
		nego:     nego,
		presence: pres,
		client:   client,
		userID:   userID,
	}
}

func (e *gatewayEnv) dispatch(t *testing.T, event, payload string) {
	t.Helper()
	frame := fmt.Sprintf(`{"type":%q,"payload":%s}`, event, payload)
	e.gateway.handleMessage(e.client, []byte(frame))
}

func (e *gatewayEnv) register(t *testing.T) {
	t.Helper()
	e.gateway.handleMessage(e.client, []byte(`{"type":"register"}`))
	require.True(t, e.client.registered)
}

func drainEnvelopes(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case frame := <-c.send:
			var env Envelope
			if json.Unmarshal(frame, &env) == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func TestGateway_RegisterAcksAndMarksOnline(t *testing.T) {
	env := newGatewayEnv(t)
	env.register(t)

	envelopes := drainEnvelopes(env.client)
	require.Len(t, envelopes, 1)
	assert.Equal(t, EventRegisterAck, envelopes[0].Type)
	assert.Equal(t, []uuid.UUID{env.userID}, env.presence.connects)
	assert.Equal(t, 1, env.hub.ConnectedUsers())
}

func TestGateway_RejectsEventsBeforeRegister(t *testing.T) {
	env := newGatewayEnv(t)
	env.dispatch(t, EventHeartbeat, `{}`)

	envelopes := drainEnvelopes(env.client)
	require.Len(t, envelopes, 1)
	assert.Equal(t, EventError, envelopes[0].Type)
	assert.Empty(t, env.presence.heartbeats)
}

func TestGateway_RegisterRejectsMismatchedIdentity(t *testing.T) {
	env := newGatewayEnv(t)
	env.dispatch(t, EventRegister, fmt.Sprintf(`{"user_id":%q}`, uuid.New()))

	assert.False(t, env.client.registered)
	envelopes := drainEnvelopes(env.client)
	require.Len(t, envelopes, 1)
	assert.Equal(t, EventError, envelopes[0].Type)
}

func TestGateway_InviteCarriesAuthenticatedCaller(t *testing.T) {
	env := newGatewayEnv(t)
	env.register(t)
	drainEnvelopes(env.client)

	roomID, targetID := uuid.New(), uuid.New()
	env.dispatch(t, EventCallInvite, fmt.Sprintf(
		`{"room_id":%q,"target_user_id":%q,"call_type":"audio","chat_type":"direct"}`,
		roomID, targetID))

	require.Len(t, env.calls.invites, 1)
	in := env.calls.invites[0]
	assert.Equal(t, env.userID, in.CallerID)
	assert.Equal(t, "Alice", in.CallerName)
	assert.Equal(t, roomID, in.RoomID)
	require.NotNil(t, in.TargetUserID)
	assert.Equal(t, targetID, *in.TargetUserID)

	envelopes := drainEnvelopes(env.client)
	require.Len(t, envelopes, 1)
	assert.Equal(t, call.EventCallInviteAck, envelopes[0].Type)
}

func TestGateway_NegotiationSenderIsAuthenticated(t *testing.T) {
	env := newGatewayEnv(t)
	env.register(t)

	callID := uuid.New()
	env.dispatch(t, EventWebRTCOffer, fmt.Sprintf(
		`{"call_id":%q,"payload":{"sdp":"v=0"}}`, callID))

	require.Len(t, env.nego.messages, 1)
	msg := env.nego.messages[0]
	assert.Equal(t, domain.NegotiationOffer, msg.Kind)
	assert.Equal(t, callID, msg.CallID)
	assert.Equal(t, env.userID, msg.SenderID)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(msg.Payload))
}

func TestGateway_AnswerAndEndDispatch(t *testing.T) {
	env := newGatewayEnv(t)
	env.register(t)

	callID := uuid.New()
	env.dispatch(t, EventCallAnswer, fmt.Sprintf(`{"call_id":%q,"accepted":true}`, callID))
	env.dispatch(t, EventCallEnd, fmt.Sprintf(`{"call_id":%q}`, callID))

	require.Len(t, env.calls.answers, 1)
	assert.True(t, env.calls.answers[0].Accepted)
	assert.Equal(t, []uuid.UUID{callID}, env.calls.ended)
}

func TestGateway_SubscribeSendsSnapshot(t *testing.T) {
	env := newGatewayEnv(t)
	env.register(t)
	drainEnvelopes(env.client)

	targetID := uuid.New()
	env.dispatch(t, EventSubscribeUser, fmt.Sprintf(`{"user_id":%q}`, targetID))

	require.Len(t, env.presence.subscribed, 1)
	envelopes := drainEnvelopes(env.client)
	require.Len(t, envelopes, 1)
	assert.Equal(t, presence.EventUserStatus, envelopes[0].Type)
}

func TestGateway_DisconnectTearsEverythingDown(t *testing.T) {
	env := newGatewayEnv(t)
	env.register(t)

	env.gateway.handleDisconnect(env.client)

	assert.Equal(t, []uuid.UUID{env.userID}, env.presence.disconnects)
	assert.Equal(t, []uuid.UUID{env.userID}, env.presence.cleared)
	assert.Equal(t, []uuid.UUID{env.userID}, env.calls.disconnects)
	assert.Equal(t, 0, env.hub.ConnectedUsers())
}

func TestGateway_ReplacedConnectionDisconnectLeavesUserIntact(t *testing.T) {
	env := newGatewayEnv(t)
	env.register(t)

	// The same user reconnects; the new socket takes over the mailbox.
	replacement := newClient(env.hub, env.gateway, nil, env.userID, "Alice")
	env.gateway.handleMessage(replacement, []byte(`{"type":"register"}`))
	require.True(t, replacement.registered)

	// The old socket's read loop exits. The user stays online and no call
	// teardown runs.
	env.gateway.handleDisconnect(env.client)
	assert.Empty(t, env.presence.disconnects)
	assert.Empty(t, env.presence.cleared)
	assert.Empty(t, env.calls.disconnects)
	assert.Equal(t, 1, env.hub.ConnectedUsers())

	// Closing the current connection still tears the user down.
	env.gateway.handleDisconnect(replacement)
	assert.Equal(t, []uuid.UUID{env.userID}, env.presence.disconnects)
	assert.Equal(t, []uuid.UUID{env.userID}, env.calls.disconnects)
	assert.Equal(t, 0, env.hub.ConnectedUsers())
}

func TestGateway_MalformedFrameYieldsError(t *testing.T) {
	env := newGatewayEnv(t)
	env.gateway.handleMessage(env.client, []byte(`{not json`))

	envelopes := drainEnvelopes(env.client)
	require.Len(t, envelopes, 1)
	assert.Equal(t, EventError, envelopes[0].Type)
}

func TestGateway_UnknownEventYieldsError(t *testing.T) {
	env := newGatewayEnv(t)
	env.register(t)
	drainEnvelopes(env.client)

	env.dispatch(t, "teleport", `{}`)

	envelopes := drainEnvelopes(env.client)
	require.Len(t, envelopes, 1)
	assert.Equal(t, EventError, envelopes[0].Type)
}
