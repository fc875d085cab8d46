// Package call implements the signaling coordinator: it owns every call
// session's lifecycle from invite to teardown and is the only writer of the
// session registry.
package call

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wavelink-backend/internal/domain"
	"wavelink-backend/internal/registry"
	"wavelink-backend/pkg/constants"
	apperrors "wavelink-backend/pkg/errors"
	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
)

// Relay delivers control-plane events to connected clients. Delivery is
// best-effort: a false/zero return means no live mailbox accepted the event.
type Relay interface {
	SendToUser(userID uuid.UUID, event string, payload interface{}) bool
	BroadcastToRoom(roomID uuid.UUID, event string, payload interface{}, exclude ...uuid.UUID) int
}

// RoomLookup resolves room metadata and membership
type RoomLookup interface {
	GetRoomType(ctx context.Context, roomID uuid.UUID) (domain.ChatType, error)
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
}

// Notifier delivers out-of-band missed-call notifications
type Notifier interface {
	NotifyMissedCall(ctx context.Context, userID uuid.UUID, callID uuid.UUID, callerName, callType, reason string)
}

// Service coordinates call signaling. All lifecycle transitions funnel
// through here; the relay and registry never change state on their own.
type Service struct {
	store         registry.SessionStore
	relay         Relay
	rooms         RoomLookup
	notifier      Notifier
	metrics       *metrics.Metrics
	timers        *timerSet
	inviteTimeout time.Duration
}

// NewService creates the coordinator. notifier may be nil when push is
// disabled; a non-positive inviteTimeout falls back to the default.
func NewService(store registry.SessionStore, relay Relay, rooms RoomLookup, notifier Notifier, m *metrics.Metrics, inviteTimeout time.Duration) *Service {
	if inviteTimeout <= 0 {
		inviteTimeout = constants.InviteTimeout
	}
	return &Service{
		store:         store,
		relay:         relay,
		rooms:         rooms,
		notifier:      notifier,
		metrics:       m,
		timers:        newTimerSet(),
		inviteTimeout: inviteTimeout,
	}
}

// InviteInput is a validated invite request from a connected caller
type InviteInput struct {
	RoomID       uuid.UUID
	CallerID     uuid.UUID
	CallerName   string
	TargetUserID *uuid.UUID
	CallType     domain.CallType
	ChatType     domain.ChatType
}

// Invite creates a session and rings the callee(s). The caller always ends
// up with a terminal event for the attempt: either a later call:answered /
// call:ended, or a call:declined emitted here on rejection.
func (s *Service) Invite(ctx context.Context, in InviteInput) (*domain.CallSession, error) {
	log := logger.With(
		zap.String("room_id", in.RoomID.String()),
		zap.String("caller_id", in.CallerID.String()),
		zap.String("call_type", string(in.CallType)),
	)

	if err := s.validateInvite(ctx, in); err != nil {
		log.Warn("invite rejected", zap.Error(err))
		s.metrics.RecordCallFailed(rejectReason(err))
		s.declineToCaller(in.CallerID, uuid.Nil, rejectReason(err))
		return nil, err
	}

	session := domain.NewCallSession(in.RoomID, in.CallerID, in.TargetUserID, in.CallType, in.ChatType)
	if err := s.store.Put(session); err != nil {
		if errors.Is(err, registry.ErrUserBusy) {
			s.handleBusyInvite(ctx, in, session)
			return nil, apperrors.UserBusyError()
		}
		log.Error("failed to register call session", zap.Error(err))
		s.metrics.RecordCallFailed(constants.ReasonInternalError)
		s.declineToCaller(in.CallerID, session.CallID, constants.ReasonInternalError)
		return nil, apperrors.InternalError("failed to create call session")
	}

	s.metrics.CallStarted()
	log = log.With(zap.String("call_id", session.CallID.String()))

	invite := InvitePayload{
		CallID:     session.CallID,
		RoomID:     session.RoomID,
		CallerID:   session.CallerID,
		CallerName: in.CallerName,
		CallType:   string(session.CallType),
		ChatType:   string(session.ChatType),
	}

	delivered := 0
	if session.TargetUserID != nil {
		if s.relay.SendToUser(*session.TargetUserID, EventCallInvite, invite) {
			delivered = 1
		}
	} else {
		delivered = s.relay.BroadcastToRoom(session.RoomID, EventCallInvite, invite, session.CallerID)
	}

	if delivered == 0 {
		// Nobody reachable: resolve immediately instead of ringing into the
		// void, and leave a missed-call trail for the direct target.
		log.Info("invite had no reachable recipients")
		s.store.Delete(session.CallID)
		s.metrics.RecordCallFailed(constants.ReasonTimeout)
		s.declineToCaller(session.CallerID, session.CallID, constants.ReasonTimeout)
		s.notifyMissed(ctx, session, in.CallerName, constants.ReasonTimeout)
		return session, nil
	}

	updated, err := s.store.Update(session.CallID, func(cs *domain.CallSession) error {
		next, ok := nextState(cs.State, EventDeliver)
		if !ok {
			return apperrors.InvalidStateError("call is not awaiting delivery")
		}
		cs.State = next
		cs.Touch()
		return nil
	})
	if err != nil {
		// The session was answered or torn down between send and update;
		// nothing left to do here.
		log.Debug("invite resolved before ringing", zap.Error(err))
		return session, nil
	}

	s.timers.Start(updated.CallID, s.inviteTimeout, func() {
		s.onInviteTimeout(updated.CallID, in.CallerName)
	})

	log.Info("call ringing", zap.Int("recipients", delivered))
	return updated, nil
}

// Answer resolves a ringing invite. accepted moves the session to answered;
// a rejection destroys it and reports declined to the caller.
func (s *Service) Answer(ctx context.Context, callID, userID uuid.UUID, accepted bool) error {
	log := logger.ForCall(callID, userID)

	session, ok := s.store.Get(callID)
	if !ok {
		log.Warn("answer for unknown call")
		return apperrors.CallNotFoundError()
	}
	if err := s.authorizeAnswer(ctx, session, userID); err != nil {
		log.Warn("answer from unauthorized user", zap.Error(err))
		return err
	}

	if !accepted {
		removed, ok := s.store.CompareAndDelete(callID, session.State)
		if !ok {
			// State moved underneath us; let the concurrent transition win.
			return apperrors.InvalidStateError("call already resolved")
		}
		s.timers.Cancel(callID)
		s.metrics.RecordCall(string(removed.CallType), "declined")
		s.declineToCaller(removed.CallerID, callID, constants.ReasonDeclined)
		log.Info("call declined by callee")
		return nil
	}

	// A user already in another call must not accept a second one. Group
	// invites ring every member, so this is the first point where the busy
	// invariant can catch them; the registry re-index below backstops races.
	if active, busy := s.store.ActiveCallFor(userID); busy && active != callID {
		log.Warn("answer from busy user",
			zap.String("active_call_id", active.String()))
		return apperrors.UserBusyError()
	}

	updated, err := s.store.Update(callID, func(cs *domain.CallSession) error {
		next, ok := nextState(cs.State, EventAccept)
		if !ok {
			return apperrors.InvalidStateError("call cannot be answered in state " + string(cs.State))
		}
		cs.State = next
		cs.AddParticipant(userID)
		return nil
	})
	if err != nil {
		if errors.Is(err, registry.ErrUserBusy) {
			log.Warn("answer from busy user")
			return apperrors.UserBusyError()
		}
		log.Warn("answer rejected", zap.Error(err))
		return err
	}

	s.timers.Cancel(callID)
	s.relay.SendToUser(updated.CallerID, EventCallAnswered, AnsweredPayload{
		CallID:     callID,
		AnsweredBy: userID,
	})
	log.Info("call answered")
	return nil
}

// Connected marks negotiation complete and fans the participant roster out
// to everyone in the call
func (s *Service) Connected(ctx context.Context, callID, userID uuid.UUID) error {
	log := logger.ForCall(callID, userID)

	updated, err := s.store.Update(callID, func(cs *domain.CallSession) error {
		if !cs.IsParticipant(userID) {
			return apperrors.ForbiddenError("not a participant of this call")
		}
		next, ok := nextState(cs.State, EventConnected)
		if !ok {
			return apperrors.InvalidStateError("call cannot connect in state " + string(cs.State))
		}
		cs.State = next
		cs.Touch()
		return nil
	})
	if err != nil {
		if errors.Is(err, registry.ErrCallNotFound) {
			return apperrors.CallNotFoundError()
		}
		log.Warn("connect rejected", zap.Error(err))
		return err
	}

	payload := ConnectedPayload{CallID: callID, Participants: updated.Participants}
	for _, id := range updated.Participants {
		s.relay.SendToUser(id, EventCallConnected, payload)
	}
	log.Info("call connected", zap.Int("participants", len(updated.Participants)))
	return nil
}

// End tears a call down. Idempotent: ending an unknown or already-ended call
// succeeds silently so both sides can hang up simultaneously.
func (s *Service) End(ctx context.Context, callID, userID uuid.UUID, reason string) error {
	session, ok := s.store.Get(callID)
	if !ok {
		return nil
	}
	if !s.mayEnd(session, userID) {
		logger.ForCall(callID, userID).Warn("end from unauthorized user")
		return apperrors.ForbiddenError("not a party to this call")
	}

	removed, ok := s.store.Delete(callID)
	if !ok {
		return nil
	}
	s.timers.Cancel(callID)
	s.finishCall(removed, userID, reason)
	logger.ForCall(callID, userID).Info("call ended",
		zap.String("reason", reason),
		zap.String("state", string(removed.State)))
	return nil
}

// HandleDisconnect force-ends the user's active call when their transport
// drops, so the peer is not left on a dead call
func (s *Service) HandleDisconnect(ctx context.Context, userID uuid.UUID) {
	callID, ok := s.store.ActiveCallFor(userID)
	if !ok {
		return
	}
	removed, ok := s.store.Delete(callID)
	if !ok {
		return
	}
	s.timers.Cancel(callID)
	s.finishCall(removed, userID, constants.ReasonPeerDisconnected)
	logger.ForCall(callID, userID).Info("call ended by disconnect")
}

// ActiveCall exposes the user's current call for handlers and tests
func (s *Service) ActiveCall(userID uuid.UUID) (*domain.CallSession, bool) {
	callID, ok := s.store.ActiveCallFor(userID)
	if !ok {
		return nil, false
	}
	return s.store.Get(callID)
}

func (s *Service) validateInvite(ctx context.Context, in InviteInput) error {
	if in.CallType != domain.CallTypeAudio && in.CallType != domain.CallTypeVideo {
		return apperrors.InvalidInputError("unknown call type")
	}
	switch in.ChatType {
	case domain.ChatTypeDirect:
		if in.TargetUserID == nil {
			return apperrors.MissingFieldError("target_user_id")
		}
		if *in.TargetUserID == in.CallerID {
			return apperrors.InvalidInputError("cannot call yourself")
		}
	case domain.ChatTypeGroup:
		if in.CallType == domain.CallTypeVideo {
			return apperrors.InvalidInputError("video calls are not supported in group rooms")
		}
	default:
		return apperrors.InvalidInputError("unknown chat type")
	}

	roomType, err := s.rooms.GetRoomType(ctx, in.RoomID)
	if err != nil {
		return err
	}
	if roomType != in.ChatType {
		return apperrors.InvalidInputError("chat type does not match room")
	}
	if ok, err := s.rooms.IsMember(ctx, in.RoomID, in.CallerID); err != nil {
		return err
	} else if !ok {
		return apperrors.NotRoomMemberError()
	}
	if in.TargetUserID != nil {
		if ok, err := s.rooms.IsMember(ctx, in.RoomID, *in.TargetUserID); err != nil {
			return err
		} else if !ok {
			return apperrors.NotRoomMemberError()
		}
	}
	return nil
}

// authorizeAnswer checks the answering user: the direct target for direct
// calls, any room member for group calls
func (s *Service) authorizeAnswer(ctx context.Context, session *domain.CallSession, userID uuid.UUID) error {
	if userID == session.CallerID {
		return apperrors.ForbiddenError("caller cannot answer their own call")
	}
	if session.TargetUserID != nil {
		if *session.TargetUserID != userID {
			return apperrors.ForbiddenError("not the callee of this call")
		}
		return nil
	}
	ok, err := s.rooms.IsMember(ctx, session.RoomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotRoomMemberError()
	}
	return nil
}

// mayEnd allows participants, plus the direct target who has not yet joined
// the negotiation scope, to end a call
func (s *Service) mayEnd(session *domain.CallSession, userID uuid.UUID) bool {
	if session.IsParticipant(userID) {
		return true
	}
	return session.TargetUserID != nil && *session.TargetUserID == userID
}

// finishCall emits terminal events and metrics for a removed session. A
// pre-answer teardown reads as cancelled: the caller gets declined, the
// callee gets a missed-call trail.
func (s *Service) finishCall(removed *domain.CallSession, endedBy uuid.UUID, reason string) {
	if removed.State == domain.CallStateInvited || removed.State == domain.CallStateRinging {
		if endedBy == removed.CallerID {
			s.notifyTarget(removed, EventCallEnded, EndedPayload{
				CallID:  removed.CallID,
				EndedBy: endedBy,
				Reason:  reason,
			})
			s.notifyMissed(context.Background(), removed, "", constants.ReasonHangup)
		} else {
			s.relay.SendToUser(removed.CallerID, EventCallDeclined, DeclinedPayload{
				CallID: removed.CallID,
				Reason: reason,
			})
		}
		s.metrics.RecordCall(string(removed.CallType), "cancelled")
		return
	}

	ended := EndedPayload{CallID: removed.CallID, EndedBy: endedBy, Reason: reason}
	for _, id := range removed.OtherParticipants(endedBy) {
		s.relay.SendToUser(id, EventCallEnded, ended)
	}
	s.metrics.CallEnded(string(removed.CallType), time.Since(removed.CreatedAt))
}

// notifyTarget delivers an event to the ringing side: the direct target, or
// every room member except the caller for group calls
func (s *Service) notifyTarget(session *domain.CallSession, event string, payload interface{}) {
	if session.TargetUserID != nil {
		s.relay.SendToUser(*session.TargetUserID, event, payload)
		return
	}
	s.relay.BroadcastToRoom(session.RoomID, event, payload, session.CallerID)
}

func (s *Service) onInviteTimeout(callID uuid.UUID, callerName string) {
	removed, ok := s.store.CompareAndDelete(callID, domain.CallStateRinging)
	if !ok {
		// Either answered in time or already torn down
		return
	}
	s.metrics.RecordCallFailed(constants.ReasonTimeout)
	s.metrics.RecordCall(string(removed.CallType), "timeout")
	s.declineToCaller(removed.CallerID, callID, constants.ReasonTimeout)
	s.notifyTarget(removed, EventCallMissed, MissedPayload{
		CallID:     removed.CallID,
		RoomID:     removed.RoomID,
		CallerID:   removed.CallerID,
		CallerName: callerName,
		CallType:   string(removed.CallType),
		Reason:     constants.ReasonTimeout,
	})
	s.notifyMissed(context.Background(), removed, callerName, constants.ReasonTimeout)
	logger.ForCall(callID, removed.CallerID).Info("call timed out unanswered")
}

// handleBusyInvite resolves an invite that lost the busy check: the caller
// gets a synchronous decline and a busy direct target gets a missed-call
// marker so the attempt is still visible to them
func (s *Service) handleBusyInvite(ctx context.Context, in InviteInput, session *domain.CallSession) {
	s.metrics.RecordCallFailed(constants.ReasonBusy)
	s.declineToCaller(in.CallerID, session.CallID, constants.ReasonBusy)

	if in.TargetUserID == nil {
		return
	}
	if _, targetBusy := s.store.ActiveCallFor(*in.TargetUserID); !targetBusy {
		return
	}
	s.relay.SendToUser(*in.TargetUserID, EventCallMissed, MissedPayload{
		CallID:     session.CallID,
		RoomID:     session.RoomID,
		CallerID:   session.CallerID,
		CallerName: in.CallerName,
		CallType:   string(session.CallType),
		Reason:     constants.ReasonBusy,
	})
	logger.ForCall(session.CallID, in.CallerID).Info("invite rejected, callee busy")
}

func (s *Service) declineToCaller(callerID, callID uuid.UUID, reason string) {
	s.relay.SendToUser(callerID, EventCallDeclined, DeclinedPayload{
		CallID: callID,
		Reason: reason,
	})
}

// notifyMissed pushes a missed-call notification to the direct target.
// Group rooms are skipped: fanning push to a whole room is noisy and the
// in-band call:missed event already covers connected members.
func (s *Service) notifyMissed(ctx context.Context, session *domain.CallSession, callerName, reason string) {
	if s.notifier == nil || session.TargetUserID == nil {
		return
	}
	s.notifier.NotifyMissedCall(ctx, *session.TargetUserID, session.CallID, callerName, string(session.CallType), reason)
}

// rejectReason maps a validation error to a wire decline reason
func rejectReason(err error) string {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		return constants.ReasonInternalError
	}
	switch appErr.Code {
	case apperrors.ErrCodeUserBusy:
		return constants.ReasonBusy
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeMissingField, apperrors.ErrCodeForbidden, apperrors.ErrCodeNotRoomMember:
		return constants.ReasonDeclined
	default:
		return constants.ReasonInternalError
	}
}
