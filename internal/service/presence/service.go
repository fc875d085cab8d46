// Package presence tracks user liveness from connection heartbeats and fans
// status changes out to interested subscribers.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wavelink-backend/internal/domain"
	"wavelink-backend/pkg/constants"
	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
)

// Outbound event names
const (
	EventUserStatus      = "user_status"
	EventBatchUserStatus = "batch_user_status"
)

// Store is the presence persistence backend
type Store interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
	IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	GetLastSeen(ctx context.Context, userID uuid.UUID) (time.Time, error)
	GetOnlineCount(ctx context.Context) (int64, error)
}

// Relay delivers events to connected clients
type Relay interface {
	SendToUser(userID uuid.UUID, event string, payload interface{}) bool
}

// StatusPayload is one user's liveness snapshot on the wire
type StatusPayload struct {
	UserID     uuid.UUID `json:"user_id"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

// BatchStatusPayload coalesces several status changes into one event
type BatchStatusPayload struct {
	Statuses []StatusPayload `json:"statuses"`
}

// Service owns presence state transitions and subscriber fan-out. Store
// failures degrade reads to unknown; a user is reported offline only on
// explicit disconnect or confirmed record expiry, never on an error.
type Service struct {
	store   Store
	relay   Relay
	metrics *metrics.Metrics

	heartbeatInterval time.Duration
	watchInterval     time.Duration

	mu           sync.RWMutex
	subs         map[uuid.UUID]map[uuid.UUID]struct{} // target -> subscribers
	bySubscriber map[uuid.UUID]map[uuid.UUID]struct{} // subscriber -> targets
	lastStatus   map[uuid.UUID]domain.UserStatus      // last status broadcast per target
}

// NewService creates the presence service. A non-positive heartbeatInterval
// falls back to the default; the watcher sweeps on the same cadence.
func NewService(store Store, relay Relay, m *metrics.Metrics, heartbeatInterval time.Duration) *Service {
	if heartbeatInterval <= 0 {
		heartbeatInterval = constants.HeartbeatInterval
	}
	return &Service{
		store:             store,
		relay:             relay,
		metrics:           m,
		heartbeatInterval: heartbeatInterval,
		watchInterval:     heartbeatInterval,
		subs:              make(map[uuid.UUID]map[uuid.UUID]struct{}),
		bySubscriber:      make(map[uuid.UUID]map[uuid.UUID]struct{}),
		lastStatus:        make(map[uuid.UUID]domain.UserStatus),
	}
}

// HeartbeatInterval reports the cadence clients are expected to beat at
func (s *Service) HeartbeatInterval() time.Duration {
	return s.heartbeatInterval
}

// HandleConnect marks the user online when their connection registers
func (s *Service) HandleConnect(ctx context.Context, userID uuid.UUID) {
	if err := s.store.SetUserOnline(ctx, userID); err != nil {
		logger.Warn("failed to mark user online",
			zap.String("user_id", userID.String()), zap.Error(err))
		s.broadcast(userID, domain.UserStatusUnknown, time.Time{})
		return
	}
	s.metrics.RecordPresenceEvent(constants.UserStatusOnline)
	s.broadcast(userID, domain.UserStatusOnline, time.Now().UTC())
}

// HandleHeartbeat refreshes the user's presence record. Refresh re-creates
// an expired record, so a store blip self-heals on the next beat.
func (s *Service) HandleHeartbeat(ctx context.Context, userID uuid.UUID) {
	if err := s.store.RefreshPresence(ctx, userID); err != nil {
		logger.Warn("heartbeat refresh failed",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// HandleDisconnect marks the user offline when their connection closes.
// The disconnect itself is authoritative, so offline is broadcast even if
// the store write fails.
func (s *Service) HandleDisconnect(ctx context.Context, userID uuid.UUID) {
	if err := s.store.SetUserOffline(ctx, userID); err != nil {
		logger.Warn("failed to mark user offline",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
	s.metrics.RecordPresenceEvent(constants.UserStatusOffline)
	s.broadcast(userID, domain.UserStatusOffline, time.Now().UTC())
}

// RunHeartbeat refreshes presence on a fixed cadence until ctx is cancelled.
// One goroutine per registered connection.
func (s *Service) RunHeartbeat(ctx context.Context, userID uuid.UUID) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.HandleHeartbeat(ctx, userID)
		}
	}
}

// Subscribe registers interest in a target's status changes and returns the
// current snapshot so the subscriber starts from a known value
func (s *Service) Subscribe(ctx context.Context, subscriberID, targetID uuid.UUID) StatusPayload {
	s.mu.Lock()
	if s.subs[targetID] == nil {
		s.subs[targetID] = make(map[uuid.UUID]struct{})
	}
	s.subs[targetID][subscriberID] = struct{}{}
	if s.bySubscriber[subscriberID] == nil {
		s.bySubscriber[subscriberID] = make(map[uuid.UUID]struct{})
	}
	s.bySubscriber[subscriberID][targetID] = struct{}{}
	s.mu.Unlock()

	snapshot := s.Status(ctx, targetID)
	s.mu.Lock()
	if snapshot.Status != string(domain.UserStatusUnknown) {
		s.lastStatus[targetID] = domain.UserStatus(snapshot.Status)
	}
	s.mu.Unlock()
	return snapshot
}

// Unsubscribe removes one target subscription
func (s *Service) Unsubscribe(subscriberID, targetID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(subscriberID, targetID)
}

// UnsubscribeAll drops every subscription held by the subscriber, called on
// disconnect
func (s *Service) UnsubscribeAll(subscriberID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for targetID := range s.bySubscriber[subscriberID] {
		s.removeLocked(subscriberID, targetID)
	}
}

func (s *Service) removeLocked(subscriberID, targetID uuid.UUID) {
	if set := s.subs[targetID]; set != nil {
		delete(set, subscriberID)
		if len(set) == 0 {
			delete(s.subs, targetID)
			delete(s.lastStatus, targetID)
		}
	}
	if set := s.bySubscriber[subscriberID]; set != nil {
		delete(set, targetID)
		if len(set) == 0 {
			delete(s.bySubscriber, subscriberID)
		}
	}
}

// Status reads a user's current liveness. Store errors yield unknown.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) StatusPayload {
	online, err := s.store.IsUserOnline(ctx, userID)
	if err != nil {
		return StatusPayload{UserID: userID, Status: string(domain.UserStatusUnknown)}
	}
	if online {
		return StatusPayload{UserID: userID, Status: string(domain.UserStatusOnline)}
	}
	payload := StatusPayload{UserID: userID, Status: string(domain.UserStatusOffline)}
	if lastSeen, err := s.store.GetLastSeen(ctx, userID); err == nil {
		payload.LastSeenAt = lastSeen
	}
	return payload
}

// BatchStatus resolves several users in one pass for the batch query event
func (s *Service) BatchStatus(ctx context.Context, userIDs []uuid.UUID) BatchStatusPayload {
	statuses := make([]StatusPayload, 0, len(userIDs))
	for _, id := range userIDs {
		statuses = append(statuses, s.Status(ctx, id))
	}
	return BatchStatusPayload{Statuses: statuses}
}

// RunWatcher periodically confirms the liveness of every watched target and
// fans out changes. This is what turns a silently-expired record into an
// offline notification for subscribers.
func (s *Service) RunWatcher(ctx context.Context) {
	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	if count, err := s.store.GetOnlineCount(ctx); err == nil {
		s.metrics.SetPresenceOnline(count)
	}

	s.mu.RLock()
	targets := make([]uuid.UUID, 0, len(s.subs))
	for targetID := range s.subs {
		targets = append(targets, targetID)
	}
	s.mu.RUnlock()

	// subscriber -> coalesced changes for this sweep
	changes := make(map[uuid.UUID][]StatusPayload)
	for _, targetID := range targets {
		snapshot := s.Status(ctx, targetID)
		status := domain.UserStatus(snapshot.Status)
		if status == domain.UserStatusUnknown {
			// Inconclusive read, keep the last known status
			continue
		}

		s.mu.Lock()
		previous, seen := s.lastStatus[targetID]
		if seen && previous == status {
			s.mu.Unlock()
			continue
		}
		s.lastStatus[targetID] = status
		subscribers := make([]uuid.UUID, 0, len(s.subs[targetID]))
		for id := range s.subs[targetID] {
			subscribers = append(subscribers, id)
		}
		s.mu.Unlock()

		if seen && previous == domain.UserStatusOnline && status == domain.UserStatusOffline {
			s.metrics.RecordHeartbeatMissed()
		}
		s.metrics.RecordPresenceEvent(snapshot.Status)
		for _, subscriberID := range subscribers {
			changes[subscriberID] = append(changes[subscriberID], snapshot)
		}
	}

	for subscriberID, statuses := range changes {
		s.relay.SendToUser(subscriberID, EventBatchUserStatus, BatchStatusPayload{Statuses: statuses})
	}
}

// broadcast pushes one target's new status to all its subscribers
func (s *Service) broadcast(targetID uuid.UUID, status domain.UserStatus, lastSeen time.Time) {
	s.mu.Lock()
	if status != domain.UserStatusUnknown {
		if _, watched := s.subs[targetID]; watched {
			s.lastStatus[targetID] = status
		}
	}
	subscribers := make([]uuid.UUID, 0, len(s.subs[targetID]))
	for id := range s.subs[targetID] {
		subscribers = append(subscribers, id)
	}
	s.mu.Unlock()

	if len(subscribers) == 0 {
		return
	}
	payload := StatusPayload{UserID: targetID, Status: string(status)}
	if status == domain.UserStatusOffline {
		payload.LastSeenAt = lastSeen
	}
	for _, subscriberID := range subscribers {
		s.relay.SendToUser(subscriberID, EventUserStatus, payload)
	}
}
