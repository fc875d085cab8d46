package domain

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus is a user's liveness as inferred from heartbeats, not a status
// the user sets
type UserStatus string

const (
	UserStatusOnline  UserStatus = "online"
	UserStatusOffline UserStatus = "offline"
	// UserStatusUnknown means the presence store could not be reached.
	// Never downgraded to offline: only confirmed expiry or an explicit
	// disconnect produces offline.
	UserStatusUnknown UserStatus = "unknown"
)

// PresenceRecord reflects one user's presence entry. Online is derived from
// key existence in the store; the record self-expires absent refresh.
type PresenceRecord struct {
	UserID     uuid.UUID  `json:"user_id"`
	Status     UserStatus `json:"status"`
	LastSeenAt time.Time  `json:"last_seen_at"`
}
