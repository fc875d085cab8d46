package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wavelink-backend/internal/database"
	"wavelink-backend/pkg/constants"
)

// PresenceRepository handles user online/offline status in Redis.
// A presence key self-expires after its TTL absent refresh, so abrupt
// disconnects and crashes flip to offline without an explicit signal.
type PresenceRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewPresenceRepository creates a new PresenceRepository. A non-positive ttl
// falls back to the default; it must exceed the heartbeat interval with
// margin to tolerate a missed tick.
func NewPresenceRepository(client *database.RedisClient, ttl time.Duration) *PresenceRepository {
	if ttl <= 0 {
		ttl = constants.PresenceTTL
	}
	return &PresenceRepository{client: client, ttl: ttl}
}

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:%s", userID)
}

// lastSeenKey survives the presence key's expiry so offline users still
// report when they were last online
func lastSeenKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:lastseen:%s", userID)
}

// SetUserOnline marks user as online with a fresh TTL
func (r *PresenceRepository) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	lastSeen := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.client.SafeSet(ctx, presenceKey(userID), lastSeen, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}
	if err := r.client.SafeSet(ctx, lastSeenKey(userID), lastSeen, 0).Err(); err != nil {
		return fmt.Errorf("failed to record last seen: %w", err)
	}

	// Online users set for quick listing
	if err := r.client.SafeSAdd(ctx, "presence:online", userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}

	return nil
}

// SetUserOffline marks user as offline (clean disconnect)
func (r *PresenceRepository) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	lastSeen := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.client.SafeDel(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.client.SafeSet(ctx, lastSeenKey(userID), lastSeen, 0).Err(); err != nil {
		return fmt.Errorf("failed to record last seen: %w", err)
	}

	if err := r.client.SafeSRem(ctx, "presence:online", userID.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}

	return nil
}

// RefreshPresence keeps user online (heartbeat). Re-sets the key rather than
// extending its TTL so a record that expired between ticks is recreated.
func (r *PresenceRepository) RefreshPresence(ctx context.Context, userID uuid.UUID) error {
	return r.SetUserOnline(ctx, userID)
}

// IsUserOnline checks if user is currently online.
// A non-nil error means liveness is UNKNOWN (store unreachable); callers must
// not treat it as offline.
func (r *PresenceRepository) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	exists, err := r.client.SafeExists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence: %w", err)
	}

	return exists > 0, nil
}

// GetLastSeen returns the most recent heartbeat or disconnect time
func (r *PresenceRepository) GetLastSeen(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	value, err := r.client.SafeGet(ctx, lastSeenKey(userID)).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last seen: %w", err)
	}

	lastSeen, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed last seen value: %w", err)
	}
	return lastSeen, nil
}

// GetOnlineUsers retrieves list of online user IDs.
// The online set may briefly contain users whose key already expired; callers
// that need certainty should confirm with IsUserOnline.
func (r *PresenceRepository) GetOnlineUsers(ctx context.Context) ([]uuid.UUID, error) {
	userIDStrs, err := r.client.SafeSMembers(ctx, "presence:online").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}

	userIDs := make([]uuid.UUID, 0, len(userIDStrs))
	for _, idStr := range userIDStrs {
		userID, err := uuid.Parse(idStr)
		if err != nil {
			continue // Skip invalid UUIDs
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}

// RemoveFromOnlineSet drops a user whose key expired from the listing set
func (r *PresenceRepository) RemoveFromOnlineSet(ctx context.Context, userID uuid.UUID) error {
	return r.client.SafeSRem(ctx, "presence:online", userID.String()).Err()
}

// GetOnlineCount returns number of online users
func (r *PresenceRepository) GetOnlineCount(ctx context.Context) (int64, error) {
	count, err := r.client.SafeSCard(ctx, "presence:online").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count online users: %w", err)
	}
	return count, nil
}

// IsDegraded returns true if Redis is in degraded mode
func (r *PresenceRepository) IsDegraded() bool {
	return r.client.IsDegraded()
}
