package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"wavelink-backend/internal/database"
)

// PushTokenRepository reads the device tokens the platform's device service
// registers per user. This subsystem only consumes them for missed-call
// notifications.
type PushTokenRepository struct {
	client *database.RedisClient
}

// NewPushTokenRepository creates a new PushTokenRepository
func NewPushTokenRepository(client *database.RedisClient) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

// GetTokens returns the active device tokens for a user
func (r *PushTokenRepository) GetTokens(ctx context.Context, userID uuid.UUID) ([]string, error) {
	key := fmt.Sprintf("push:tokens:%s", userID)

	tokens, err := r.client.SafeSMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get push tokens: %w", err)
	}
	return tokens, nil
}
