package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"wavelink-backend/internal/database"
)

// TokenBlacklistRepository tracks revoked access tokens. Entries expire with
// the token, so the set stays bounded.
type TokenBlacklistRepository struct {
	client *database.RedisClient
}

func NewTokenBlacklistRepository(client *database.RedisClient) *TokenBlacklistRepository {
	return &TokenBlacklistRepository{client: client}
}

// revocationKey hashes the token so raw credentials never land in the store
func revocationKey(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return fmt.Sprintf("revoked:%s", hex.EncodeToString(sum[:]))
}

// RevokeToken blacklists a token for the remainder of its lifetime
func (r *TokenBlacklistRepository) RevokeToken(ctx context.Context, tokenString string, ttl time.Duration) error {
	return r.client.SafeSet(ctx, revocationKey(tokenString), "1", ttl).Err()
}

// IsTokenRevoked reports whether the token has been blacklisted
func (r *TokenBlacklistRepository) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	n, err := r.client.SafeExists(ctx, revocationKey(tokenString)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
