package cockroach

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wavelink-backend/internal/domain"
)

// ErrRoomNotFound is returned when a room id does not exist
var ErrRoomNotFound = errors.New("room not found")

// RoomRepository resolves room/conversation membership. The rooms themselves
// are owned by the platform's persistence services; signaling only reads them
// to validate that a caller and target belong to the room they claim.
type RoomRepository struct {
	pool *pgxpool.Pool
}

// NewRoomRepository creates a new room repository
func NewRoomRepository(pool *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

// GetRoomType returns whether the room is a direct or group conversation
func (r *RoomRepository) GetRoomType(ctx context.Context, roomID uuid.UUID) (domain.ChatType, error) {
	query := `
		SELECT type FROM conversations WHERE conversation_id = $1
	`

	var roomType string
	err := r.pool.QueryRow(ctx, query, roomID).Scan(&roomType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrRoomNotFound
		}
		return "", fmt.Errorf("failed to get room type: %w", err)
	}

	return domain.ChatType(roomType), nil
}

// GetMemberIDs returns the user ids belonging to a room
func (r *RoomRepository) GetMemberIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1 AND left_at IS NULL
	`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get room members: %w", err)
	}
	defer rows.Close()

	var memberIDs []uuid.UUID
	for rows.Next() {
		var userID uuid.UUID
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		memberIDs = append(memberIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate room members: %w", err)
	}

	return memberIDs, nil
}

// IsMember reports whether the user belongs to the room
func (r *RoomRepository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2 AND left_at IS NULL
		)
	`

	var isMember bool
	err := r.pool.QueryRow(ctx, query, roomID, userID).Scan(&isMember)
	if err != nil {
		return false, fmt.Errorf("failed to check room membership: %w", err)
	}

	return isMember, nil
}
