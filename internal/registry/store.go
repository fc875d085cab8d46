// Package registry holds the call session registry: the single source of
// truth for which calls exist and which users are busy.
package registry

import (
	"errors"

	"github.com/google/uuid"

	"wavelink-backend/internal/domain"
)

var (
	// ErrCallExists is returned when putting a session whose call id is taken
	ErrCallExists = errors.New("call session already exists")

	// ErrCallNotFound is returned when a call id is absent from the registry
	ErrCallNotFound = errors.New("call session not found")

	// ErrUserBusy is returned when a party of a new session is already in an
	// active call
	ErrUserBusy = errors.New("user is already in an active call")
)

// SessionStore is the call session registry. The in-memory implementation
// serves a single process; a shared-store implementation behind the same
// interface serves multi-process deployments. Mutations are atomic with the
// userID→callID busy index, so check-then-create cannot race.
type SessionStore interface {
	// Get returns a snapshot of the session, or false if absent
	Get(callID uuid.UUID) (*domain.CallSession, bool)

	// Put inserts a new session and indexes its parties as busy.
	// Fails with ErrCallExists on a duplicate call id and ErrUserBusy if the
	// caller or the direct target is already party to an active session.
	Put(session *domain.CallSession) error

	// Update applies fn to the live session under the session's lock and
	// re-syncs the busy index afterwards. Updates for the same call id are
	// serialized; different call ids do not block each other.
	// Returns a snapshot of the updated session.
	Update(callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error)

	// Delete removes the session and clears its busy-index entries.
	// Idempotent: returns the removed snapshot and true only on first removal.
	Delete(callID uuid.UUID) (*domain.CallSession, bool)

	// CompareAndDelete removes the session only if it is still in the
	// expected state; used by the timeout path to avoid racing an answer.
	CompareAndDelete(callID uuid.UUID, expected domain.CallState) (*domain.CallSession, bool)

	// ActiveCallFor returns the call id the user is currently party to
	ActiveCallFor(userID uuid.UUID) (uuid.UUID, bool)

	// Len returns the number of live sessions
	Len() int
}
