package registry

import (
	"sync"

	"github.com/google/uuid"

	"wavelink-backend/internal/domain"
)

// MemoryStore is the single-process SessionStore: a lock-guarded map with a
// secondary userID→callID index so the busy check is O(1) and atomic with
// session creation.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionEntry
	byUser   map[uuid.UUID]uuid.UUID
}

// sessionEntry carries a per-call mutex so transitions for one call are
// serialized without blocking other calls.
type sessionEntry struct {
	mu      sync.Mutex
	session *domain.CallSession
}

// NewMemoryStore creates an empty in-memory session registry
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*sessionEntry),
		byUser:   make(map[uuid.UUID]uuid.UUID),
	}
}

// Get returns a snapshot of the session, or false if absent
func (s *MemoryStore) Get(callID uuid.UUID) (*domain.CallSession, bool) {
	s.mu.RLock()
	entry, ok := s.sessions[callID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return snapshot(entry.session), true
}

// Put inserts a new session and marks its parties busy
func (s *MemoryStore) Put(session *domain.CallSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.CallID]; exists {
		return ErrCallExists
	}
	if err := s.indexLocked(session); err != nil {
		return err
	}
	s.sessions[session.CallID] = &sessionEntry{session: session}
	return nil
}

// Update applies fn under the session's lock and re-syncs the busy index
func (s *MemoryStore) Update(callID uuid.UUID, fn func(*domain.CallSession) error) (*domain.CallSession, error) {
	s.mu.RLock()
	entry, ok := s.sessions[callID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCallNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	before := snapshot(entry.session)
	if err := fn(entry.session); err != nil {
		return nil, err
	}

	// Participants may have grown (group answer); re-index under the map lock.
	// A participant already busy in another call rolls the whole update back.
	s.mu.Lock()
	if _, live := s.sessions[callID]; live {
		if err := s.indexLocked(entry.session); err != nil {
			s.mu.Unlock()
			*entry.session = *before
			return nil, err
		}
	}
	s.mu.Unlock()

	return snapshot(entry.session), nil
}

// Delete removes the session and clears its busy-index entries
func (s *MemoryStore) Delete(callID uuid.UUID) (*domain.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[callID]
	if !ok {
		return nil, false
	}
	delete(s.sessions, callID)
	s.unindexLocked(entry.session)
	return snapshot(entry.session), true
}

// CompareAndDelete removes the session only if it is still in the expected state
func (s *MemoryStore) CompareAndDelete(callID uuid.UUID, expected domain.CallState) (*domain.CallSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[callID]
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	state := entry.session.State
	entry.mu.Unlock()
	if state != expected {
		return nil, false
	}

	delete(s.sessions, callID)
	s.unindexLocked(entry.session)
	return snapshot(entry.session), true
}

// ActiveCallFor returns the call id the user is currently party to
func (s *MemoryStore) ActiveCallFor(userID uuid.UUID) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	callID, ok := s.byUser[userID]
	return callID, ok
}

// Len returns the number of live sessions
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// indexLocked marks every party of the session busy; caller holds s.mu.
// Returns ErrUserBusy, writing nothing, when any party is already indexed
// against a different call: the busy invariant is enforced here so neither
// insertion nor a later participant change can double-book a user.
func (s *MemoryStore) indexLocked(session *domain.CallSession) error {
	for _, userID := range session.Participants {
		if other, busy := s.byUser[userID]; busy && other != session.CallID {
			return ErrUserBusy
		}
	}
	if session.TargetUserID != nil {
		if other, busy := s.byUser[*session.TargetUserID]; busy && other != session.CallID {
			return ErrUserBusy
		}
	}

	for _, userID := range session.Participants {
		s.byUser[userID] = session.CallID
	}
	if session.TargetUserID != nil {
		s.byUser[*session.TargetUserID] = session.CallID
	}
	return nil
}

// unindexLocked clears busy entries still pointing at this call; caller holds s.mu
func (s *MemoryStore) unindexLocked(session *domain.CallSession) {
	for _, userID := range session.Participants {
		if s.byUser[userID] == session.CallID {
			delete(s.byUser, userID)
		}
	}
	if session.TargetUserID != nil {
		if s.byUser[*session.TargetUserID] == session.CallID {
			delete(s.byUser, *session.TargetUserID)
		}
	}
}

// snapshot copies a session so readers never observe concurrent mutation
func snapshot(session *domain.CallSession) *domain.CallSession {
	copied := *session
	copied.Participants = append([]uuid.UUID(nil), session.Participants...)
	if session.TargetUserID != nil {
		target := *session.TargetUserID
		copied.TargetUserID = &target
	}
	return &copied
}
