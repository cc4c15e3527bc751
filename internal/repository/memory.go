package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Kartavya-AI/SRS-Generator/internal/domain"
)

// ErrNotFound is returned by any store when no session exists for the id.
var ErrNotFound = errors.New("repository: session not found")

// ErrVersionConflict is returned by Update when the stored session has moved
// past the version the caller read.
var ErrVersionConflict = errors.New("repository: session version conflict")

const (
	defaultMaxSessions   = 100
	defaultEvictionFloor = 50
)

// MemoryStore is a bounded in-process session store. Once the number of live
// sessions reaches the ceiling, the oldest sessions by creation time are
// evicted down to the floor before a new session is admitted.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	max      int
	floor    int
}

// NewMemoryStore creates a MemoryStore with the given capacity bounds.
// Non-positive or inconsistent bounds fall back to the defaults.
func NewMemoryStore(maxSessions, evictionFloor int) *MemoryStore {
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	if evictionFloor <= 0 || evictionFloor >= maxSessions {
		evictionFloor = maxSessions / 2
	}
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		max:      maxSessions,
		floor:    evictionFloor,
	}
}

func (s *MemoryStore) Create(_ context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("repository: session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return errors.New("repository: session already exists")
	}
	if len(s.sessions) >= s.max {
		s.evictOldestLocked()
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("repository: session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != session.Version {
		return ErrVersionConflict
	}
	session.Version++
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// evictOldestLocked removes the oldest sessions by creation time until only
// floor sessions remain. Caller must hold s.mu.
func (s *MemoryStore) evictOldestLocked() {
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.sessions[ids[i]].CreatedAt.Before(s.sessions[ids[j]].CreatedAt)
	})
	for _, id := range ids {
		if len(s.sessions) <= s.floor {
			return
		}
		delete(s.sessions, id)
	}
}
