package session

import (
	"sync"

	"authrelay/internal/domain"
)

// MemoryStore keeps session artifacts in memory only. Used in tests and
// when no durable store path is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	token   string
	profile *domain.UserProfile
}

var _ domain.SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) PersistToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) LoadToken() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

func (s *MemoryStore) SaveProfile(profile *domain.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *profile
	s.profile = &copied
	return nil
}

func (s *MemoryStore) LoadProfile() (*domain.UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil, false
	}
	copied := *s.profile
	return &copied, true
}

func (s *MemoryStore) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.profile = nil
	return nil
}
