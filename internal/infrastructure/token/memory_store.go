package token

import (
	"sync"
	"time"

	"authrelay/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// MemoryStore is a thread-safe in-memory bearer token holder.
// Implements domain.TokenStore.
type MemoryStore struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

var _ domain.TokenStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Set replaces the current token. The previous value is discarded; no
// history is kept. If the token is a JWT its exp claim is recorded so the
// transport can refresh proactively.
func (s *MemoryStore) Set(token string) {
	expiresAt := extractExpiry(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiresAt = expiresAt
}

// Get returns the current token, if any.
func (s *MemoryStore) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Clear drops the current token.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

// ExpiresWithin reports whether a token is held and known to expire within
// the given buffer. Opaque tokens without a readable exp claim report false.
func (s *MemoryStore) ExpiresWithin(buffer time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" || s.expiresAt.IsZero() {
		return false
	}
	return time.Until(s.expiresAt) <= buffer
}

// extractExpiry reads the exp claim without verifying the signature.
// The client never trusts token contents for authorization decisions, only
// for refresh scheduling.
func extractExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
