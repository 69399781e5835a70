// Package mockauth is an in-process auth backend used by the integration
// tests and the demo command. It implements the same wire contract the real
// backend exposes: bearer tokens in response headers, a refresh cookie, and
// needRefresh markers in 401 payloads.
package mockauth

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"authrelay/internal/domain"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	refreshCookieName = "authrelay_refresh"
	verifyCode        = "123456"
)

type account struct {
	password string
	profile  domain.UserProfile
	verified bool
}

// Server is a scriptable auth backend.
type Server struct {
	e      *echo.Echo
	signer *tokenSigner

	mu       sync.Mutex
	accounts map[string]*account
	sessions map[string]string // refresh cookie value -> email
	requests []string

	// Behavior switches for tests.
	failRefresh  atomic.Bool // refresh endpoint answers 401
	forceReauth  atomic.Bool // protected 401s omit needRefresh
	refreshDelay time.Duration

	refreshCalls atomic.Int64
}

// Option mutates server construction.
type Option func(*Server)

// WithAccessTTL sets the issued token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.signer.ttl = ttl }
}

// WithRefreshDelay makes the refresh endpoint take at least d. Used to
// widen the single-flight race window in tests.
func WithRefreshDelay(d time.Duration) Option {
	return func(s *Server) { s.refreshDelay = d }
}

// New creates a mock auth server with one seeded account
// (user@example.com / secret).
func New(opts ...Option) *Server {
	s := &Server{
		e:        echo.New(),
		signer:   newTokenSigner(15 * time.Minute),
		accounts: make(map[string]*account),
		sessions: make(map[string]string),
	}
	s.e.HideBanner = true
	s.e.HidePort = true

	s.Seed("user@example.com", "secret", domain.UserProfile{
		ID:        uuid.NewString(),
		Email:     "user@example.com",
		FirstName: "Test",
		LastName:  "User",
		Role:      "user",
		Verified:  true,
	})

	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// Handler exposes the server as an http.Handler for httptest or a real
// listener.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Seed registers an account.
func (s *Server) Seed(email, password string, profile domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[email] = &account{password: password, profile: profile, verified: profile.Verified}
}

// FailRefresh makes the refresh endpoint answer 401 until re-enabled.
func (s *Server) FailRefresh(fail bool) {
	s.failRefresh.Store(fail)
}

// ForceReauth makes protected 401s omit the needRefresh marker, selecting
// the direct-enqueue path on the client.
func (s *Server) ForceReauth(force bool) {
	s.forceReauth.Store(force)
}

// RevokeAccess invalidates every issued access token.
func (s *Server) RevokeAccess() {
	s.signer.bumpGeneration()
}

// RefreshCalls returns how many refresh requests reached the backend.
func (s *Server) RefreshCalls() int64 {
	return s.refreshCalls.Load()
}

// Requests returns the ordered method+path log of protected calls.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) recordRequest(c echo.Context) {
	s.mu.Lock()
	s.requests = append(s.requests, c.Request().Method+" "+c.Request().URL.Path)
	s.mu.Unlock()
}

// Protected registers an extra route behind bearer authentication. The
// handler also slides the token: every 2xx answer carries a reissued
// credential in the Authorization header.
func (s *Server) Protected(method, path string, handler echo.HandlerFunc) {
	s.e.Add(method, path, handler, s.requireBearer)
}

func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		email, err := s.signer.validate(bearerToken(c.Request()))
		if err != nil {
			return s.unauthorized(c)
		}

		s.recordRequest(c)

		// Sliding expiration: reissue on every authenticated call.
		token, err := s.signer.issue(email)
		if err == nil {
			c.Response().Header().Set("Authorization", "Bearer "+token)
		}
		c.Set("email", email)
		return next(c)
	}
}

// unauthorized answers 401 with the needRefresh marker when a silent
// refresh could still succeed.
func (s *Server) unauthorized(c echo.Context) error {
	needRefresh := false
	if !s.forceReauth.Load() {
		if cookie, err := c.Cookie(refreshCookieName); err == nil {
			s.mu.Lock()
			_, needRefresh = s.sessions[cookie.Value]
			s.mu.Unlock()
		}
	}
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"message":     "authentication required",
		"needRefresh": needRefresh,
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
