// Package usecase orchestrates the login/logout state machine over the
// token store, session store, request queue and auth gateway.
package usecase

import (
	"context"
	"log/slog"
	"sync"

	"authrelay/internal/domain"
	"authrelay/internal/infrastructure/queue"
)

// Signals are one-shot notifications consumed by UI collaborators outside
// this core. Nil callbacks are skipped. The re-auth-needed signal is owned
// by the transport layer, where the classification happens.
type Signals struct {
	BootstrapFinished func()
	QueueDrained      func()
	LoggedOut         func()
}

// SessionController owns the Session record and drives every login, logout
// and bootstrap transition. All mutation of the Session goes through it.
type SessionController struct {
	gateway   domain.AuthGateway
	tokens    domain.TokenStore
	sessions  domain.SessionStore
	queue     *queue.RequestQueue
	transport domain.TransportControl
	signals   Signals
	logger    *slog.Logger

	mu      sync.RWMutex
	session domain.Session

	bootstrapOnce sync.Once
}

// NewSessionController creates a session controller.
func NewSessionController(
	gateway domain.AuthGateway,
	tokens domain.TokenStore,
	sessions domain.SessionStore,
	q *queue.RequestQueue,
	transport domain.TransportControl,
	signals Signals,
	logger *slog.Logger,
) *SessionController {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionController{
		gateway:   gateway,
		tokens:    tokens,
		sessions:  sessions,
		queue:     q,
		transport: transport,
		signals:   signals,
		logger:    logger,
	}
}

// Session returns a snapshot of the current session state.
func (c *SessionController) Session() domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := c.session
	if c.session.User != nil {
		user := *c.session.User
		snapshot.User = &user
	}
	return snapshot
}

// completeLogin atomically records a successful authentication and caches
// the profile durably.
func (c *SessionController) completeLogin(user *domain.UserProfile) {
	c.mu.Lock()
	c.session.LoggedIn = true
	c.session.User = user
	c.session.Email = user.Email
	c.session.NeedsVerification = false
	c.mu.Unlock()

	if err := c.sessions.SaveProfile(user); err != nil {
		c.logger.Warn("failed to cache profile", "error", err)
	}
}

// drainQueue replays everything parked during the outage, in submission
// order, then re-arms the re-auth signal. Runs after every successful login
// path.
func (c *SessionController) drainQueue(ctx context.Context) {
	drained := c.queue.HasQueued()
	c.queue.DrainAndReplay(ctx, c.transport.Replay)
	c.transport.ResolveReauth()

	if drained && c.signals.QueueDrained != nil {
		c.signals.QueueDrained()
	}
}
