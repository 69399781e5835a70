package usecase

import (
	"context"

	"authrelay/internal/domain"
)

// Logout tears down the session. The server call is best-effort; local
// cleanup always runs. While it runs the transport skips every recovery
// path so a concurrent 401 cannot resurrect the session. notify gates the
// LoggedOut signal for UI toasts.
func (c *SessionController) Logout(ctx context.Context, notify bool) {
	c.transport.SetLogoutInProgress(true)
	defer c.transport.SetLogoutInProgress(false)

	if err := c.gateway.Logout(ctx); err != nil {
		c.logger.Warn("server-side logout failed, continuing local cleanup", "error", err)
	}

	// The token is cleared before anything else so no in-flight request
	// can pick up a stale credential.
	c.tokens.Clear()
	if err := c.sessions.ClearSession(); err != nil {
		c.logger.Warn("failed to clear persisted session", "error", err)
	}
	c.queue.Clear(domain.ErrQueueAbandoned)
	c.transport.ResolveReauth()

	c.mu.Lock()
	c.session = domain.Session{Initialized: c.session.Initialized}
	c.mu.Unlock()

	c.logger.Info("logged out")
	if notify && c.signals.LoggedOut != nil {
		c.signals.LoggedOut()
	}
}

// AbandonReauth rejects everything waiting on re-authentication. Called
// when the user declines the prompt; every pending handle fails with
// domain.ErrQueueAbandoned.
func (c *SessionController) AbandonReauth() {
	c.queue.Clear(domain.ErrQueueAbandoned)
	c.transport.ResolveReauth()
}
