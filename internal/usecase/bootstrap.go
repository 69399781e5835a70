package usecase

import (
	"context"

	"authrelay/internal/domain"
)

// Bootstrap runs the who-am-I probe once at process start. Initialization
// always completes exactly once: authenticated, anonymous, or probe failure
// all leave the session initialized. Subsequent calls are no-ops.
func (c *SessionController) Bootstrap(ctx context.Context) error {
	var probeErr error

	c.bootstrapOnce.Do(func() {
		// Seed the in-memory token from the durable store so a sliding
		// session survives a restart.
		if token, ok := c.sessions.LoadToken(); ok {
			c.tokens.Set(token)
		}

		user, err := c.gateway.Me(ctx)
		switch {
		case err == nil:
			c.mu.Lock()
			c.session = domain.Session{
				LoggedIn:    true,
				Initialized: true,
				User:        user,
				Email:       user.Email,
			}
			c.mu.Unlock()
			c.logger.Info("bootstrap completed, session restored", "user_id", user.ID)

		case domain.IsUnauthorized(err):
			c.tokens.Clear()
			c.setAnonymous()
			c.logger.Info("bootstrap completed, anonymous session")

		default:
			c.setAnonymous()
			probeErr = err
			c.logger.Warn("bootstrap probe failed, continuing anonymous", "error", err)
		}

		if c.signals.BootstrapFinished != nil {
			c.signals.BootstrapFinished()
		}
	})

	return probeErr
}

func (c *SessionController) setAnonymous() {
	c.mu.Lock()
	c.session = domain.Session{Initialized: true}
	c.mu.Unlock()
}
