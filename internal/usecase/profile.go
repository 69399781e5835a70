package usecase

import (
	"context"
	"fmt"

	"authrelay/internal/domain"
)

// UpdateProfile applies a partial profile update and refreshes the cached
// profile. The Session is left unchanged if the backend rejects the patch.
func (c *SessionController) UpdateProfile(ctx context.Context, patch domain.ProfilePatch) error {
	if !c.Session().LoggedIn {
		return domain.ErrNotLoggedIn
	}

	user, err := c.gateway.UpdateProfile(ctx, patch)
	if err != nil {
		c.logger.Warn("profile update failed", "error", err)
		return err
	}

	c.mu.Lock()
	c.session.User = user
	c.session.Email = user.Email
	c.mu.Unlock()

	if err := c.sessions.SaveProfile(user); err != nil {
		c.logger.Warn("failed to cache updated profile", "error", err)
	}
	return nil
}

// RequestPasswordReset asks the backend to start a reset flow for the email.
func (c *SessionController) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", domain.ErrInvalidInput)
	}
	return c.gateway.RequestPasswordReset(ctx, email)
}
