package usecase

import (
	"context"
	"fmt"

	"authrelay/internal/domain"
)

// Login authenticates with email and password. On success the Session is
// updated, the captured token is already stored by the transport, and the
// request queue is drained.
func (c *SessionController) Login(ctx context.Context, email, password, challengeToken string) error {
	if email == "" || password == "" {
		return fmt.Errorf("%w: email and password are required", domain.ErrInvalidInput)
	}

	user, err := c.gateway.Login(ctx, email, password, challengeToken)
	if err != nil {
		c.logger.Warn("login failed", "error", err)
		return err
	}

	c.completeLogin(user)
	c.logger.Info("login succeeded", "user_id", user.ID)
	c.drainQueue(ctx)
	return nil
}

// GoogleLogin authenticates with an external-provider credential. Same
// contract as Login, different backend call.
func (c *SessionController) GoogleLogin(ctx context.Context, credential string) error {
	if credential == "" {
		return fmt.Errorf("%w: credential is required", domain.ErrInvalidInput)
	}

	user, err := c.gateway.GoogleLogin(ctx, credential)
	if err != nil {
		c.logger.Warn("google login failed", "error", err)
		return err
	}

	c.completeLogin(user)
	c.logger.Info("google login succeeded", "user_id", user.ID)
	c.drainQueue(ctx)
	return nil
}
