package usecase

import (
	"context"
	"fmt"

	"authrelay/internal/domain"
)

// Register creates an account. It does not log the user in; the session
// moves to needs-verification until the emailed code is confirmed.
func (c *SessionController) Register(ctx context.Context, input domain.RegisterInput) error {
	if input.Email == "" || input.Password == "" {
		return fmt.Errorf("%w: email and password are required", domain.ErrInvalidInput)
	}

	if err := c.gateway.Register(ctx, input); err != nil {
		c.logger.Warn("registration failed", "error", err)
		return err
	}

	c.mu.Lock()
	c.session.NeedsVerification = true
	c.session.Email = input.Email
	c.mu.Unlock()

	c.logger.Info("registration accepted, verification pending")
	return nil
}

// VerifyCode completes registration and logs the user in.
func (c *SessionController) VerifyCode(ctx context.Context, email, code string) error {
	if email == "" || code == "" {
		return fmt.Errorf("%w: email and code are required", domain.ErrInvalidInput)
	}

	user, err := c.gateway.VerifyCode(ctx, email, code)
	if err != nil {
		c.logger.Warn("code verification failed", "error", err)
		return err
	}

	c.completeLogin(user)
	c.logger.Info("verification succeeded", "user_id", user.ID)
	c.drainQueue(ctx)
	return nil
}
