// Package gateway is the typed REST client for the auth backend.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"authrelay/internal/domain"
)

const maxBodyBytes = 1 << 20

// HTTPDoer issues HTTP requests. Satisfied by the session-aware transport
// client and by *http.Client in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AuthGateway handles communication with the auth API.
// Implements domain.AuthGateway. Token capture happens in the transport;
// the gateway only deals in payloads.
type AuthGateway struct {
	baseURL string
	client  HTTPDoer
	logger  *slog.Logger
}

var _ domain.AuthGateway = (*AuthGateway)(nil)

// New creates an auth gateway against the given origin.
func New(baseURL string, client HTTPDoer, logger *slog.Logger) *AuthGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthGateway{baseURL: baseURL, client: client, logger: logger}
}

type userEnvelope struct {
	User *domain.UserProfile `json:"user"`
}

// Login exchanges credentials for a session.
func (g *AuthGateway) Login(ctx context.Context, email, password, challengeToken string) (*domain.UserProfile, error) {
	payload := map[string]string{"email": email, "password": password}
	if challengeToken != "" {
		payload["challengeToken"] = challengeToken
	}

	var out userEnvelope
	if err := g.call(ctx, http.MethodPost, "/api/auth/login", payload, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, fmt.Errorf("login response missing user")
	}
	return out.User, nil
}

// GoogleLogin exchanges an external-provider credential for a session.
func (g *AuthGateway) GoogleLogin(ctx context.Context, credential string) (*domain.UserProfile, error) {
	var out userEnvelope
	if err := g.call(ctx, http.MethodPost, "/api/auth/google", map[string]string{"credential": credential}, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, fmt.Errorf("google login response missing user")
	}
	return out.User, nil
}

// Register creates an account pending email verification.
func (g *AuthGateway) Register(ctx context.Context, input domain.RegisterInput) error {
	payload := map[string]string{
		"email":     input.Email,
		"password":  input.Password,
		"firstName": input.FirstName,
		"lastName":  input.LastName,
	}
	if input.ChallengeToken != "" {
		payload["challengeToken"] = input.ChallengeToken
	}
	return g.call(ctx, http.MethodPost, "/api/auth/register", payload, nil)
}

// VerifyCode completes registration with the emailed code.
func (g *AuthGateway) VerifyCode(ctx context.Context, email, code string) (*domain.UserProfile, error) {
	var out userEnvelope
	payload := map[string]string{"email": email, "code": code}
	if err := g.call(ctx, http.MethodPost, "/api/auth/verify-code", payload, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, fmt.Errorf("verify response missing user")
	}
	return out.User, nil
}

// UpdateProfile applies a partial profile update.
func (g *AuthGateway) UpdateProfile(ctx context.Context, patch domain.ProfilePatch) (*domain.UserProfile, error) {
	var out userEnvelope
	if err := g.call(ctx, http.MethodPut, "/api/auth/update", patch, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, fmt.Errorf("update response missing user")
	}
	return out.User, nil
}

// RequestPasswordReset asks the backend to start a password reset flow.
func (g *AuthGateway) RequestPasswordReset(ctx context.Context, email string) error {
	return g.call(ctx, http.MethodPost, "/api/auth/reset-request", map[string]string{"email": email}, nil)
}

// Logout tears down the server-side session.
func (g *AuthGateway) Logout(ctx context.Context) error {
	return g.call(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

// Me probes the current session and returns the authenticated profile.
func (g *AuthGateway) Me(ctx context.Context) (*domain.UserProfile, error) {
	var out userEnvelope
	if err := g.call(ctx, http.MethodGet, "/api/auth/me", nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, fmt.Errorf("me response missing user")
	}
	return out.User, nil
}

// call issues one JSON request and decodes either the success payload or the
// server's error envelope.
func (g *AuthGateway) call(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Loop-guard, queue-abandoned and network errors propagate as-is.
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeAPIError maps a non-2xx response onto domain.APIError, keeping the
// server's localized message when one is present.
func decodeAPIError(resp *http.Response) error {
	apiErr := &domain.APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return apiErr
	}

	var payload struct {
		Message     string `json:"message"`
		Error       string `json:"error"`
		NeedRefresh bool   `json:"needRefresh"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
		apiErr.NeedRefresh = payload.NeedRefresh
	}
	return apiErr
}
