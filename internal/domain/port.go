package domain

import (
	"context"
	"net/http"
	"time"
)

// TokenStore holds the current bearer token in memory. Reads must never
// block request dispatch.
type TokenStore interface {
	Set(token string)
	Get() (string, bool)
	Clear()
	// ExpiresWithin reports whether the held token is known to expire
	// within the buffer. Opaque tokens report false.
	ExpiresWithin(buffer time.Duration) bool
}

// SessionStore persists session artifacts across process restarts.
// ClearSession is idempotent and never fails the caller on an empty store.
type SessionStore interface {
	PersistToken(token string) error
	LoadToken() (string, bool)
	SaveProfile(profile *UserProfile) error
	LoadProfile() (*UserProfile, bool)
	ClearSession() error
}

// TransportControl is the session controller's handle on the auth transport.
type TransportControl interface {
	// SetLogoutInProgress toggles the flag that short-circuits all recovery
	// paths while a logout runs.
	SetLogoutInProgress(inProgress bool)
	// ResolveReauth re-arms the re-auth signal after the queue has been
	// drained or cleared.
	ResolveReauth()
	// Replay reissues a captured request with the restored session.
	Replay(ctx context.Context, req *http.Request) (*http.Response, error)
}

// AuthGateway performs the auth backend calls on behalf of the session
// controller. Token capture is handled by the transport layer.
type AuthGateway interface {
	Login(ctx context.Context, email, password, challengeToken string) (*UserProfile, error)
	GoogleLogin(ctx context.Context, credential string) (*UserProfile, error)
	Register(ctx context.Context, input RegisterInput) error
	VerifyCode(ctx context.Context, email, code string) (*UserProfile, error)
	UpdateProfile(ctx context.Context, patch ProfilePatch) (*UserProfile, error)
	RequestPasswordReset(ctx context.Context, email string) error
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*UserProfile, error)
}
