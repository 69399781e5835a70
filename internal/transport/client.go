package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"authrelay/internal/domain"
	"authrelay/internal/infrastructure/queue"

	"golang.org/x/time/rate"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the auth backend origin, without a trailing slash.
	BaseURL string
	// Tokens, Sessions and Queue are the process-wide session resources.
	Tokens   domain.TokenStore
	Sessions domain.SessionStore
	Queue    *queue.RequestQueue
	// Transport is the inner RoundTripper. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	// Jar carries the refresh cookie. A fresh in-memory jar is created when nil.
	Jar http.CookieJar
	// RefreshRate and RefreshBurst throttle refresh issuance. Defaults allow
	// a burst of 2 and one refresh per 5 seconds after that.
	RefreshRate  rate.Limit
	RefreshBurst int
	// RefreshTimeout bounds a single refresh call. Defaults to 10s.
	RefreshTimeout time.Duration
	// TokenExpiryBuffer enables proactive refresh when the stored token
	// expires within the buffer. Zero disables it.
	TokenExpiryBuffer time.Duration
	// OnReauthRequired is fired once per outage when silent recovery is not
	// possible and user re-authentication is needed.
	OnReauthRequired func()
	Logger           *slog.Logger
}

// Client is a session-authenticated HTTP client. It owns its interceptor
// chain; nothing is registered globally.
type Client struct {
	httpClient  *http.Client
	interceptor *AuthInterceptor
}

var _ domain.TransportControl = (*Client)(nil)

// NewClient constructs the client and its interceptor chain.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if opts.Tokens == nil || opts.Sessions == nil || opts.Queue == nil {
		return nil, fmt.Errorf("token store, session store and queue are required")
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RefreshRate == 0 {
		opts.RefreshRate = rate.Every(5 * time.Second)
	}
	if opts.RefreshBurst == 0 {
		opts.RefreshBurst = 2
	}
	if opts.RefreshTimeout == 0 {
		opts.RefreshTimeout = 10 * time.Second
	}

	jar := opts.Jar
	if jar == nil {
		var err error
		jar, err = cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
	}

	interceptor := &AuthInterceptor{
		next:             opts.Transport,
		refresher:        &http.Client{Transport: opts.Transport, Jar: jar},
		baseURL:          opts.BaseURL,
		tokens:           opts.Tokens,
		sessions:         opts.Sessions,
		queue:            opts.Queue,
		logger:           opts.Logger,
		limiter:          rate.NewLimiter(opts.RefreshRate, opts.RefreshBurst),
		refreshTimeout:   opts.RefreshTimeout,
		expiryBuffer:     opts.TokenExpiryBuffer,
		onReauthRequired: opts.OnReauthRequired,
	}

	client := &Client{
		httpClient:  &http.Client{Transport: interceptor, Jar: jar},
		interceptor: interceptor,
	}
	interceptor.replay = client.Replay
	return client, nil
}

// Do sends the request through the interceptor chain.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

// Replay reissues a captured request with the restored session. The replay
// carries the Retried marker: another auth failure surfaces as a terminal
// loop-guard error instead of re-entering recovery.
func (c *Client) Replay(ctx context.Context, req *http.Request) (*http.Response, error) {
	clone := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, domain.ErrRequestNotReplayable
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRequestNotReplayable, err)
		}
		clone.Body = body
	}
	return c.httpClient.Do(withState(clone, domain.StateRetried))
}

// SetLogoutInProgress toggles the flag that makes the interceptor skip all
// recovery paths while a logout runs.
func (c *Client) SetLogoutInProgress(inProgress bool) {
	c.interceptor.logoutInProgress.Store(inProgress)
}

// ResolveReauth re-arms the re-auth signal after a drain or clear.
func (c *Client) ResolveReauth() {
	c.interceptor.awaitingReauth.Store(false)
}
