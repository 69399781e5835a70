// Package transport implements the session-aware HTTP client: bearer token
// attachment and capture, 401 classification, single-flight silent refresh,
// and routing of unrecoverable requests into the replay queue.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"authrelay/internal/domain"
	"authrelay/internal/infrastructure/queue"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// maxErrorBodyBytes caps how much of a 401 error payload is read during
// classification.
const maxErrorBodyBytes = 64 << 10

// authEndpoints are never routed through recovery; a 401 from any of them
// surfaces verbatim so the refresh path cannot loop on itself.
var authEndpoints = map[string]struct{}{
	"/api/auth/login":         {},
	"/api/auth/google":        {},
	"/api/auth/refresh-token": {},
	"/api/auth/logout":        {},
	"/api/auth/me":            {},
}

// IsAuthEndpoint reports whether the path belongs to the auth API itself.
func IsAuthEndpoint(path string) bool {
	_, ok := authEndpoints[path]
	return ok
}

// AuthInterceptor is the response-pipeline hook. It implements
// http.RoundTripper and owns the single in-flight refresh attempt.
type AuthInterceptor struct {
	next      http.RoundTripper
	refresher *http.Client // shares the cookie jar, bypasses interception
	baseURL   string
	tokens    domain.TokenStore
	sessions  domain.SessionStore
	queue     *queue.RequestQueue
	logger    *slog.Logger

	// group guarantees at most one refresh call in flight; concurrent
	// callers await the shared outcome.
	group          singleflight.Group
	limiter        *rate.Limiter
	refreshTimeout time.Duration
	expiryBuffer   time.Duration

	// replay reissues a queued request through the full client chain.
	// Wired by NewClient; used to drain the queue after a successful
	// silent refresh restores the session.
	replay queue.ReplayFunc

	logoutInProgress atomic.Bool
	awaitingReauth   atomic.Bool
	onReauthRequired func()
}

// RoundTrip implements http.RoundTripper.
func (i *AuthInterceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	state := StateOf(req)

	// Capture the body once up front so the request stays replayable.
	// Requests built with http.NewRequest already carry GetBody.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		if err := bufferBody(req); err != nil {
			return nil, err
		}
	}

	i.maybeProactiveRefresh(req, state)

	attempt := req
	if token, ok := i.tokens.Get(); ok {
		attempt = req.Clone(req.Context())
		attempt.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := i.next.RoundTrip(attempt)
	if err != nil {
		// No response at all: a plain network failure, not an auth concern.
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		i.captureToken(resp)
		return resp, nil
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	return i.recover(req, resp, state)
}

// recover classifies a 401 and either refreshes-and-replays, queues the
// request, or surfaces the failure.
func (i *AuthInterceptor) recover(req *http.Request, resp *http.Response, state domain.RequestState) (*http.Response, error) {
	if IsAuthEndpoint(req.URL.Path) {
		return resp, nil
	}

	if i.logoutInProgress.Load() {
		resp.Body.Close()
		return nil, domain.ErrLogoutInProgress
	}

	if state.Terminal() {
		resp.Body.Close()
		return nil, domain.ErrLoopGuard
	}

	// The request is now handled: pick the recovery path from the error body.
	needRefresh := decodeNeedRefresh(resp)
	resp.Body.Close()

	if needRefresh {
		err := i.refresh(req.Context())
		if err == nil {
			retry, rerr := cloneForReplay(req, domain.StateRetried)
			if rerr != nil {
				return nil, rerr
			}
			return i.RoundTrip(retry)
		}
		i.logger.Warn("silent refresh failed, queueing request",
			"method", req.Method,
			"path", req.URL.Path,
			"error", err)
	}

	return i.enqueue(req)
}

// enqueue parks the request until the session is restored and blocks the
// caller on the pending handle.
func (i *AuthInterceptor) enqueue(req *http.Request) (*http.Response, error) {
	captured, err := cloneForReplay(req, domain.StateQueued)
	if err != nil {
		return nil, err
	}

	pending := i.queue.Enqueue(req.Context(), captured)
	i.signalReauth()
	return pending.Wait(req.Context())
}

// refresh joins or triggers the single-flight refresh attempt. The refresh
// call is detached from the first caller's cancellation so concurrent
// waiters all observe a consistent outcome.
func (i *AuthInterceptor) refresh(ctx context.Context) error {
	_, err, shared := i.group.Do("refresh", func() (interface{}, error) {
		// The limiter sits inside the single-flight section: concurrent
		// failures join one attempt, and only sustained refresh cycles
		// get throttled.
		if !i.limiter.Allow() {
			return nil, fmt.Errorf("%w: refresh throttled", domain.ErrRefreshFailed)
		}
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.refreshTimeout)
		defer cancel()
		return nil, i.doRefresh(refreshCtx)
	})
	if shared {
		i.logger.Debug("joined in-flight token refresh")
	}
	if err == nil {
		i.drainQueued(ctx)
	}
	return err
}

// drainQueued replays requests parked during the outage a successful silent
// refresh just ended. A session restored by refresh must release queued
// callers the same way a re-login does.
func (i *AuthInterceptor) drainQueued(ctx context.Context) {
	if i.replay == nil || !i.queue.HasQueued() {
		return
	}
	// Detached from the triggering caller so its cancellation cannot
	// strand everyone else's replays.
	i.queue.DrainAndReplay(context.WithoutCancel(ctx), i.replay)
	i.awaitingReauth.Store(false)
}

// doRefresh calls the refresh endpoint directly through the inner transport.
// The shared cookie jar carries the refresh credential.
func (i *AuthInterceptor) doRefresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/api/auth/refresh-token", nil)
	if err != nil {
		return fmt.Errorf("building refresh request: %w", err)
	}
	if token, ok := i.tokens.Get(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := i.refresher.Do(req)
	if err != nil {
		return fmt.Errorf("refresh call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: refresh endpoint returned status %d", domain.ErrRefreshFailed, resp.StatusCode)
	}

	i.captureToken(resp)
	if _, ok := i.tokens.Get(); !ok {
		return fmt.Errorf("%w: refresh response carried no credential", domain.ErrRefreshFailed)
	}

	i.logger.Info("silent token refresh succeeded")
	return nil
}

// maybeProactiveRefresh refreshes before dispatch when the stored token is
// about to expire. Failures fall through to the normal 401 path.
func (i *AuthInterceptor) maybeProactiveRefresh(req *http.Request, state domain.RequestState) {
	if i.expiryBuffer <= 0 || state != domain.StateFresh {
		return
	}
	if IsAuthEndpoint(req.URL.Path) || i.logoutInProgress.Load() {
		return
	}
	if !i.tokens.ExpiresWithin(i.expiryBuffer) {
		return
	}
	if err := i.refresh(req.Context()); err != nil {
		i.logger.Debug("proactive refresh failed, continuing with current token", "error", err)
	}
}

// captureToken stores a credential carried in the response headers. On every
// success this keeps sliding-expiration tokens current without an explicit
// refresh round-trip.
func (i *AuthInterceptor) captureToken(resp *http.Response) {
	raw := resp.Header.Get("Authorization")
	if raw == "" {
		raw = resp.Header.Get("X-Auth-Token")
	}
	token := strings.TrimPrefix(raw, "Bearer ")
	if token == "" {
		return
	}

	i.tokens.Set(token)
	if err := i.sessions.PersistToken(token); err != nil {
		i.logger.Warn("failed to persist refreshed token", "error", err)
	}
}

// signalReauth fires the re-auth-needed signal once per outage. The flag is
// re-armed when the controller drains or clears the queue.
func (i *AuthInterceptor) signalReauth() {
	if i.awaitingReauth.CompareAndSwap(false, true) && i.onReauthRequired != nil {
		// Fired on a separate goroutine so UI work never blocks the
		// request path.
		go i.onReauthRequired()
	}
}

// decodeNeedRefresh reads the classified 401 body looking for the explicit
// needs-refresh indicator.
func decodeNeedRefresh(resp *http.Response) bool {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return false
	}

	var payload struct {
		NeedRefresh bool `json:"needRefresh"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return false
	}
	return payload.NeedRefresh
}

// cloneForReplay copies the request with a fresh body and the given state.
func cloneForReplay(req *http.Request, state domain.RequestState) (*http.Request, error) {
	clone := req.Clone(req.Context())
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
	return withState(clone, state), nil
}

// bufferBody reads the request body into memory so it can be reissued.
func bufferBody(req *http.Request) error {
	data, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return fmt.Errorf("buffering request body: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.ContentLength = int64(len(data))
	return nil
}
