package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"authrelay/internal/domain"
	"authrelay/internal/infrastructure/queue"
	sessionstore "authrelay/internal/infrastructure/session"
	tokenstore "authrelay/internal/infrastructure/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeBackend is a scriptable origin for interceptor tests. A protected
// resource lives at /api/data; only validToken passes.
type fakeBackend struct {
	mu          sync.Mutex
	validToken  string // issued by refresh, accepted by resources
	needRefresh bool
	refreshOK   bool
	hits        []string

	// When set, resources demand this token instead of validToken. Lets a
	// test make refresh hand out credentials that still fail.
	handleDataToken string

	refreshCalls      atomic.Int64
	unauthorizedCalls atomic.Int64
	refreshGate       chan struct{} // refresh blocks until closed when set

	srv *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{validToken: "good", refreshOK: true}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.hits = append(b.hits, r.Method+" "+r.URL.Path)
	validToken, needRefresh, refreshOK := b.validToken, b.needRefresh, b.refreshOK
	b.mu.Unlock()

	switch r.URL.Path {
	case "/api/auth/refresh-token":
		b.refreshCalls.Add(1)
		if gate := b.refreshGate; gate != nil {
			<-gate
		}
		if !refreshOK {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"message": "refresh rejected"})
			return
		}
		w.Header().Set("Authorization", "Bearer "+validToken)
		w.WriteHeader(http.StatusOK)

	case "/api/auth/me":
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"message": "not logged in"})

	default:
		accepted := validToken
		if b.handleDataToken != "" {
			accepted = b.handleDataToken
		}
		if r.Header.Get("Authorization") == "Bearer "+accepted {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]bool{"ok": true})
			return
		}
		b.unauthorizedCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]bool{"needRefresh": needRefresh})
	}
}

type testStack struct {
	client   *Client
	tokens   *tokenstore.MemoryStore
	sessions *sessionstore.MemoryStore
	queue    *queue.RequestQueue
	reauths  chan struct{}
}

func newTestStack(t *testing.T, backend *fakeBackend) *testStack {
	t.Helper()

	s := &testStack{
		tokens:   tokenstore.NewMemoryStore(),
		sessions: sessionstore.NewMemoryStore(),
		queue:    queue.New(0, nil),
		reauths:  make(chan struct{}, 16),
	}

	client, err := NewClient(Options{
		BaseURL:          backend.srv.URL,
		Tokens:           s.tokens,
		Sessions:         s.sessions,
		Queue:            s.queue,
		RefreshRate:      rate.Inf,
		RefreshBurst:     1,
		OnReauthRequired: func() { s.reauths <- struct{}{} },
	})
	require.NoError(t, err)
	s.client = client
	return s
}

func (s *testStack) get(t *testing.T, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return s.client.Do(req)
}

func (s *testStack) waitReauth(t *testing.T) {
	t.Helper()
	select {
	case <-s.reauths:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for re-auth signal")
	}
}

func TestRoundTrip_AttachesAndCapturesToken(t *testing.T) {
	backend := newFakeBackend(t)
	stack := newTestStack(t, backend)
	stack.tokens.Set("good")

	resp, err := stack.get(t, backend.srv.URL+"/api/data")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), backend.refreshCalls.Load())
}

func TestRoundTrip_CapturesRefreshedTokenOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Authorization", "Bearer sliding-token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stack := newTestStack(t, &fakeBackend{srv: srv})

	resp, err := stack.get(t, srv.URL+"/api/data")
	require.NoError(t, err)
	resp.Body.Close()

	token, ok := stack.tokens.Get()
	assert.True(t, ok)
	assert.Equal(t, "sliding-token", token)

	persisted, ok := stack.sessions.LoadToken()
	assert.True(t, ok)
	assert.Equal(t, "sliding-token", persisted)
}

func TestRoundTrip_SilentRefreshAndReplay(t *testing.T) {
	backend := newFakeBackend(t)
	backend.needRefresh = true
	stack := newTestStack(t, backend)
	stack.tokens.Set("stale")

	resp, err := stack.get(t, backend.srv.URL+"/api/data")
	require.NoError(t, err)
	defer resp.Body.Close()

	// The caller sees the replayed success, never the 401.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), backend.refreshCalls.Load())

	token, _ := stack.tokens.Get()
	assert.Equal(t, "good", token)
}

func TestRoundTrip_SingleFlightRefresh(t *testing.T) {
	const concurrent = 5

	backend := newFakeBackend(t)
	backend.needRefresh = true
	backend.refreshGate = make(chan struct{})
	stack := newTestStack(t, backend)
	stack.tokens.Set("stale")

	var wg sync.WaitGroup
	errs := make([]error, concurrent)
	codes := make([]int, concurrent)
	for n := 0; n < concurrent; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := stack.get(t, backend.srv.URL+fmt.Sprintf("/api/data?n=%d", n))
			if err != nil {
				errs[n] = err
				return
			}
			defer resp.Body.Close()
			codes[n] = resp.StatusCode
		}(n)
	}

	// Hold the refresh open until every request has failed auth once, so
	// all of them race into the refresh path together.
	require.Eventually(t, func() bool {
		return backend.unauthorizedCalls.Load() >= concurrent
	}, 2*time.Second, 5*time.Millisecond)
	close(backend.refreshGate)
	wg.Wait()

	for n := 0; n < concurrent; n++ {
		require.NoError(t, errs[n])
		assert.Equal(t, http.StatusOK, codes[n])
	}
	assert.Equal(t, int64(1), backend.refreshCalls.Load(), "exactly one refresh on the wire")
}

func TestRoundTrip_LoopGuardStopsSecondRecovery(t *testing.T) {
	backend := newFakeBackend(t)
	backend.needRefresh = true
	stack := newTestStack(t, backend)
	stack.tokens.Set("stale")

	// Refresh "succeeds" but hands back a credential the resource still
	// rejects, so the replay fails auth again. The resource only accepts
	// a token the refresh endpoint never issues.
	backend.handleDataToken = "never-issued"

	_, err := stack.get(t, backend.srv.URL+"/api/data")
	assert.ErrorIs(t, err, domain.ErrLoopGuard)
	assert.Equal(t, int64(1), backend.refreshCalls.Load())
	assert.False(t, stack.queue.HasQueued(), "loop-guarded request must not be queued")
}

func TestRoundTrip_AuthEndpointExcludedFromRecovery(t *testing.T) {
	backend := newFakeBackend(t)
	backend.needRefresh = true
	stack := newTestStack(t, backend)
	stack.tokens.Set("stale")

	resp, err := stack.get(t, backend.srv.URL+"/api/auth/me")
	require.NoError(t, err)
	defer resp.Body.Close()

	// Surfaced verbatim: no refresh, no queueing.
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int64(0), backend.refreshCalls.Load())
	assert.False(t, stack.queue.HasQueued())
}

func TestRoundTrip_EnqueuesWhenRefreshFails(t *testing.T) {
	backend := newFakeBackend(t)
	backend.needRefresh = true
	backend.mu.Lock()
	backend.refreshOK = false
	backend.mu.Unlock()
	stack := newTestStack(t, backend)
	stack.tokens.Set("stale")

	results := make(chan error, 1)
	go func() {
		resp, err := stack.get(t, backend.srv.URL+"/api/data")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				err = fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
		}
		results <- err
	}()

	stack.waitReauth(t)
	require.Eventually(t, stack.queue.HasQueued, 2*time.Second, 5*time.Millisecond)

	// Session restored out of band; drain resolves the parked caller.
	stack.tokens.Set("good")
	stack.queue.DrainAndReplay(context.Background(), stack.client.Replay)

	select {
	case err := <-results:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queued caller never resolved")
	}
}

func TestRoundTrip_SilentRefreshDrainsQueuedRequests(t *testing.T) {
	backend := newFakeBackend(t)
	backend.needRefresh = true
	backend.mu.Lock()
	backend.refreshOK = false
	backend.mu.Unlock()
	stack := newTestStack(t, backend)
	stack.tokens.Set("stale")

	// First request hits the outage, fails its refresh and parks.
	parked := make(chan error, 1)
	go func() {
		resp, err := stack.get(t, backend.srv.URL+"/api/a")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				err = fmt.Errorf("status %d", resp.StatusCode)
			}
		}
		parked <- err
	}()

	stack.waitReauth(t)
	require.Eventually(t, stack.queue.HasQueued, 2*time.Second, 5*time.Millisecond)

	// The outage ends. A later request's silent refresh restores the
	// session; the parked caller must be released by that refresh alone,
	// with no login involved.
	backend.mu.Lock()
	backend.refreshOK = true
	backend.mu.Unlock()

	resp, err := stack.get(t, backend.srv.URL+"/api/b")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case err := <-parked:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("queued caller not released by the successful refresh")
	}
	assert.False(t, stack.queue.HasQueued(), "queue drained by the refresh")
	assert.Equal(t, int64(2), backend.refreshCalls.Load(), "one failed and one successful refresh")
}

func TestRoundTrip_DirectEnqueueWithoutRefreshIndicator(t *testing.T) {
	backend := newFakeBackend(t)
	backend.needRefresh = false
	stack := newTestStack(t, backend)
	stack.tokens.Set("stale")

	done := make(chan error, 1)
	go func() {
		_, err := stack.get(t, backend.srv.URL+"/api/data")
		done <- err
	}()

	stack.waitReauth(t)
	require.Eventually(t, stack.queue.HasQueued, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), backend.refreshCalls.Load(), "no refresh without the indicator")

	stack.queue.Clear(nil)
	err := <-done
	assert.ErrorIs(t, err, domain.ErrQueueAbandoned)
}

func TestRoundTrip_LogoutInProgressSkipsRecovery(t *testing.T) {
	backend := newFakeBackend(t)
	backend.needRefresh = true
	stack := newTestStack(t, backend)
	stack.tokens.Set("stale")

	stack.client.SetLogoutInProgress(true)
	_, err := stack.get(t, backend.srv.URL+"/api/data")
	assert.ErrorIs(t, err, domain.ErrLogoutInProgress)
	assert.Equal(t, int64(0), backend.refreshCalls.Load())
	assert.False(t, stack.queue.HasQueued())
}

func TestRoundTrip_ReauthSignalFiresOncePerOutage(t *testing.T) {
	backend := newFakeBackend(t)
	backend.needRefresh = false
	stack := newTestStack(t, backend)
	stack.tokens.Set("stale")

	for n := 0; n < 2; n++ {
		go func() {
			resp, err := stack.get(t, backend.srv.URL+"/api/data")
			if err == nil {
				resp.Body.Close()
			}
		}()
	}

	stack.waitReauth(t)
	require.Eventually(t, func() bool { return stack.queue.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	select {
	case <-stack.reauths:
		t.Fatal("second enqueue in the same outage must not signal again")
	case <-time.After(100 * time.Millisecond):
	}

	// After the outage resolves the signal is re-armed.
	stack.queue.Clear(nil)
	stack.client.ResolveReauth()

	go func() {
		_, _ = stack.get(t, backend.srv.URL+"/api/data")
	}()
	stack.waitReauth(t)
	stack.queue.Clear(nil)
}

func TestRoundTrip_ReplayableBodyIsReissued(t *testing.T) {
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/refresh-token" {
			w.Header().Set("Authorization", "Bearer good")
			w.WriteHeader(http.StatusOK)
			return
		}
		data := make([]byte, r.ContentLength)
		r.Body.Read(data)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]bool{"needRefresh": true})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	stack := newTestStack(t, &fakeBackend{srv: srv})
	stack.tokens.Set("stale")

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/save", strings.NewReader(`{"v":1}`))
	require.NoError(t, err)
	resp, err := stack.client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"v":1}`, `{"v":1}`}, bodies, "replay must carry the same body")
}

func TestIsAuthEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api/auth/login", true},
		{"/api/auth/google", true},
		{"/api/auth/refresh-token", true},
		{"/api/auth/logout", true},
		{"/api/auth/me", true},
		{"/api/auth/register", false},
		{"/api/auth/verify-code", false},
		{"/api/items", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthEndpoint(tt.path))
		})
	}
}
