// Package queue holds requests that failed authentication until the session
// is restored, then replays them in submission order.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"authrelay/internal/domain"

	"github.com/google/uuid"
)

// Outcome is delivered to a waiting caller when its queued request settles.
type Outcome struct {
	Resp *http.Response
	Err  error
}

// Pending is the caller-side handle for a queued request. It settles when
// the queue drains after session recovery, or rejects when the queue is
// cleared.
type Pending struct {
	ID   string
	done chan Outcome
}

// Wait blocks until the request settles or the caller's context is done.
func (p *Pending) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case out := <-p.done:
		return out.Resp, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReplayFunc reissues a captured request using the restored session.
type ReplayFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

type entry struct {
	id        string
	req       *http.Request
	callerCtx context.Context
	done      chan Outcome
	addedAt   time.Time
}

// RequestQueue is a FIFO queue of deferred requests awaiting session
// recovery. A zero ttl disables expiry of stale entries.
type RequestQueue struct {
	mu      sync.Mutex
	entries []*entry
	ttl     time.Duration
	logger  *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a request queue. When ttl is positive, entries that stay
// queued longer than ttl are rejected by a background janitor so an
// abandoned re-auth prompt cannot leak callers forever. Callers that set a
// ttl must Stop the queue when done with it.
func New(ttl time.Duration, logger *slog.Logger) *RequestQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &RequestQueue{ttl: ttl, logger: logger, stop: make(chan struct{})}
	if ttl > 0 {
		go q.janitorLoop()
	}
	return q
}

// Stop ends the janitor goroutine. Safe to call more than once, and a no-op
// for queues without a ttl. Queued entries are untouched.
func (q *RequestQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
}

// Enqueue parks a request and returns the handle its caller waits on.
// The request must carry a replayable body (GetBody set or no body).
func (q *RequestQueue) Enqueue(callerCtx context.Context, req *http.Request) *Pending {
	e := &entry{
		id:        uuid.NewString(),
		req:       req,
		callerCtx: callerCtx,
		done:      make(chan Outcome, 1),
		addedAt:   time.Now(),
	}

	q.mu.Lock()
	q.entries = append(q.entries, e)
	depth := len(q.entries)
	q.mu.Unlock()

	q.logger.Info("request queued awaiting session recovery",
		"request_id", e.id,
		"method", req.Method,
		"path", req.URL.Path,
		"queue_depth", depth)

	return &Pending{ID: e.id, done: e.done}
}

// HasQueued reports whether any request is waiting for replay.
func (q *RequestQueue) HasQueued() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) > 0
}

// Len returns the current queue depth.
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// DrainAndReplay reissues every queued request in FIFO order and settles the
// corresponding handles. Replays are sequential so same-resource ordering
// observed by the backend matches submission order. A replay that fails again
// is settled with that failure; it is never re-queued.
func (q *RequestQueue) DrainAndReplay(ctx context.Context, replay ReplayFunc) {
	q.mu.Lock()
	drained := q.entries
	q.entries = nil
	q.mu.Unlock()

	if len(drained) == 0 {
		return
	}

	q.logger.Info("draining request queue", "count", len(drained))

	for _, e := range drained {
		if err := e.callerCtx.Err(); err != nil {
			e.done <- Outcome{Err: err}
			continue
		}

		resp, err := replay(ctx, e.req)
		if err != nil {
			q.logger.Warn("queued request replay failed",
				"request_id", e.id,
				"path", e.req.URL.Path,
				"error", err)
		}
		if cerr := e.callerCtx.Err(); cerr != nil {
			// Caller gave up while we were replaying; don't leak the body.
			if resp != nil {
				resp.Body.Close()
			}
			e.done <- Outcome{Err: cerr}
			continue
		}
		e.done <- Outcome{Resp: resp, Err: err}
	}
}

// Clear rejects every pending handle and empties the queue. Used on logout
// or when the user declines re-authentication. A nil reason rejects with
// domain.ErrQueueAbandoned.
func (q *RequestQueue) Clear(reason error) {
	if reason == nil {
		reason = domain.ErrQueueAbandoned
	}

	q.mu.Lock()
	cleared := q.entries
	q.entries = nil
	q.mu.Unlock()

	if len(cleared) == 0 {
		return
	}

	q.logger.Info("clearing request queue", "count", len(cleared), "reason", reason)
	for _, e := range cleared {
		e.done <- Outcome{Err: reason}
	}
}

// expireStale rejects entries queued longer than ttl and returns how many
// were expired.
func (q *RequestQueue) expireStale(now time.Time) int {
	q.mu.Lock()
	var kept, stale []*entry
	for _, e := range q.entries {
		if now.Sub(e.addedAt) > q.ttl {
			stale = append(stale, e)
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	q.mu.Unlock()

	for _, e := range stale {
		q.logger.Warn("queued request expired", "request_id", e.id, "path", e.req.URL.Path)
		e.done <- Outcome{Err: fmt.Errorf("queued request expired after %s: %w", q.ttl, domain.ErrQueueAbandoned)}
	}
	return len(stale)
}

// janitorLoop runs periodic expiry of stale entries until Stop.
func (q *RequestQueue) janitorLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.expireStale(time.Now())
		case <-q.stop:
			return
		}
	}
}
