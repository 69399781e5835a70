package domain

// RequestState tracks where a request sits in the authentication recovery
// lifecycle. Transitions only move forward: a fresh request becomes handled
// when its 401 is classified, then either queued or retried. A queued or
// retried request that fails authentication again is rejected instead of
// re-entering recovery.
type RequestState int

const (
	// StateFresh marks a request that has not hit an auth failure yet.
	StateFresh RequestState = iota
	// StateHandled marks a request whose 401 is being classified.
	StateHandled
	// StateQueued marks a request parked in the replay queue.
	StateQueued
	// StateRetried marks the single replay after a successful refresh or drain.
	StateRetried
)

func (s RequestState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateHandled:
		return "handled"
	case StateQueued:
		return "queued"
	case StateRetried:
		return "retried"
	default:
		return "unknown"
	}
}

// Terminal reports whether a request in this state is past the point where
// auth recovery may run again.
func (s RequestState) Terminal() bool {
	return s == StateQueued || s == StateRetried
}
