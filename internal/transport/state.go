package transport

import (
	"context"
	"net/http"

	"authrelay/internal/domain"
)

type stateKey struct{}

// withState returns a copy of req carrying the given recovery state.
func withState(req *http.Request, s domain.RequestState) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), stateKey{}, s))
}

// StateOf returns the recovery state carried by the request.
// Requests without a marker are Fresh.
func StateOf(req *http.Request) domain.RequestState {
	if s, ok := req.Context().Value(stateKey{}).(domain.RequestState); ok {
		return s
	}
	return domain.StateFresh
}
