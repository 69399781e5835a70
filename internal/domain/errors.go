package domain

import (
	"errors"
	"fmt"
)

// Recovery errors.
var (
	ErrLoopGuard            = errors.New("request already retried once")
	ErrQueueAbandoned       = errors.New("session abandoned")
	ErrLogoutInProgress     = errors.New("logout in progress")
	ErrRequestNotReplayable = errors.New("request body cannot be replayed")
)

// Session errors.
var (
	ErrNotLoggedIn   = errors.New("not logged in")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRefreshFailed = errors.New("token refresh failed")
)

// GenericErrorMessage is the user-facing fallback when the server sends
// no usable error payload.
const GenericErrorMessage = "something went wrong, please try again"

// APIError is a non-2xx response from the auth backend with its decoded
// error payload.
type APIError struct {
	StatusCode  int
	Message     string
	NeedRefresh bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

// UserMessage returns the server-provided message with a generic fallback.
func (e *APIError) UserMessage() string {
	if e.Message == "" {
		return GenericErrorMessage
	}
	return e.Message
}

// IsUnauthorized reports whether err is an APIError with status 401.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 401
}
