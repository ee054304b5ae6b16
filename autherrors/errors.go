// Package autherrors defines the error taxonomy surfaced by the authenticated
// client. Sentinel values work with errors.Is; the typed errors carry detail
// for errors.As.
package autherrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when sign-in is rejected by the backend.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionExpired is returned when the session could not be refreshed,
	// or there was never a session to refresh. Callers should re-authenticate.
	ErrSessionExpired = errors.New("session expired")

	// ErrTransport marks network or connectivity failures.
	ErrTransport = errors.New("transport error")

	// ErrUpstream marks a non-2xx backend response that was not recovered.
	ErrUpstream = errors.New("upstream error")

	// ErrNotAuthenticated is returned by operations that need a signed in session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// SessionExpiredError is returned when a refresh fails. Cause is the refresh
// failure itself, nil when no refresh was possible.
type SessionExpiredError struct {
	Cause error
}

func (e *SessionExpiredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session expired: %v", e.Cause)
	}
	return "session expired"
}

func (e *SessionExpiredError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, ErrSessionExpired).
func (e *SessionExpiredError) Is(target error) bool {
	return target == ErrSessionExpired
}

// TransportError wraps a failure of the underlying network call.
type TransportError struct {
	// Op names the exchange that failed, e.g. "sign-in", "refresh", "GET /api/me".
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport error [%s]: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("transport error [%s]", e.Op)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, ErrTransport).
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// UpstreamError is any other non-2xx response from the backend.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}

// Is supports errors.Is(err, ErrUpstream).
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// SessionExpired builds a *SessionExpiredError around cause. If cause already
// is one it is returned unchanged.
func SessionExpired(cause error) error {
	var expired *SessionExpiredError
	if errors.As(cause, &expired) {
		return cause
	}
	return &SessionExpiredError{Cause: cause}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
