package backend

import "errors"

// The relay's failure taxonomy. Callers classify with errors.Is; every
// error returned by this package wraps exactly one of these sentinels.
var (
	// ErrCredentialFailure means token acquisition failed. Terminal for the
	// turn, never retried.
	ErrCredentialFailure = errors.New("credential acquisition failed")

	// ErrSessionCreationFailed means the backend refused or failed to create
	// a session. Terminal for the turn.
	ErrSessionCreationFailed = errors.New("session creation failed")

	// ErrSessionExpired means the backend no longer recognizes the session
	// handle. Recoverable exactly once per turn via evict-and-recreate.
	ErrSessionExpired = errors.New("backend session expired")

	// ErrDispatchFailed covers any other message-send failure. Terminal for
	// the turn.
	ErrDispatchFailed = errors.New("message dispatch failed")

	// ErrMalformedResponse means a backend success response was missing the
	// expected content. Terminal.
	ErrMalformedResponse = errors.New("malformed backend response")
)
