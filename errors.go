package authsession

import "github.com/yessloyalty/authsession/core"

var (
	// ErrNetwork is returned when the API could not be reached or answered 5xx
	ErrNetwork = core.ErrNetwork

	// ErrCredentialRejected is returned when the API refused the credentials or refresh token
	ErrCredentialRejected = core.ErrCredentialRejected

	// ErrDecode is returned when an access token cannot be decoded or has already expired
	ErrDecode = core.ErrDecode

	// ErrChallengeFailed is returned for a wrong or expired second-factor code
	ErrChallengeFailed = core.ErrChallengeFailed

	// ErrStorage is returned when the credential store failed
	ErrStorage = core.ErrStorage

	// ErrNotAuthenticated is returned when an operation needs a session and there is none
	ErrNotAuthenticated = core.ErrNotAuthenticated

	// ErrAuthFailed is returned when a request was still unauthorized after renewal
	ErrAuthFailed = core.ErrAuthFailed

	// ErrCancelled is returned to callers whose session was ended while they waited
	ErrCancelled = core.ErrCancelled

	// ErrNoActiveChallenge is returned when a code is submitted without an open challenge
	ErrNoActiveChallenge = core.ErrNoActiveChallenge

	// ErrChallengePending is returned when an operation is blocked by an open challenge
	ErrChallengePending = core.ErrChallengePending

	// ErrInvalidTransition is returned when an operation is not allowed in the current state
	ErrInvalidTransition = core.ErrInvalidTransition
)
