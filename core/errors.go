package core

import "errors"

var (
	ErrNetwork            = errors.New("network error")
	ErrCredentialRejected = errors.New("credential rejected")
	ErrDecode             = errors.New("malformed token")
	ErrChallengeFailed    = errors.New("challenge failed")
	ErrStorage            = errors.New("storage error")

	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrAuthFailed        = errors.New("authorization failed after renewal")
	ErrCancelled         = errors.New("session cancelled")
	ErrNoActiveChallenge = errors.New("no active challenge")
	ErrChallengePending  = errors.New("second-factor challenge pending")
	ErrInvalidTransition = errors.New("invalid session transition")
)
