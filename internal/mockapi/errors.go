package mockapi

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalidated   = errors.New("token has been invalidated")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrNoChallenge        = errors.New("no challenge in progress")
	ErrInvalidCode        = errors.New("invalid code")
)
