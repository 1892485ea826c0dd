package core

import (
	"slices"
	"time"
)

// Status is the lifecycle state of the client session
type Status int

const (
	StatusAnonymous Status = iota
	StatusAuthenticated
	StatusRefreshing
	StatusChallengePending
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticated:
		return "authenticated"
	case StatusRefreshing:
		return "refreshing"
	case StatusChallengePending:
		return "challenge_pending"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// RefreshReason tells the coordinator what triggered a renewal
type RefreshReason string

const (
	RefreshProactive RefreshReason = "proactive"
	RefreshReactive  RefreshReason = "reactive"
)

// ChallengeMethod is the delivery channel of a second-factor code
type ChallengeMethod string

const (
	MethodEmail         ChallengeMethod = "email"
	MethodSMS           ChallengeMethod = "sms"
	MethodAuthenticator ChallengeMethod = "authenticator"
)

// Credentials are the user-supplied login credentials
type Credentials struct {
	Username string
	Password string
}

// CredentialPair is the access/refresh token pair issued by the API.
// A pair is never modified after creation; renewal replaces it.
type CredentialPair struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Claims is the decoded, read-only view of an access token
type Claims struct {
	SubjectID string
	ExpiresAt time.Time
	Roles     []string
}

// HasRole reports whether the claims carry the given role
func (c Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// Challenge is an open step-up verification
type Challenge struct {
	Method            ChallengeMethod
	AttemptsRemaining int
	ExpiresAt         time.Time
}

// Snapshot is an immutable copy of the session handed to collaborators
type Snapshot struct {
	Status        Status
	Authenticated bool
	SubjectID     string
	Roles         []string
	ExpiresAt     time.Time
	Challenge     *Challenge
}

// HasRole reports whether the snapshot's subject carries the given role
func (s Snapshot) HasRole(role string) bool {
	return slices.Contains(s.Roles, role)
}

// SessionEnded is emitted when the present session is no longer valid
type SessionEnded struct {
	EndedAt time.Time `json:"ended_at"`
}
