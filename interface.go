package authsession

import (
	"context"

	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/internal/config"
	"github.com/yessloyalty/authsession/ports"
	"github.com/yessloyalty/authsession/service"
	"golang.org/x/oauth2"
)

type (
	Config        = config.Config
	Credentials   = core.Credentials
	Snapshot      = core.Snapshot
	Status        = core.Status
	Challenge     = core.Challenge
	SessionEnded  = core.SessionEnded
	RefreshReason = core.RefreshReason

	// Store is the host's key-value store backing the credential vault
	Store = ports.KVStore
)

// LoadConfig reads the client configuration from the environment and optional .env files
func LoadConfig(envFiles ...string) (Config, error) {
	return config.Load(envFiles...)
}

// Session represents the public interface of the client session
type Session interface {
	// Login exchanges credentials for a session. Allowed from Anonymous and Revoked.
	Login(ctx context.Context, creds Credentials) (Snapshot, error)

	// Logout discards the session and clears stored credentials
	Logout(ctx context.Context) error

	// Acknowledge moves a revoked session back to Anonymous
	Acknowledge() error

	// Snapshot returns a copy of the current session state
	Snapshot() Snapshot

	// AccessToken returns the current token without waiting for a renewal
	AccessToken() (string, bool)

	// Bearer returns a token usable now, waiting for an in-flight renewal
	Bearer(ctx context.Context) (string, error)

	// RequestRefresh renews the credentials, joining a renewal already in flight
	RequestRefresh(ctx context.Context, reason RefreshReason) (string, error)

	// RenewRejected renews after the API refused token
	RenewRejected(ctx context.Context, token string) (string, error)

	// BeginChallenge opens a second-factor challenge
	BeginChallenge(ctx context.Context, method core.ChallengeMethod) (Challenge, error)

	// SubmitCode answers the open challenge
	SubmitCode(ctx context.Context, code string) error

	// TokenSource adapts the session to oauth2 clients
	TokenSource(ctx context.Context) oauth2.TokenSource
}

var _ Session = (*service.SessionService)(nil)
