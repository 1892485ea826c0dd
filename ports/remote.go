package ports

import (
	"context"
	"time"

	"github.com/yessloyalty/authsession/core"
)

// Authenticator is the remote authentication API.
// Implementations classify failures as core.ErrCredentialRejected or core.ErrNetwork.
type Authenticator interface {
	Login(ctx context.Context, creds core.Credentials) (core.CredentialPair, error)
	Refresh(ctx context.Context, refreshToken string) (core.CredentialPair, error)

	// BeginChallenge asks the server to send a second-factor code
	BeginChallenge(ctx context.Context, accessToken string, method core.ChallengeMethod) (expiresAt time.Time, err error)

	// VerifyCode returns core.ErrChallengeFailed for a wrong code
	VerifyCode(ctx context.Context, accessToken, code string) error
}
