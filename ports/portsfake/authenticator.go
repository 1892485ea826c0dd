package portsfake

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yessloyalty/authsession/adapters/tokenizer"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports"
)

// Issuer mints real signed token pairs for tests
type Issuer struct {
	tokenizer *tokenizer.JWTTokenizer
	Roles     []string
}

// NewIssuer creates an issuer with a fresh signing key
func NewIssuer() *Issuer {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		panic(err)
	}
	return &Issuer{tokenizer: tokenizer.NewJWTTokenizer(key), Roles: []string{"customer"}}
}

// Pair mints a credential pair for subject valid from issuedAt for ttl
func (i *Issuer) Pair(subject string, issuedAt time.Time, ttl time.Duration) core.CredentialPair {
	access, err := i.tokenizer.MintAccessToken(subject, i.Roles, issuedAt, issuedAt.Add(ttl))
	if err != nil {
		panic(err)
	}
	refresh, _, err := i.tokenizer.MintRefreshToken(subject, issuedAt, issuedAt.Add(24*time.Hour))
	if err != nil {
		panic(err)
	}
	return core.CredentialPair{
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(ttl),
	}
}

// Decoder returns a decoder able to read the issuer's tokens
func (i *Issuer) Decoder() ports.ClaimsDecoder {
	return tokenizer.NewJWTDecoder()
}

// Authenticator is a scriptable remote API. Unset funcs fail with core.ErrNetwork.
type Authenticator struct {
	mu sync.Mutex

	LoginFunc          func(ctx context.Context, creds core.Credentials) (core.CredentialPair, error)
	RefreshFunc        func(ctx context.Context, refreshToken string) (core.CredentialPair, error)
	BeginChallengeFunc func(ctx context.Context, accessToken string, method core.ChallengeMethod) (time.Time, error)
	VerifyCodeFunc     func(ctx context.Context, accessToken, code string) error

	loginCalls   atomic.Int32
	refreshCalls atomic.Int32
	verifyCalls  atomic.Int32
}

var _ ports.Authenticator = (*Authenticator)(nil)

func (a *Authenticator) Login(ctx context.Context, creds core.Credentials) (core.CredentialPair, error) {
	a.loginCalls.Add(1)
	a.mu.Lock()
	f := a.LoginFunc
	a.mu.Unlock()
	if f == nil {
		return core.CredentialPair{}, fmt.Errorf("login not scripted: %w", core.ErrNetwork)
	}
	return f(ctx, creds)
}

func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (core.CredentialPair, error) {
	a.refreshCalls.Add(1)
	a.mu.Lock()
	f := a.RefreshFunc
	a.mu.Unlock()
	if f == nil {
		return core.CredentialPair{}, fmt.Errorf("refresh not scripted: %w", core.ErrNetwork)
	}
	return f(ctx, refreshToken)
}

func (a *Authenticator) BeginChallenge(ctx context.Context, accessToken string, method core.ChallengeMethod) (time.Time, error) {
	a.mu.Lock()
	f := a.BeginChallengeFunc
	a.mu.Unlock()
	if f == nil {
		return time.Time{}, nil
	}
	return f(ctx, accessToken, method)
}

func (a *Authenticator) VerifyCode(ctx context.Context, accessToken, code string) error {
	a.verifyCalls.Add(1)
	a.mu.Lock()
	f := a.VerifyCodeFunc
	a.mu.Unlock()
	if f == nil {
		return fmt.Errorf("verify not scripted: %w", core.ErrNetwork)
	}
	return f(ctx, accessToken, code)
}

// SetRefresh replaces the refresh behaviour
func (a *Authenticator) SetRefresh(f func(ctx context.Context, refreshToken string) (core.CredentialPair, error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RefreshFunc = f
}

func (a *Authenticator) LoginCalls() int   { return int(a.loginCalls.Load()) }
func (a *Authenticator) RefreshCalls() int { return int(a.refreshCalls.Load()) }
func (a *Authenticator) VerifyCalls() int  { return int(a.verifyCalls.Load()) }
