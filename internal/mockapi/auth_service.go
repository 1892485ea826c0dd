// Package mockapi is a reference implementation of the loyalty authentication
// API used by integration tests and local development.
package mockapi

import (
	"context"
	"crypto/ecdsa"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yessloyalty/authsession/adapters/tokenizer"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports"
)

const (
	revokedPrefix   = "revoked:"
	challengePrefix = "challenge:"
)

// Account is a user known to the mock API
type Account struct {
	Username string
	Password string
	Roles    []string
	Balance  decimal.Decimal
}

// TokenPair is what login and refresh hand out
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Subject      string
	Roles        []string
}

// Options tune token lifetimes and the accepted second-factor code
type Options struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	ChallengeTTL  time.Duration
	ChallengeCode string
	Now           func() time.Time
}

// DefaultOptions mirror a production API with short-lived access tokens
func DefaultOptions() Options {
	return Options{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    5 * 24 * time.Hour,
		ChallengeTTL:  5 * time.Minute,
		ChallengeCode: "123456",
		Now:           time.Now,
	}
}

// AuthService issues, rotates and validates tokens
type AuthService struct {
	tokenizer *tokenizer.JWTTokenizer
	store     ports.KVStore
	opts      Options

	mu       sync.Mutex
	accounts map[string]Account
}

// NewAuthService creates the service. store records rotated refresh tokens and open challenges.
func NewAuthService(signKey *ecdsa.PrivateKey, store ports.KVStore, opts Options, accounts ...Account) *AuthService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &AuthService{
		tokenizer: tokenizer.NewJWTTokenizer(signKey),
		store:     store,
		opts:      opts,
		accounts:  make(map[string]Account),
	}
	for _, a := range accounts {
		s.accounts[a.Username] = a
	}
	return s
}

// Login checks the password and issues a new token pair
func (s *AuthService) Login(ctx context.Context, username, password string) (TokenPair, error) {
	s.mu.Lock()
	account, ok := s.accounts[username]
	s.mu.Unlock()

	if !ok || subtle.ConstantTimeCompare([]byte(account.Password), []byte(password)) != 1 {
		return TokenPair{}, ErrInvalidCredentials
	}
	return s.issue(account)
}

// Refresh rotates the refresh token and issues a new pair. A rotated token cannot be reused.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.tokenizer.ParseRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	_, invalidated, err := s.store.Get(ctx, revokedPrefix+claims.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if invalidated {
		return TokenPair{}, ErrTokenInvalidated
	}
	if err := s.store.Set(ctx, revokedPrefix+claims.ID, claims.Subject); err != nil {
		return TokenPair{}, fmt.Errorf("failed to invalidate old token: %w", err)
	}

	s.mu.Lock()
	account, ok := s.accounts[claims.Subject]
	s.mu.Unlock()
	if !ok {
		return TokenPair{}, ErrInvalidToken
	}
	return s.issue(account)
}

// ValidateAccessToken verifies signature and expiry of an access token
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Claims, error) {
	claims, err := s.tokenizer.Decode(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !claims.ExpiresAt.After(s.opts.Now()) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// BeginChallenge opens a second-factor challenge for subject
func (s *AuthService) BeginChallenge(ctx context.Context, subject string, method core.ChallengeMethod) (time.Time, error) {
	switch method {
	case core.MethodEmail, core.MethodSMS, core.MethodAuthenticator:
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, method)
	}

	expiresAt := s.opts.Now().Add(s.opts.ChallengeTTL).Truncate(time.Second)
	if err := s.store.Set(ctx, challengePrefix+subject, strconv.FormatInt(expiresAt.Unix(), 10)); err != nil {
		return time.Time{}, fmt.Errorf("failed to store challenge: %w", err)
	}
	return expiresAt, nil
}

// VerifyCode checks a second-factor code; the challenge closes on success
func (s *AuthService) VerifyCode(ctx context.Context, subject, code string) error {
	raw, found, err := s.store.Get(ctx, challengePrefix+subject)
	if err != nil {
		return fmt.Errorf("failed to load challenge: %w", err)
	}
	if !found {
		return ErrNoChallenge
	}
	expiresUnix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || !time.Unix(expiresUnix, 0).After(s.opts.Now()) {
		return ErrInvalidCode
	}
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(s.opts.ChallengeCode)) != 1 {
		return ErrInvalidCode
	}
	return s.store.Remove(ctx, challengePrefix+subject)
}

// Balance returns the wallet balance of subject
func (s *AuthService) Balance(subject string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[subject]
	return account.Balance, ok
}

func (s *AuthService) issue(account Account) (TokenPair, error) {
	now := s.opts.Now().Truncate(time.Second)
	accessExpiry := now.Add(s.opts.AccessTTL)

	accessToken, err := s.tokenizer.MintAccessToken(account.Username, account.Roles, now, accessExpiry)
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to create access token: %w", err)
	}
	refreshToken, _, err := s.tokenizer.MintRefreshToken(account.Username, now, now.Add(s.opts.RefreshTTL))
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IssuedAt:     now,
		ExpiresAt:    accessExpiry,
		Subject:      account.Username,
		Roles:        account.Roles,
	}, nil
}
