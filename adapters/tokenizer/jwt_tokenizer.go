package tokenizer

import (
	"crypto/ecdsa"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/yessloyalty/authsession/core"
)

const AudienceAccess = "session:access"
const AudienceRefresh = "session:refresh"

// JWTTokenizer decodes access token claims and, when it holds a private key, mints tokens.
//
// The client never owns the server's signing key, so by default claims are read
// without signature verification. Expiry is not validated here either: the
// session decides what an expired token means.
type JWTTokenizer struct {
	signKey   *ecdsa.PrivateKey
	verifyKey *ecdsa.PublicKey
	parser    *jwt.Parser
}

// NewJWTDecoder creates a tokenizer that only decodes claims
func NewJWTDecoder() *JWTTokenizer {
	return &JWTTokenizer{parser: jwt.NewParser(jwt.WithoutClaimsValidation())}
}

// NewVerifyingDecoder creates a tokenizer that also checks the ES256 signature
func NewVerifyingDecoder(verifyKey *ecdsa.PublicKey) *JWTTokenizer {
	return &JWTTokenizer{
		verifyKey: verifyKey,
		parser: jwt.NewParser(
			jwt.WithoutClaimsValidation(),
			jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		),
	}
}

// NewJWTTokenizer creates a tokenizer able to mint and verify tokens
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) *JWTTokenizer {
	t := NewVerifyingDecoder(&signKey.PublicKey)
	t.signKey = signKey
	return t
}

// Decode parses an access token into claims
func (j *JWTTokenizer) Decode(accessToken string) (*core.Claims, error) {
	claims := &AccessClaims{}

	if j.verifyKey != nil {
		_, err := j.parser.ParseWithClaims(accessToken, claims, func(token *jwt.Token) (interface{}, error) {
			return j.verifyKey, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to parse token: %w: %v", core.ErrDecode, err)
		}
	} else if _, _, err := j.parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w: %v", core.ErrDecode, err)
	}

	if len(claims.Audience) > 0 && !slices.Contains(claims.Audience, AudienceAccess) {
		return nil, fmt.Errorf("unexpected audience %v: %w", claims.Audience, core.ErrDecode)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("missing subject: %w", core.ErrDecode)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("missing expiry: %w", core.ErrDecode)
	}

	return &core.Claims{
		SubjectID: claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
		Roles:     slices.Clone(claims.Roles),
	}, nil
}

// MintAccessToken signs an access token for subject
func (j *JWTTokenizer) MintAccessToken(subject string, roles []string, issuedAt, expiresAt time.Time) (string, error) {
	if j.signKey == nil {
		return "", fmt.Errorf("tokenizer has no signing key")
	}

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		Roles: roles,
	}

	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signedToken, nil
}

// MintRefreshToken signs a refresh token for subject and returns it with its id
func (j *JWTTokenizer) MintRefreshToken(subject string, issuedAt, expiresAt time.Time) (token string, id string, err error) {
	if j.signKey == nil {
		return "", "", fmt.Errorf("tokenizer has no signing key")
	}

	id = uuid.NewString()
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        id,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Audience:  jwt.ClaimStrings{AudienceRefresh},
		},
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(j.signKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return token, id, nil
}

// ParseRefreshToken verifies a refresh token and returns its claims
func (j *JWTTokenizer) ParseRefreshToken(tokenStr string) (*RefreshClaims, error) {
	if j.verifyKey == nil {
		return nil, fmt.Errorf("tokenizer has no verification key")
	}

	token, err := jwt.ParseWithClaims(tokenStr, &RefreshClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.verifyKey, nil
	}, jwt.WithAudience(AudienceRefresh))
	if err != nil {
		return nil, fmt.Errorf("failed to parse refresh token: %w", err)
	}

	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid refresh token")
	}
	return claims, nil
}
