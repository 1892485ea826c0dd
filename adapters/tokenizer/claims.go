package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with the loyalty API's role list
type AccessClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// RefreshClaims are just the standard claims for refresh tokens
type RefreshClaims struct {
	jwt.RegisteredClaims
}
