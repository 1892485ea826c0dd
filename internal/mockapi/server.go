package mockapi

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/yessloyalty/authsession/ports"
)

// Server bundles the mock API's service, handlers and router
type Server struct {
	Auth     *AuthService
	Handlers *AuthHandlers
	Router   *gin.Engine
}

// NewServer creates a mock API signing tokens with a fresh ES256 key
func NewServer(store ports.KVStore, opts Options, log zerolog.Logger, accounts ...Account) (*Server, error) {
	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	auth := NewAuthService(signKey, store, opts, accounts...)
	handlers := NewAuthHandlers(auth)
	return &Server{
		Auth:     auth,
		Handlers: handlers,
		Router:   SetupRouter(auth, handlers, log),
	}, nil
}

// DemoAccounts are the accounts the development server starts with
func DemoAccounts() []Account {
	return []Account{
		{
			Username: "demo",
			Password: "demo",
			Roles:    []string{"customer"},
			Balance:  decimal.RequireFromString("1250.50"),
		},
		{
			Username: "partner",
			Password: "partner",
			Roles:    []string{"customer", "partner"},
			Balance:  decimal.RequireFromString("98000.00"),
		},
	}
}
