package mockapi

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yessloyalty/authsession/core"
)

// AuthHandlers contains HTTP handlers for the mock API
type AuthHandlers struct {
	authService *AuthService

	refreshCalls    atomic.Int32
	refreshFailures atomic.Int32
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

// FailRefreshes answers the next n refresh calls with 503
func (h *AuthHandlers) FailRefreshes(n int) {
	h.refreshFailures.Store(int32(n))
}

// RefreshCalls counts refresh requests received
func (h *AuthHandlers) RefreshCalls() int {
	return int(h.refreshCalls.Load())
}

type tokenClaims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	IssuedAt     time.Time   `json:"issued_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	ExpiresIn    int64       `json:"expires_in"`
	Claims       tokenClaims `json:"claims"`
}

func newTokenResponse(pair TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		IssuedAt:     pair.IssuedAt.UTC(),
		ExpiresAt:    pair.ExpiresAt.UTC(),
		ExpiresIn:    int64(pair.ExpiresAt.Sub(pair.IssuedAt) / time.Second),
		Claims:       tokenClaims{Subject: pair.Subject, Roles: pair.Roles},
	}
}

// Login handles the login request
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	pair, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Authentication failed"})
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(pair))
}

// Refresh handles token refresh
func (h *AuthHandlers) Refresh(c *gin.Context) {
	h.refreshCalls.Add(1)
	if h.refreshFailures.Add(-1) >= 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Temporarily unavailable"})
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Failed to refresh tokens"

		switch {
		case errors.Is(err, ErrInvalidToken):
			statusCode = http.StatusUnauthorized
			errorMsg = "Invalid refresh token"
		case errors.Is(err, ErrTokenInvalidated):
			statusCode = http.StatusUnauthorized
			errorMsg = "Refresh token has been invalidated"
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(pair))
}

// Challenge starts a second-factor challenge for the authenticated user
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Method core.ChallengeMethod `json:"method" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	expiresAt, err := h.authService.BeginChallenge(c.Request.Context(), c.GetString(subjectKey), req.Method)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported method"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"method":     req.Method,
		"expires_at": expiresAt.UTC(),
	})
}

// Verify checks a second-factor code
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.authService.VerifyCode(c.Request.Context(), c.GetString(subjectKey), req.Code)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true})
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrNoChallenge):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid code"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify code"})
	}
}

// Me returns information about the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sub":   c.GetString(subjectKey),
		"roles": c.GetStringSlice(rolesKey),
	})
}

// Wallet returns the loyalty balance of the authenticated user
func (h *AuthHandlers) Wallet(c *gin.Context) {
	balance, ok := h.authService.Balance(c.GetString(subjectKey))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Wallet not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance":  balance.StringFixed(2),
		"currency": "YESS",
	})
}
