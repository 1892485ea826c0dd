package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports"
)

const (
	loginPath          = "/auth/login"
	refreshPath        = "/auth/refresh"
	challengePath      = "/auth/two-factor/challenge"
	verifyPath         = "/auth/two-factor/verify"
	maxErrorBodyLength = 512
)

// StatusError is returned for non-2xx responses from the authentication API
type StatusError struct {
	Path       string
	StatusCode int
	Message    string
	kind       error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Path, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

// TokenResponse is the body returned by login and refresh
type TokenResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	IssuedAt     *time.Time     `json:"issued_at,omitempty"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Claims       map[string]any `json:"claims,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type challengeRequest struct {
	Method core.ChallengeMethod `json:"method"`
}

// ChallengeResponse is the body returned when a second-factor code is sent
type ChallengeResponse struct {
	Method    core.ChallengeMethod `json:"method"`
	ExpiresAt time.Time            `json:"expires_at"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

type verifyResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client implements the Authenticator interface over the loyalty REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates an authentication API client.
// httpClient must not be a guarded client: these calls carry their own credentials.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		now:        time.Now,
	}
}

var _ ports.Authenticator = (*Client)(nil)

// Login exchanges user credentials for a credential pair
func (c *Client) Login(ctx context.Context, creds core.Credentials) (core.CredentialPair, error) {
	var resp TokenResponse
	if err := c.post(ctx, loginPath, "", loginRequest{Username: creds.Username, Password: creds.Password}, &resp); err != nil {
		return core.CredentialPair{}, err
	}
	return c.toPair(loginPath, resp)
}

// Refresh exchanges a refresh token for a new credential pair
func (c *Client) Refresh(ctx context.Context, refreshToken string) (core.CredentialPair, error) {
	var resp TokenResponse
	if err := c.post(ctx, refreshPath, "", refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return core.CredentialPair{}, err
	}
	return c.toPair(refreshPath, resp)
}

// BeginChallenge asks the server to deliver a second-factor code
func (c *Client) BeginChallenge(ctx context.Context, accessToken string, method core.ChallengeMethod) (time.Time, error) {
	var resp ChallengeResponse
	if err := c.post(ctx, challengePath, accessToken, challengeRequest{Method: method}, &resp); err != nil {
		return time.Time{}, err
	}
	return resp.ExpiresAt, nil
}

// VerifyCode submits a second-factor code
func (c *Client) VerifyCode(ctx context.Context, accessToken, code string) error {
	var resp verifyResponse
	err := c.post(ctx, verifyPath, accessToken, verifyRequest{Code: code}, &resp)
	if errors.Is(err, core.ErrCredentialRejected) {
		return fmt.Errorf("%w: %w", core.ErrChallengeFailed, err)
	}
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("code not accepted: %w", core.ErrChallengeFailed)
	}
	return nil
}

func (c *Client) toPair(path string, resp TokenResponse) (core.CredentialPair, error) {
	if resp.AccessToken == "" || resp.RefreshToken == "" || resp.ExpiresAt.IsZero() {
		return core.CredentialPair{}, fmt.Errorf("%s: incomplete token response: %w", path, core.ErrNetwork)
	}

	issuedAt := c.now()
	if resp.IssuedAt != nil {
		issuedAt = *resp.IssuedAt
	}

	return core.CredentialPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IssuedAt:     issuedAt,
		ExpiresAt:    resp.ExpiresAt,
	}, nil
}

func (c *Client) post(ctx context.Context, path, bearer string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", path, core.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(path, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w: %v", path, core.ErrNetwork, err)
	}
	return nil
}

func newStatusError(path string, resp *http.Response) *StatusError {
	statusErr := &StatusError{Path: path, StatusCode: resp.StatusCode, kind: classify(resp.StatusCode)}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLength))
	var body errorResponse
	if json.Unmarshal(raw, &body) == nil {
		statusErr.Message = body.Error
	}
	return statusErr
}

// classify maps an HTTP status onto the error taxonomy
func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return core.ErrCredentialRejected
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return core.ErrCredentialRejected
	default:
		return core.ErrNetwork
	}
}
