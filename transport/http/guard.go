package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/yessloyalty/authsession/core"
)

// RequestIDHeader correlates a request and its replay in logs
const RequestIDHeader = "X-Request-ID"

const maxDrainBytes = 64 << 10

// Session is the part of the session service the guard depends on
type Session interface {
	Bearer(ctx context.Context) (string, error)
	RenewRejected(ctx context.Context, token string) (string, error)
}

// Guard is an http.RoundTripper that authorizes requests with the session's
// bearer token. A 401 triggers one renewal and one replay of the request.
type Guard struct {
	session Session
	base    http.RoundTripper
	log     zerolog.Logger
}

// NewGuard wraps base, defaulting to http.DefaultTransport
func NewGuard(session Session, base http.RoundTripper, log zerolog.Logger) *Guard {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Guard{
		session: session,
		base:    base,
		log:     log.With().Str("component", "guard").Logger(),
	}
}

// NewClient returns an http.Client whose requests go through a Guard
func NewClient(session Session, base http.RoundTripper, timeout time.Duration, log zerolog.Logger) *http.Client {
	return &http.Client{
		Transport: NewGuard(session, base, log),
		Timeout:   timeout,
	}
}

func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	token, err := g.session.Bearer(ctx)
	if err != nil {
		closeRequestBody(req)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}

	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := g.log.With().Str("request_id", requestID).Str("method", req.Method).Str("url", req.URL.Redacted()).Logger()

	resp, err := g.base.RoundTrip(authorize(req, req.Body, token, requestID))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if !rewindable(req) {
		log.Warn().Msg("request body cannot be replayed, returning 401")
		return resp, nil
	}
	drain(resp)

	log.Debug().Msg("bearer rejected, renewing session")
	fresh, err := g.session.RenewRejected(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s %s: renewal after 401: %w", req.Method, req.URL.Redacted(), err)
	}

	body := req.Body
	if req.GetBody != nil {
		if body, err = req.GetBody(); err != nil {
			return nil, fmt.Errorf("%s %s: failed to rewind body: %w", req.Method, req.URL.Redacted(), err)
		}
	}

	resp, err = g.base.RoundTrip(authorize(req, body, fresh, requestID))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		log.Warn().Msg("bearer rejected after renewal")
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), core.ErrAuthFailed)
	}

	log.Debug().Int("status", resp.StatusCode).Msg("request replayed")
	return resp, nil
}

// authorize clones req with body and the bearer token. The caller's request is never modified.
func authorize(req *http.Request, body io.ReadCloser, token, requestID string) *http.Request {
	out := req.Clone(req.Context())
	out.Body = body
	out.Header.Set("Authorization", "Bearer "+token)
	out.Header.Set(RequestIDHeader, requestID)
	return out
}

func rewindable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(resp *http.Response) {
	_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)
	_ = resp.Body.Close()
}

func closeRequestBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
