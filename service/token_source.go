package service

import (
	"context"

	"golang.org/x/oauth2"
)

type tokenSource struct {
	ctx     context.Context
	session *SessionService
}

// TokenSource exposes the session to oauth2-aware clients. Tokens come from
// Bearer, so a caller blocks while a renewal is in flight.
func (s *SessionService) TokenSource(ctx context.Context) oauth2.TokenSource {
	return tokenSource{ctx: ctx, session: s}
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	token, err := ts.session.Bearer(ts.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      ts.session.Snapshot().ExpiresAt,
	}, nil
}
