package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/yessloyalty/authsession/core"
)

// BeginChallenge opens a second-factor challenge after the server demanded
// elevation. The server sends a code over method; the session stays
// ChallengePending until SubmitCode succeeds, attempts run out or the
// challenge expires.
func (s *SessionService) BeginChallenge(ctx context.Context, method core.ChallengeMethod) (core.Challenge, error) {
	s.mu.Lock()
	switch s.status {
	case core.StatusAuthenticated:
	case core.StatusChallengePending:
		s.mu.Unlock()
		return core.Challenge{}, core.ErrChallengePending
	case core.StatusAnonymous, core.StatusRevoked:
		s.mu.Unlock()
		return core.Challenge{}, core.ErrNotAuthenticated
	default:
		err := s.invalid(evChallengeBegin)
		s.mu.Unlock()
		return core.Challenge{}, err
	}
	token, epoch := s.pair.AccessToken, s.epoch
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	expiresAt, err := s.remote.BeginChallenge(callCtx, token, method)
	cancel()
	if err != nil {
		return core.Challenge{}, fmt.Errorf("begin challenge: %w", err)
	}
	if expiresAt.IsZero() {
		expiresAt = s.clock.Now().Add(s.cfg.ChallengeTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return core.Challenge{}, fmt.Errorf("begin challenge: %w", core.ErrCancelled)
	}
	c := &challengeState{
		method:    method,
		attempts:  s.cfg.ChallengeAttempts,
		expiresAt: expiresAt,
	}
	if err := s.transition(evChallengeBegin, payload{challenge: c}); err != nil {
		return core.Challenge{}, err
	}

	s.log.Info().Str("method", string(method)).Time("expires_at", expiresAt).Msg("second-factor challenge started")
	return *s.snapshot().Challenge, nil
}

// SubmitCode verifies a second-factor code. Wrong codes consume an attempt;
// the last wrong code revokes the session. Transient failures consume nothing.
func (s *SessionService) SubmitCode(ctx context.Context, code string) error {
	s.mu.Lock()
	c := s.challenge
	if s.status != core.StatusChallengePending || c == nil {
		s.mu.Unlock()
		return core.ErrNoActiveChallenge
	}
	if c.submitting {
		s.mu.Unlock()
		return fmt.Errorf("code submission in progress: %w", core.ErrChallengePending)
	}
	if !c.expiresAt.After(s.clock.Now()) {
		_ = s.transition(evChallengeExpired, payload{challenge: c})
		s.mu.Unlock()
		s.finishRevocation(ctx)
		return fmt.Errorf("challenge expired: %w", core.ErrChallengeFailed)
	}
	c.submitting = true
	token := s.pair.AccessToken
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	verifyErr := s.remote.VerifyCode(callCtx, token, code)
	cancel()

	s.mu.Lock()
	c.submitting = false
	if s.challenge != c {
		s.mu.Unlock()
		return fmt.Errorf("challenge no longer active: %w", core.ErrChallengeFailed)
	}

	switch {
	case verifyErr == nil:
		err := s.transition(evChallengePassed, payload{challenge: c})
		s.mu.Unlock()
		if err != nil {
			s.finishRevocation(ctx)
			return fmt.Errorf("submit code: %w", err)
		}
		s.log.Info().Msg("second-factor challenge passed")
		return nil

	case errors.Is(verifyErr, core.ErrChallengeFailed):
		_ = s.transition(evCodeRejected, payload{challenge: c})
		remaining := c.attempts
		s.mu.Unlock()
		if remaining <= 0 {
			s.log.Warn().Msg("second-factor attempts exhausted")
			s.finishRevocation(ctx)
			return fmt.Errorf("%w: no attempts remaining", core.ErrChallengeFailed)
		}
		return fmt.Errorf("%w: %d attempts remaining", core.ErrChallengeFailed, remaining)

	default:
		s.mu.Unlock()
		return fmt.Errorf("submit code: %w", verifyErr)
	}
}

func (s *SessionService) onChallengeExpired(c *challengeState) {
	s.mu.Lock()
	if s.challenge != c {
		s.mu.Unlock()
		return
	}
	_ = s.transition(evChallengeExpired, payload{challenge: c})
	s.mu.Unlock()

	s.log.Warn().Msg("second-factor challenge expired")
	s.finishRevocation(s.ctx)
}
