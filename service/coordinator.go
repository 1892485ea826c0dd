package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/jitter"
	"github.com/Rican7/retry/strategy"
	"github.com/yessloyalty/authsession/core"
)

const retryJitter = 0.25

var errTicketDetached = errors.New("renewal no longer current")

// RequestRefresh renews the credential pair. Callers arriving while a renewal
// is in flight share its outcome; at most one renewal call is made at a time.
func (s *SessionService) RequestRefresh(ctx context.Context, reason core.RefreshReason) (string, error) {
	ch, err := s.acquire(reason, "")
	if err != nil {
		return "", err
	}
	return await(ctx, ch)
}

// RenewRejected renews after the server rejected token. When the session
// already holds a different token the current one is returned without a
// renewal call.
func (s *SessionService) RenewRejected(ctx context.Context, token string) (string, error) {
	ch, err := s.acquire(core.RefreshReactive, token)
	if err != nil {
		return "", err
	}
	return await(ctx, ch)
}

// Bearer returns a token to attach to an outgoing request, waiting for an
// in-flight renewal to finish first.
func (s *SessionService) Bearer(ctx context.Context) (string, error) {
	s.mu.Lock()
	switch s.status {
	case core.StatusAuthenticated, core.StatusChallengePending:
		token := s.pair.AccessToken
		s.mu.Unlock()
		return token, nil
	case core.StatusRefreshing:
		ch := s.pending.join()
		s.mu.Unlock()
		return await(ctx, ch)
	default:
		s.mu.Unlock()
		return "", core.ErrNotAuthenticated
	}
}

// acquire joins the in-flight renewal or starts one. The status check and
// the flip to Refreshing happen under one lock.
func (s *SessionService) acquire(reason core.RefreshReason, rejected string) (<-chan refreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case core.StatusRefreshing:
		return s.pending.join(), nil

	case core.StatusAuthenticated:
		if rejected != "" && s.pair.AccessToken != rejected {
			return resolvedResult(s.pair.AccessToken, nil), nil
		}

		t := newRefreshTicket(reason, s.clock.Now())
		refreshToken := s.pair.RefreshToken
		if err := s.transition(evRefreshStart, payload{ticket: t}); err != nil {
			return nil, err
		}
		ch := t.join()

		s.wg.Add(1)
		go s.runRefresh(t, refreshToken)
		return ch, nil

	case core.StatusChallengePending:
		return nil, core.ErrChallengePending

	default:
		return nil, core.ErrNotAuthenticated
	}
}

func await(ctx context.Context, ch <-chan refreshResult) (string, error) {
	select {
	case r := <-ch:
		return r.token, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("waiting for session renewal: %w", ctx.Err())
	}
}

func (s *SessionService) onRefreshTimer(epoch uint64, token string) {
	s.mu.Lock()
	live := s.epoch == epoch && s.status == core.StatusAuthenticated && s.pair.AccessToken == token
	s.mu.Unlock()
	if !live {
		return
	}

	if _, err := s.acquire(core.RefreshProactive, token); err != nil {
		s.log.Debug().Err(err).Msg("proactive renewal skipped")
	}
}

func (s *SessionService) runRefresh(t *refreshTicket, refreshToken string) {
	defer s.wg.Done()

	log := s.log.With().Str("ticket", t.id).Str("reason", string(t.reason)).Logger()
	log.Info().Msg("renewing session")

	pair, err := s.renew(t, refreshToken)
	switch {
	case errors.Is(err, errTicketDetached):
		log.Debug().Msg("renewal result discarded")
		return
	case err != nil:
		log.Warn().Err(err).Msg("renewal failed, revoking session")
		s.mu.Lock()
		current := s.transition(evRefreshFailure, payload{ticket: t}) == nil
		s.mu.Unlock()
		if !current {
			return
		}
		s.finishRevocation(s.ctx)
		t.resolve("", err)
		return
	}

	s.mu.Lock()
	if s.pending != t {
		s.mu.Unlock()
		log.Debug().Msg("renewal result discarded")
		return
	}
	err = s.transition(evRefreshSuccess, payload{ticket: t, pair: &pair})
	epoch := s.epoch
	s.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("renewed credentials unusable, revoking session")
		s.finishRevocation(s.ctx)
		t.resolve("", fmt.Errorf("session renewal: %w", err))
		return
	}

	if err := s.persist(s.ctx, epoch, pair); err != nil {
		s.failClosed(s.ctx, epoch, err)
		t.resolve("", fmt.Errorf("session renewal: %w", err))
		return
	}

	s.mu.Lock()
	current := s.epoch == epoch
	s.mu.Unlock()
	if !current {
		t.resolve("", fmt.Errorf("session renewal: %w", core.ErrCancelled))
		return
	}

	log.Info().Dur("took", s.clock.Now().Sub(t.startedAt)).Msg("session renewed")
	t.resolve(pair.AccessToken, nil)
}

// renew calls the remote refresh endpoint, retrying transient failures with
// backoff. Exhausted retries are reported as a rejection.
func (s *SessionService) renew(t *refreshTicket, refreshToken string) (core.CredentialPair, error) {
	var (
		pair     core.CredentialPair
		attempts int
		lastErr  error
	)

	action := func(uint) error {
		if !s.ticketActive(t) {
			lastErr = errTicketDetached
			return lastErr
		}
		attempts++

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.RequestTimeout)
		defer cancel()
		go func() {
			select {
			case <-t.done:
				cancel()
			case <-ctx.Done():
			}
		}()

		p, err := s.remote.Refresh(ctx, refreshToken)
		if err != nil {
			if !errors.Is(err, core.ErrCredentialRejected) && !errors.Is(err, core.ErrNetwork) {
				err = fmt.Errorf("%w: %w", core.ErrNetwork, err)
			}
			s.log.Debug().Err(err).Str("ticket", t.id).Int("attempt", attempts).Msg("renewal attempt failed")
			lastErr = err
			return err
		}
		pair, lastErr = p, nil
		return nil
	}

	gate := func(uint) bool {
		if attempts >= s.cfg.MaxAttempts {
			return false
		}
		if errors.Is(lastErr, core.ErrCredentialRejected) || errors.Is(lastErr, errTicketDetached) {
			return false
		}
		return s.ctx.Err() == nil && s.ticketActive(t)
	}

	rng := rand.New(rand.NewSource(s.clock.Now().UnixNano()))
	err := retry.Retry(action, gate,
		s.interruptibleBackoff(t, cappedBackoff(s.cfg.RetryDelay, s.cfg.MaxRetryDelay), jitter.Deviation(rng, retryJitter)),
	)

	switch {
	case err == nil && attempts > 0:
		return pair, nil
	case err == nil:
		// the gate refused an attempt after the ticket was detached or the session disposed
		return pair, errTicketDetached
	case errors.Is(err, errTicketDetached):
		return pair, err
	case errors.Is(err, core.ErrCredentialRejected):
		return pair, fmt.Errorf("session renewal rejected: %w", err)
	case !s.ticketActive(t):
		return pair, errTicketDetached
	default:
		return pair, fmt.Errorf("session renewal failed after %d attempts: %w: %w", attempts, core.ErrCredentialRejected, err)
	}
}

// interruptibleBackoff sleeps like strategy.BackoffWithJitter but gives up as
// soon as the ticket is resolved elsewhere or the session is disposed.
func (s *SessionService) interruptibleBackoff(t *refreshTicket, algorithm backoff.Algorithm, transformation jitter.Transformation) strategy.Strategy {
	return func(attempt uint) bool {
		if attempt == 0 {
			return true
		}
		timer := time.NewTimer(transformation(algorithm(attempt)))
		defer timer.Stop()

		select {
		case <-timer.C:
			return true
		case <-t.done:
			return false
		case <-s.ctx.Done():
			return false
		}
	}
}

func (s *SessionService) ticketActive(t *refreshTicket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending == t
}

// maxBackoffDoublings keeps the exponential from overflowing time.Duration
const maxBackoffDoublings = 30

func cappedBackoff(initial, limit time.Duration) backoff.Algorithm {
	exp := backoff.BinaryExponential(initial)
	return func(attempt uint) time.Duration {
		if attempt == 0 {
			return 0
		}
		if attempt > maxBackoffDoublings && limit > 0 {
			return limit
		}
		d := exp(attempt - 1)
		if limit > 0 && (d > limit || d <= 0) {
			return limit
		}
		return d
	}
}
