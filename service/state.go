package service

import (
	"fmt"
	"time"

	"github.com/yessloyalty/authsession/core"
)

type event int

const (
	evLogin event = iota
	evRestore
	evRefreshStart
	evRefreshSuccess
	evRefreshFailure
	evChallengeBegin
	evChallengePassed
	evCodeRejected
	evChallengeExpired
	evVaultFailure
	evAcknowledge
	evLogout
	evDispose
)

func (e event) String() string {
	switch e {
	case evLogin:
		return "login"
	case evRestore:
		return "restore"
	case evRefreshStart:
		return "refresh_start"
	case evRefreshSuccess:
		return "refresh_success"
	case evRefreshFailure:
		return "refresh_failure"
	case evChallengeBegin:
		return "challenge_begin"
	case evChallengePassed:
		return "challenge_passed"
	case evCodeRejected:
		return "code_rejected"
	case evChallengeExpired:
		return "challenge_expired"
	case evVaultFailure:
		return "vault_failure"
	case evAcknowledge:
		return "acknowledge"
	case evLogout:
		return "logout"
	case evDispose:
		return "dispose"
	default:
		return "unknown"
	}
}

type payload struct {
	pair      *core.CredentialPair
	ticket    *refreshTicket
	challenge *challengeState
}

// challengeState is the open second-factor challenge. Fields are guarded by the session mutex.
type challengeState struct {
	method     core.ChallengeMethod
	attempts   int
	expiresAt  time.Time
	submitting bool
}

// transition is the only mutator of the session state. Callers hold s.mu.
// An illegal event returns core.ErrInvalidTransition and changes nothing.
func (s *SessionService) transition(ev event, p payload) error {
	from := s.status

	switch ev {
	case evLogin, evRestore:
		if from != core.StatusAnonymous {
			return s.invalid(ev)
		}
		claims, err := s.deriveClaims(p.pair)
		if err != nil {
			return err
		}
		s.epoch++
		s.enterAuthenticated(p.pair, claims)

	case evRefreshStart:
		if from != core.StatusAuthenticated || p.ticket == nil {
			return s.invalid(ev)
		}
		s.stopRefreshTimer()
		s.pending = p.ticket
		s.status = core.StatusRefreshing

	case evRefreshSuccess:
		if from != core.StatusRefreshing || s.pending != p.ticket {
			return s.invalid(ev)
		}
		s.pending = nil
		claims, err := s.deriveClaims(p.pair)
		if err != nil {
			s.revoke()
			return err
		}
		s.enterAuthenticated(p.pair, claims)

	case evRefreshFailure:
		if from != core.StatusRefreshing || s.pending != p.ticket {
			return s.invalid(ev)
		}
		s.pending = nil
		s.revoke()

	case evChallengeBegin:
		if from != core.StatusAuthenticated || p.challenge == nil {
			return s.invalid(ev)
		}
		s.stopRefreshTimer()
		s.challenge = p.challenge
		s.status = core.StatusChallengePending
		c := p.challenge
		s.challengeTimer = s.clock.AfterFunc(nonNegative(c.expiresAt.Sub(s.clock.Now())), func() {
			s.onChallengeExpired(c)
		})

	case evChallengePassed:
		if from != core.StatusChallengePending || s.challenge != p.challenge {
			return s.invalid(ev)
		}
		s.dropChallenge()
		if !s.claims.ExpiresAt.After(s.clock.Now()) {
			s.revoke()
			return fmt.Errorf("access credential expired during challenge: %w", core.ErrCredentialRejected)
		}
		s.enterAuthenticated(s.pair, s.claims)

	case evCodeRejected:
		if from != core.StatusChallengePending || s.challenge != p.challenge {
			return s.invalid(ev)
		}
		s.challenge.attempts--
		if s.challenge.attempts <= 0 {
			s.dropChallenge()
			s.revoke()
		}

	case evChallengeExpired:
		if from != core.StatusChallengePending || s.challenge != p.challenge {
			return s.invalid(ev)
		}
		s.dropChallenge()
		s.revoke()

	case evVaultFailure:
		if s.pair == nil || from == core.StatusRevoked {
			return s.invalid(ev)
		}
		s.dropChallenge()
		s.pending = nil
		s.revoke()

	case evAcknowledge:
		if from != core.StatusRevoked {
			return s.invalid(ev)
		}
		s.status = core.StatusAnonymous

	case evLogout, evDispose:
		s.stopRefreshTimer()
		s.dropChallenge()
		s.pending = nil
		s.pair = nil
		s.claims = nil
		s.ended = false
		s.epoch++
		s.status = core.StatusAnonymous

	default:
		return s.invalid(ev)
	}

	s.log.Debug().
		Str("event", ev.String()).
		Str("from", from.String()).
		Str("status", s.status.String()).
		Msg("session transition")
	return nil
}

func (s *SessionService) invalid(ev event) error {
	return fmt.Errorf("%w: %s while %s", core.ErrInvalidTransition, ev, s.status)
}

// deriveClaims decodes the access token of pair and rejects credentials that are already expired
func (s *SessionService) deriveClaims(pair *core.CredentialPair) (*core.Claims, error) {
	if pair == nil {
		return nil, fmt.Errorf("no credential pair: %w", core.ErrDecode)
	}
	claims, err := s.decoder.Decode(pair.AccessToken)
	if err != nil {
		return nil, err
	}
	if !claims.ExpiresAt.After(s.clock.Now()) {
		return nil, fmt.Errorf("access credential already expired at %s: %w", claims.ExpiresAt.Format(time.RFC3339), core.ErrDecode)
	}
	return claims, nil
}

func (s *SessionService) enterAuthenticated(pair *core.CredentialPair, claims *core.Claims) {
	s.pair = pair
	s.claims = claims
	s.status = core.StatusAuthenticated
	s.armRefreshTimer()
}

// revoke destroys the credentials and records that the vault must be cleared
// and the session-ended signal emitted once the lock is released.
func (s *SessionService) revoke() {
	s.stopRefreshTimer()
	s.pair = nil
	s.claims = nil
	s.epoch++
	s.ended = true
	s.endedEpoch = s.epoch
	s.status = core.StatusRevoked
}

func (s *SessionService) armRefreshTimer() {
	s.stopRefreshTimer()

	expiry := s.claims.ExpiresAt
	if !s.pair.ExpiresAt.IsZero() && s.pair.ExpiresAt.Before(expiry) {
		expiry = s.pair.ExpiresAt
	}
	remaining := expiry.Sub(s.clock.Now())
	delay := remaining - s.cfg.SafetyMargin
	if delay < remaining/2 {
		// lifetime too short for the margin: renew halfway instead of immediately
		delay = remaining / 2
		s.log.Warn().Dur("lifetime", remaining).Dur("safety_margin", s.cfg.SafetyMargin).
			Msg("access credential lifetime shorter than twice the safety margin")
	}
	if delay < minRefreshDelay {
		delay = minRefreshDelay
	}

	epoch, token := s.epoch, s.pair.AccessToken
	s.refreshTimer = s.clock.AfterFunc(delay, func() {
		s.onRefreshTimer(epoch, token)
	})
	s.log.Debug().Dur("delay", delay).Msg("proactive renewal scheduled")
}

func (s *SessionService) stopRefreshTimer() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
}

func (s *SessionService) dropChallenge() {
	if s.challengeTimer != nil {
		s.challengeTimer.Stop()
		s.challengeTimer = nil
	}
	s.challenge = nil
}

// snapshot returns a value copy of the session. Callers hold s.mu.
func (s *SessionService) snapshot() core.Snapshot {
	snap := core.Snapshot{Status: s.status}

	switch s.status {
	case core.StatusAuthenticated, core.StatusRefreshing, core.StatusChallengePending:
		snap.Authenticated = true
	}
	if s.claims != nil {
		snap.SubjectID = s.claims.SubjectID
		snap.Roles = append([]string(nil), s.claims.Roles...)
		snap.ExpiresAt = s.claims.ExpiresAt
	}
	if s.challenge != nil {
		snap.Challenge = &core.Challenge{
			Method:            s.challenge.method,
			AttemptsRemaining: s.challenge.attempts,
			ExpiresAt:         s.challenge.expiresAt,
		}
	}
	return snap
}

// minRefreshDelay bounds how often proactive renewals can run
const minRefreshDelay = time.Second

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
