package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports"
)

// Deps are the collaborators of a SessionService
type Deps struct {
	Remote    ports.Authenticator
	Vault     ports.CredentialVault
	Decoder   ports.ClaimsDecoder
	Publisher ports.SessionEndedPublisher
	Scheduler ports.Scheduler
	Logger    *zerolog.Logger
}

// SessionService owns the client session: credential acquisition, storage,
// renewal and teardown. One instance exists per running client.
//
// Lock order is vaultMu before mu. mu is never held across remote or store I/O.
type SessionService struct {
	cfg       Config
	remote    ports.Authenticator
	vault     ports.CredentialVault
	decoder   ports.ClaimsDecoder
	publisher ports.SessionEndedPublisher
	clock     ports.Scheduler
	log       zerolog.Logger

	// ctx bounds background renewals and is cancelled by Dispose
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	vaultMu sync.Mutex

	mu             sync.Mutex
	status         core.Status
	pair           *core.CredentialPair
	claims         *core.Claims
	pending        *refreshTicket
	challenge      *challengeState
	refreshTimer   ports.Timer
	challengeTimer ports.Timer
	epoch          uint64
	ended          bool
	endedEpoch     uint64
	initialized    bool
	disposed       bool
}

// New creates a session in the Anonymous state. Call Init to restore a stored session.
func New(cfg Config, deps Deps) (*SessionService, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if deps.Remote == nil || deps.Vault == nil || deps.Decoder == nil || deps.Publisher == nil {
		return nil, errors.New("session requires remote, vault, decoder and publisher")
	}

	clock := deps.Scheduler
	if clock == nil {
		clock = ports.SystemScheduler{}
	}
	log := zerolog.Nop()
	if deps.Logger != nil {
		log = *deps.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		cfg:       cfg,
		remote:    deps.Remote,
		vault:     deps.Vault,
		decoder:   deps.Decoder,
		publisher: deps.Publisher,
		clock:     clock,
		log:       log.With().Str("component", "session").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		status:    core.StatusAnonymous,
	}, nil
}

// Init restores a stored session. A stale or undecodable stored pair is
// cleared and the session stays Anonymous. Storage failures are logged and
// leave the session Anonymous.
func (s *SessionService) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return fmt.Errorf("init: %w", core.ErrCancelled)
	}
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	epoch := s.epoch
	s.mu.Unlock()

	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()

	pair, err := s.vault.Load(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load stored credentials")
		return nil
	}
	if pair == nil {
		s.log.Debug().Msg("no stored session")
		return nil
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	err = s.transition(evRestore, payload{pair: pair})
	snap := s.snapshot()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn().Err(err).Msg("discarding stored session")
		if clearErr := s.vault.Clear(ctx); clearErr != nil {
			s.log.Error().Err(clearErr).Msg("failed to clear stale credentials")
		}
		return nil
	}

	s.log.Info().Str("subject", snap.SubjectID).Time("expires_at", snap.ExpiresAt).Msg("session restored")
	return nil
}

// Dispose stops timers, rejects waiting callers and waits for background
// renewals to return. Stored credentials are kept.
func (s *SessionService) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	ticket := s.pending
	_ = s.transition(evDispose, payload{})
	s.disposed = true
	s.mu.Unlock()

	s.cancel()
	if ticket != nil {
		ticket.resolve("", fmt.Errorf("session disposed: %w", core.ErrCancelled))
	}
	s.wg.Wait()
}

// Login exchanges user credentials for a credential pair and enters Authenticated.
// A Revoked session is acknowledged implicitly.
func (s *SessionService) Login(ctx context.Context, creds core.Credentials) (core.Snapshot, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return core.Snapshot{}, fmt.Errorf("login: %w", core.ErrCancelled)
	}
	if s.status == core.StatusRevoked {
		_ = s.transition(evAcknowledge, payload{})
	}
	if s.status != core.StatusAnonymous {
		err := s.invalid(evLogin)
		s.mu.Unlock()
		return core.Snapshot{}, err
	}
	epoch := s.epoch
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	pair, err := s.remote.Login(callCtx, creds)
	cancel()
	if err != nil {
		s.log.Warn().Err(err).Msg("login failed")
		return core.Snapshot{}, fmt.Errorf("login: %w", err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return core.Snapshot{}, fmt.Errorf("login superseded: %w", core.ErrCancelled)
	}
	if err := s.transition(evLogin, payload{pair: &pair}); err != nil {
		s.mu.Unlock()
		return core.Snapshot{}, fmt.Errorf("login: %w", err)
	}
	epoch = s.epoch
	snap := s.snapshot()
	s.mu.Unlock()

	if err := s.persist(ctx, epoch, pair); err != nil {
		s.failClosed(ctx, epoch, err)
		return core.Snapshot{}, fmt.Errorf("login: %w", err)
	}

	s.log.Info().Str("subject", snap.SubjectID).Time("expires_at", snap.ExpiresAt).Msg("logged in")
	return snap, nil
}

// Logout ends the session, clears the vault and cancels any waiting callers.
// It is idempotent; the session-ended signal is emitted only when a live
// session existed.
func (s *SessionService) Logout(ctx context.Context) error {
	s.mu.Lock()
	hadSession := s.pair != nil || s.ended
	ticket := s.pending
	_ = s.transition(evLogout, payload{})
	s.mu.Unlock()

	if ticket != nil {
		ticket.resolve("", fmt.Errorf("logged out: %w", core.ErrCancelled))
	}

	s.vaultMu.Lock()
	err := s.vault.Clear(ctx)
	s.vaultMu.Unlock()

	if hadSession {
		s.emitEnded(ctx)
		s.log.Info().Msg("logged out")
	}
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Acknowledge moves a Revoked session back to Anonymous
func (s *SessionService) Acknowledge() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(evAcknowledge, payload{})
}

// Snapshot returns a copy of the current session
func (s *SessionService) Snapshot() core.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// AccessToken returns the current access token without waiting for a renewal
func (s *SessionService) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pair == nil {
		return "", false
	}
	return s.pair.AccessToken, true
}

// persist writes pair to the vault unless the session moved on since epoch
func (s *SessionService) persist(ctx context.Context, epoch uint64, pair core.CredentialPair) error {
	s.vaultMu.Lock()
	defer s.vaultMu.Unlock()

	s.mu.Lock()
	current := s.epoch == epoch
	s.mu.Unlock()
	if !current {
		return nil
	}
	return s.vault.Store(ctx, pair)
}

// failClosed revokes the session after a vault write failure
func (s *SessionService) failClosed(ctx context.Context, epoch uint64, cause error) {
	s.log.Error().Err(cause).Msg("failed to persist credentials, revoking session")

	s.mu.Lock()
	if s.epoch == epoch {
		_ = s.transition(evVaultFailure, payload{})
	}
	s.mu.Unlock()
	s.finishRevocation(ctx)
}

// finishRevocation clears the vault and emits the session-ended signal for a
// revocation recorded by transition. Each revocation is finished once.
func (s *SessionService) finishRevocation(ctx context.Context) {
	s.mu.Lock()
	if !s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = false
	epoch := s.endedEpoch
	s.mu.Unlock()

	s.vaultMu.Lock()
	s.mu.Lock()
	current := s.epoch == epoch
	s.mu.Unlock()
	if current {
		if err := s.vault.Clear(ctx); err != nil {
			s.log.Error().Err(err).Msg("failed to clear revoked credentials")
		}
	}
	s.vaultMu.Unlock()

	s.log.Warn().Msg("session revoked")
	s.emitEnded(ctx)
}

func (s *SessionService) emitEnded(ctx context.Context) {
	event := core.SessionEnded{EndedAt: s.clock.Now()}
	if err := s.publisher.PublishSessionEnded(context.WithoutCancel(ctx), event); err != nil {
		s.log.Error().Err(err).Msg("failed to publish session ended")
	}
}
