// Package vault keeps the credential pair in a key-value store in encrypted form.
//
// The encryption key is derived from a secret shipped with the client, so the
// stored values are obfuscated rather than confidential against anyone holding
// the client configuration.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports"
)

const (
	AccessKey  = "access-credential"
	RefreshKey = "refresh-credential"
)

// entry is the plaintext of one vault slot. Both slots written by one Store
// share a generation so a reader never assembles tokens from two different pairs.
type entry struct {
	Generation string    `json:"g"`
	Token      string    `json:"t"`
	IssuedAt   time.Time `json:"iat"`
	ExpiresAt  time.Time `json:"exp"`
}

// Vault implements ports.CredentialVault on top of a KVStore
type Vault struct {
	store  ports.KVStore
	sealer *sealer
	log    zerolog.Logger
}

// New creates a vault sealing entries with a key derived from secret
func New(store ports.KVStore, secret []byte, log zerolog.Logger) (*Vault, error) {
	s, err := newSealer(secret)
	if err != nil {
		return nil, err
	}
	return &Vault{
		store:  store,
		sealer: s,
		log:    log.With().Str("component", "vault").Logger(),
	}, nil
}

var _ ports.CredentialVault = (*Vault)(nil)

// Store persists both tokens of pair, replacing any previous pair
func (v *Vault) Store(ctx context.Context, pair core.CredentialPair) error {
	generation := uuid.NewString()

	refresh, err := v.seal(RefreshKey, entry{Generation: generation, Token: pair.RefreshToken})
	if err != nil {
		return err
	}
	access, err := v.seal(AccessKey, entry{
		Generation: generation,
		Token:      pair.AccessToken,
		IssuedAt:   pair.IssuedAt,
		ExpiresAt:  pair.ExpiresAt,
	})
	if err != nil {
		return err
	}

	if err := v.store.Set(ctx, RefreshKey, refresh); err != nil {
		return wrapStorage("write refresh credential", err)
	}
	if err := v.store.Set(ctx, AccessKey, access); err != nil {
		return wrapStorage("write access credential", err)
	}
	return nil
}

// Load returns the stored pair, or nil if nothing usable is stored.
// Ciphertext that does not decrypt is treated as absent.
func (v *Vault) Load(ctx context.Context) (*core.CredentialPair, error) {
	access, ok, err := v.open(ctx, AccessKey)
	if err != nil || !ok {
		return nil, err
	}
	refresh, ok, err := v.open(ctx, RefreshKey)
	if err != nil || !ok {
		return nil, err
	}

	if access.Generation != refresh.Generation {
		v.log.Warn().Msg("stored credentials belong to different pairs, ignoring")
		return nil, nil
	}

	return &core.CredentialPair{
		AccessToken:  access.Token,
		RefreshToken: refresh.Token,
		IssuedAt:     access.IssuedAt,
		ExpiresAt:    access.ExpiresAt,
	}, nil
}

// Clear removes both entries
func (v *Vault) Clear(ctx context.Context) error {
	var errs []error
	if err := v.store.Remove(ctx, AccessKey); err != nil {
		errs = append(errs, wrapStorage("remove access credential", err))
	}
	if err := v.store.Remove(ctx, RefreshKey); err != nil {
		errs = append(errs, wrapStorage("remove refresh credential", err))
	}
	return errors.Join(errs...)
}

func (v *Vault) seal(slot string, e entry) (string, error) {
	plaintext, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", slot, err)
	}
	return v.sealer.seal(slot, plaintext)
}

func (v *Vault) open(ctx context.Context, slot string) (entry, bool, error) {
	encoded, found, err := v.store.Get(ctx, slot)
	if err != nil {
		return entry{}, false, wrapStorage("read "+slot, err)
	}
	if !found {
		return entry{}, false, nil
	}

	plaintext, err := v.sealer.open(slot, encoded)
	if err != nil {
		v.log.Warn().Err(err).Str("slot", slot).Msg("discarding undecryptable credential")
		return entry{}, false, nil
	}

	var e entry
	if err := json.Unmarshal(plaintext, &e); err != nil || e.Token == "" {
		v.log.Warn().Str("slot", slot).Msg("discarding malformed credential")
		return entry{}, false, nil
	}
	return e, true, nil
}

func wrapStorage(op string, err error) error {
	if errors.Is(err, core.ErrStorage) {
		return fmt.Errorf("vault: failed to %s: %w", op, err)
	}
	return fmt.Errorf("vault: failed to %s: %w: %v", op, core.ErrStorage, err)
}
