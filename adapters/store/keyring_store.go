package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports"
	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keyring service name used when none is configured
const DefaultKeyringService = "yess-loyalty"

// KeyringStore keeps values in the operating system credential store
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a keyring-backed store under the given service name
func NewKeyringStore(service string) ports.KVStore {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringStore{service: service}
}

// Get retrieves a value by key
func (s *KeyringStore) Get(_ context.Context, key string) (string, bool, error) {
	value, err := keyring.Get(s.service, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read %s from keyring: %w: %v", key, core.ErrStorage, err)
	}
	return value, true, nil
}

// Set stores a value
func (s *KeyringStore) Set(_ context.Context, key, value string) error {
	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("failed to write %s to keyring: %w: %v", key, core.ErrStorage, err)
	}
	return nil
}

// Remove deletes a key
func (s *KeyringStore) Remove(_ context.Context, key string) error {
	err := keyring.Delete(s.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to remove %s from keyring: %w: %v", key, core.ErrStorage, err)
	}
	return nil
}
