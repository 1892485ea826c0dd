package ports

import (
	"context"

	"github.com/yessloyalty/authsession/core"
)

// CredentialVault persists the credential pair in an opaque form.
// Load returns nil when nothing usable is stored.
type CredentialVault interface {
	Store(ctx context.Context, pair core.CredentialPair) error
	Load(ctx context.Context) (*core.CredentialPair, error)
	Clear(ctx context.Context) error
}
