package ports

import "context"

// KVStore is the host's persistent key-value store.
// Get returns found=false for a missing key; err is reserved for I/O failures.
type KVStore interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}
