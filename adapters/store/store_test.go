package store_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/yessloyalty/authsession/adapters/store"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports"
	"github.com/zalando/go-keyring"
)

func newRedisStore(t *testing.T) (ports.KVStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return store.NewRedisStore(rdb, ""), mr
}

func TestStoreContract(t *testing.T) {
	keyring.MockInit()

	backends := map[string]func(t *testing.T) ports.KVStore{
		"memory": func(t *testing.T) ports.KVStore { return store.NewMemoryStore() },
		"redis": func(t *testing.T) ports.KVStore {
			s, _ := newRedisStore(t)
			return s
		},
		"keyring": func(t *testing.T) ports.KVStore { return store.NewKeyringStore("yess-test-" + t.Name()) },
	}

	for name, build := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := build(t)

			_, found, err := s.Get(ctx, "access-credential")
			require.NoError(t, err)
			require.False(t, found)

			require.NoError(t, s.Set(ctx, "access-credential", "v1"))
			require.NoError(t, s.Set(ctx, "access-credential", "v2"))

			value, found, err := s.Get(ctx, "access-credential")
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, "v2", value)

			require.NoError(t, s.Remove(ctx, "access-credential"))
			require.NoError(t, s.Remove(ctx, "access-credential"))

			_, found, err = s.Get(ctx, "access-credential")
			require.NoError(t, err)
			require.False(t, found)
		})
	}
}

func TestRedisStoreUsesPrefix(t *testing.T) {
	s, mr := newRedisStore(t)

	require.NoError(t, s.Set(context.Background(), "refresh-credential", "cipher"))

	value, err := mr.Get(store.DefaultRedisPrefix + "refresh-credential")
	require.NoError(t, err)
	require.Equal(t, "cipher", value)
}

func TestRedisStoreReportsStorageError(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, _, err := s.Get(context.Background(), "access-credential")
	require.ErrorIs(t, err, core.ErrStorage)

	err = s.Set(context.Background(), "access-credential", "x")
	require.ErrorIs(t, err, core.ErrStorage)
}
