package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yessloyalty/authsession/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api/v1", cfg.APIBaseURL)
	assert.Equal(t, config.BackendMemory, cfg.VaultBackend)
	assert.Equal(t, 5*time.Minute, cfg.SafetyMargin)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.ChallengeAttempts)
	assert.Equal(t, config.EventsLocal, cfg.EventsBackend)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("REFRESH_SAFETY_MARGIN", "2s")
	t.Setenv("REFRESH_MAX_ATTEMPTS", "5")
	t.Setenv("VAULT_BACKEND", "keyring")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.SafetyMargin)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, config.BackendKeyring, cfg.VaultBackend)
	assert.True(t, cfg.LogPretty)
}

func TestDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("API_BASE_URL=https://api.yess.example/v1\nCHALLENGE_TTL=90s\n"), 0o600))
	unset := func() {
		os.Unsetenv("API_BASE_URL")
		os.Unsetenv("CHALLENGE_TTL")
	}
	unset()
	t.Cleanup(unset)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://api.yess.example/v1", cfg.APIBaseURL)
	assert.Equal(t, 90*time.Second, cfg.ChallengeTTL)
}

func TestInvalidValues(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "soon")
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.ErrorContains(t, err, "REQUEST_TIMEOUT")
}

func TestUnknownBackend(t *testing.T) {
	t.Setenv("VAULT_BACKEND", "floppy")
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestGuardedRequestTimeout(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	// two renewals of 3 attempts with 30s backoff caps, plus request and replay
	assert.Equal(t, 200*time.Second, cfg.GuardedRequestTimeout())
	assert.Greater(t, cfg.GuardedRequestTimeout(), cfg.RequestTimeout)

	t.Setenv("GUARDED_REQUEST_TIMEOUT", "45s")
	cfg, err = config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.GuardedRequestTimeout())
}
