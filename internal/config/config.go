package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	apiBaseURLVar       = "API_BASE_URL"
	vaultSecretVar      = "VAULT_SECRET"
	vaultBackendVar     = "VAULT_BACKEND"
	redisURLVar         = "REDIS_URL"
	redisPrefixVar      = "REDIS_PREFIX"
	keyringServiceVar   = "KEYRING_SERVICE"
	safetyMarginVar     = "REFRESH_SAFETY_MARGIN"
	maxAttemptsVar      = "REFRESH_MAX_ATTEMPTS"
	retryDelayVar       = "REFRESH_RETRY_DELAY"
	maxRetryDelayVar    = "REFRESH_MAX_RETRY_DELAY"
	requestTimeoutVar   = "REQUEST_TIMEOUT"
	guardedTimeoutVar   = "GUARDED_REQUEST_TIMEOUT"
	challengeAttemptVar = "CHALLENGE_ATTEMPTS"
	challengeTTLVar     = "CHALLENGE_TTL"
	eventsBackendVar    = "EVENTS_BACKEND"
	logLevelVar         = "LOG_LEVEL"
	logPrettyVar        = "LOG_PRETTY"
)

const (
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	BackendKeyring = "keyring"

	EventsLocal = "local"
	EventsRedis = "redis"
)

// Config is the client configuration read from the environment
type Config struct {
	APIBaseURL string

	VaultSecret    string
	VaultBackend   string
	RedisURL       string
	RedisPrefix    string
	KeyringService string

	SafetyMargin      time.Duration
	MaxAttempts       int
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration
	RequestTimeout    time.Duration
	GuardedTimeout    time.Duration
	ChallengeAttempts int
	ChallengeTTL      time.Duration

	EventsBackend string

	LogLevel  string
	LogPretty bool
}

// Load reads the configuration, loading a .env file first when one exists
func Load(envFiles ...string) (Config, error) {
	_ = godotenv.Load(envFiles...)

	var p parser
	cfg := Config{
		APIBaseURL:        GetEnv(apiBaseURLVar, "http://localhost:8000/api/v1"),
		VaultSecret:       GetEnv(vaultSecretVar, "yess_loyalty_secure_key"),
		VaultBackend:      GetEnv(vaultBackendVar, BackendMemory),
		RedisURL:          GetEnv(redisURLVar, "redis://localhost:6379/0"),
		RedisPrefix:       GetEnv(redisPrefixVar, "yess:session:"),
		KeyringService:    GetEnv(keyringServiceVar, "yess-loyalty"),
		SafetyMargin:      p.duration(safetyMarginVar, 5*time.Minute),
		MaxAttempts:       p.int(maxAttemptsVar, 3),
		RetryDelay:        p.duration(retryDelayVar, time.Second),
		MaxRetryDelay:     p.duration(maxRetryDelayVar, 30*time.Second),
		RequestTimeout:    p.duration(requestTimeoutVar, 10*time.Second),
		GuardedTimeout:    p.duration(guardedTimeoutVar, 0),
		ChallengeAttempts: p.int(challengeAttemptVar, 3),
		ChallengeTTL:      p.duration(challengeTTLVar, 5*time.Minute),
		EventsBackend:     GetEnv(eventsBackendVar, EventsLocal),
		LogLevel:          GetEnv(logLevelVar, "info"),
		LogPretty:         p.bool(logPrettyVar, false),
	}
	if p.err != nil {
		return Config{}, p.err
	}

	switch cfg.VaultBackend {
	case BackendMemory, BackendRedis, BackendKeyring:
	default:
		return Config{}, fmt.Errorf("%s: unknown backend %q", vaultBackendVar, cfg.VaultBackend)
	}
	switch cfg.EventsBackend {
	case EventsLocal, EventsRedis:
	default:
		return Config{}, fmt.Errorf("%s: unknown backend %q", eventsBackendVar, cfg.EventsBackend)
	}
	return cfg, nil
}

// GuardedRequestTimeout is the whole-call budget of a request sent through the
// guard. Unless set explicitly it covers waiting for an in-flight renewal, a
// renewal after a 401 and the replay, each renewal with all its attempts and backoff.
func (c Config) GuardedRequestTimeout() time.Duration {
	if c.GuardedTimeout > 0 {
		return c.GuardedTimeout
	}
	attempts := time.Duration(max(c.MaxAttempts, 1))
	renewal := attempts*c.RequestTimeout + (attempts-1)*c.MaxRetryDelay
	return 2*renewal + 2*c.RequestTimeout
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// parser keeps the first conversion error
type parser struct {
	err error
}

func (p *parser) duration(envVar string, defaultValue time.Duration) time.Duration {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(envVar, raw, err)
		return defaultValue
	}
	return d
}

func (p *parser) int(envVar string, defaultValue int) int {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.fail(envVar, raw, err)
		return defaultValue
	}
	return n
}

func (p *parser) bool(envVar string, defaultValue bool) bool {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.fail(envVar, raw, err)
		return defaultValue
	}
	return b
}

func (p *parser) fail(envVar, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s=%q: %w", envVar, raw, err)
	}
}
