package service

import (
	"fmt"
	"time"
)

// Config tunes renewal and second-factor behaviour
type Config struct {
	// SafetyMargin is how long before expiry the proactive renewal fires
	SafetyMargin time.Duration

	MaxAttempts   int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// RequestTimeout bounds every remote call made by the session
	RequestTimeout time.Duration

	ChallengeAttempts int
	ChallengeTTL      time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		SafetyMargin:      5 * time.Minute,
		MaxAttempts:       3,
		RetryDelay:        time.Second,
		MaxRetryDelay:     30 * time.Second,
		RequestTimeout:    10 * time.Second,
		ChallengeAttempts: 3,
		ChallengeTTL:      5 * time.Minute,
	}
}

func (c Config) validate() error {
	switch {
	case c.SafetyMargin < 0:
		return fmt.Errorf("safety margin must not be negative")
	case c.MaxAttempts < 1:
		return fmt.Errorf("max attempts must be at least 1")
	case c.RequestTimeout <= 0:
		return fmt.Errorf("request timeout must be positive")
	case c.ChallengeAttempts < 1:
		return fmt.Errorf("challenge attempts must be at least 1")
	case c.ChallengeTTL <= 0:
		return fmt.Errorf("challenge ttl must be positive")
	}
	return nil
}
