package main

import (
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yessloyalty/authsession/adapters/store"
	"github.com/yessloyalty/authsession/internal/config"
	"github.com/yessloyalty/authsession/internal/logging"
	"github.com/yessloyalty/authsession/internal/mockapi"
	"github.com/yessloyalty/authsession/ports"
)

// Development API for the session client. Tokens are signed with a key generated at startup,
// so restarting the server invalidates every issued token.
func main() {
	log := logging.New(config.GetEnv("LOG_LEVEL", "info"), true)

	opts := mockapi.DefaultOptions()
	if raw := config.GetEnv("MOCKAPI_ACCESS_TTL", ""); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid MOCKAPI_ACCESS_TTL")
		}
		opts.AccessTTL = ttl
	}
	if code := config.GetEnv("MOCKAPI_CHALLENGE_CODE", ""); code != "" {
		opts.ChallengeCode = code
	}

	var kv ports.KVStore = store.NewMemoryStore()
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to parse redis url")
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		kv = store.NewRedisStore(redisClient, config.GetEnv("REDIS_PREFIX", "yess:mockapi:"))
	}

	srv, err := mockapi.NewServer(kv, opts, log, mockapi.DemoAccounts()...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create mock api")
	}

	addr := config.GetEnv("MOCKAPI_ADDR", ":8000")
	log.Info().Str("addr", addr).Str("base_path", mockapi.BasePath).Msg("mock api listening")
	if err := srv.Router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
}
