package authsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/yessloyalty/authsession/adapters/events"
	"github.com/yessloyalty/authsession/adapters/remote"
	"github.com/yessloyalty/authsession/adapters/store"
	"github.com/yessloyalty/authsession/adapters/tokenizer"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/internal/config"
	"github.com/yessloyalty/authsession/ports"
	"github.com/yessloyalty/authsession/service"
	transporthttp "github.com/yessloyalty/authsession/transport/http"
	"github.com/yessloyalty/authsession/vault"
)

// Client wires the session, its vault, the session-ended bus and the guarded HTTP client
type Client struct {
	session    *service.SessionService
	httpClient *http.Client
	publisher  message.Publisher
	subscriber message.Subscriber
	redis      *redis.Client
	ownsRedis  bool
	log        zerolog.Logger
}

type options struct {
	store     ports.KVStore
	log       zerolog.Logger
	scheduler ports.Scheduler
	transport http.RoundTripper
	redis     *redis.Client
}

// Option customizes New
type Option func(*options)

// WithStore replaces the configured vault backend
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithScheduler replaces the wall clock, mostly for tests
func WithScheduler(s ports.Scheduler) Option {
	return func(o *options) { o.scheduler = s }
}

// WithHTTPTransport sets the transport used for both API and guarded requests
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithRedisClient shares an existing client instead of dialing RedisURL.
// The caller keeps ownership of the client.
func WithRedisClient(c *redis.Client) Option {
	return func(o *options) { o.redis = c }
}

// New builds a client from cfg and restores any stored session
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	o := options{
		log:       zerolog.Nop(),
		scheduler: ports.SystemScheduler{},
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{log: o.log, redis: o.redis}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	needsRedis := (cfg.VaultBackend == config.BackendRedis && o.store == nil) || cfg.EventsBackend == config.EventsRedis
	if needsRedis && c.redis == nil {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		c.redis = redis.NewClient(redisOpts)
		c.ownsRedis = true
	}

	kv, err := c.buildStore(cfg, o.store)
	if err != nil {
		return nil, err
	}
	credentialVault, err := vault.New(kv, []byte(cfg.VaultSecret), o.log)
	if err != nil {
		return nil, err
	}

	if err := c.buildEvents(cfg); err != nil {
		return nil, err
	}

	apiClient := remote.NewClient(cfg.APIBaseURL, &http.Client{
		Transport: o.transport,
		Timeout:   cfg.RequestTimeout,
	})

	c.session, err = service.New(service.Config{
		SafetyMargin:      cfg.SafetyMargin,
		MaxAttempts:       cfg.MaxAttempts,
		RetryDelay:        cfg.RetryDelay,
		MaxRetryDelay:     cfg.MaxRetryDelay,
		RequestTimeout:    cfg.RequestTimeout,
		ChallengeAttempts: cfg.ChallengeAttempts,
		ChallengeTTL:      cfg.ChallengeTTL,
	}, service.Deps{
		Remote:    apiClient,
		Vault:     credentialVault,
		Decoder:   tokenizer.NewJWTDecoder(),
		Publisher: events.NewWatermillPublisher(c.publisher),
		Scheduler: o.scheduler,
		Logger:    &o.log,
	})
	if err != nil {
		return nil, err
	}

	if err := c.session.Init(ctx); err != nil {
		return nil, err
	}

	c.httpClient = transporthttp.NewClient(c.session, o.transport, cfg.GuardedRequestTimeout(), o.log)
	ok = true
	return c, nil
}

func (c *Client) buildStore(cfg Config, override ports.KVStore) (ports.KVStore, error) {
	if override != nil {
		return override, nil
	}
	switch cfg.VaultBackend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	case config.BackendRedis:
		return store.NewRedisStore(c.redis, cfg.RedisPrefix), nil
	case config.BackendKeyring:
		return store.NewKeyringStore(cfg.KeyringService), nil
	default:
		return nil, fmt.Errorf("unknown vault backend %q", cfg.VaultBackend)
	}
}

func (c *Client) buildEvents(cfg Config) error {
	switch cfg.EventsBackend {
	case config.EventsLocal:
		pubSub := events.NewLocalPubSub(c.log)
		c.publisher, c.subscriber = pubSub, pubSub
	case config.EventsRedis:
		publisher, subscriber, err := events.NewRedisPubSub(c.redis, c.log)
		if err != nil {
			return err
		}
		c.publisher, c.subscriber = publisher, subscriber
	default:
		return fmt.Errorf("unknown events backend %q", cfg.EventsBackend)
	}
	return nil
}

// Session returns the session owned by the client
func (c *Client) Session() Session {
	return c.session
}

// HTTPClient returns a client that authorizes requests with the session's token
// and renews once on a 401
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// SessionEnded subscribes to session-ended signals until ctx is done
func (c *Client) SessionEnded(ctx context.Context) (<-chan core.SessionEnded, error) {
	return events.Listen(ctx, c.subscriber, c.log)
}

// Close stops background work and releases the event bus. Stored credentials are kept.
func (c *Client) Close() error {
	if c.session != nil {
		c.session.Dispose()
	}

	var errs []error
	if c.publisher != nil {
		errs = append(errs, c.publisher.Close())
	}
	// gochannel is both ends of the local bus
	if c.subscriber != nil && any(c.subscriber) != any(c.publisher) {
		errs = append(errs, c.subscriber.Close())
	}
	if c.redis != nil && c.ownsRedis {
		errs = append(errs, c.redis.Close())
	}
	return errors.Join(errs...)
}
