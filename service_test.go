package authsession_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yessloyalty/authsession"
	"github.com/yessloyalty/authsession/adapters/events"
	"github.com/yessloyalty/authsession/adapters/store"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/internal/config"
	"github.com/yessloyalty/authsession/internal/mockapi"
)

// serverClock lets a test age the API's view of time without touching the client's
type serverClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *serverClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *serverClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

type apiFixture struct {
	server *mockapi.Server
	clock  *serverClock
	url    string
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()

	clock := &serverClock{}
	opts := mockapi.DefaultOptions()
	opts.Now = clock.Now

	srv, err := mockapi.NewServer(store.NewMemoryStore(), opts, zerolog.Nop(), mockapi.DemoAccounts()...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)

	return &apiFixture{server: srv, clock: clock, url: ts.URL + mockapi.BasePath}
}

func testConfig(api *apiFixture) authsession.Config {
	return authsession.Config{
		APIBaseURL:        api.url,
		VaultSecret:       "integration-secret",
		VaultBackend:      config.BackendMemory,
		RedisPrefix:       "yess:test:",
		SafetyMargin:      time.Minute,
		MaxAttempts:       2,
		RetryDelay:        time.Millisecond,
		MaxRetryDelay:     5 * time.Millisecond,
		RequestTimeout:    5 * time.Second,
		ChallengeAttempts: 3,
		ChallengeTTL:      time.Minute,
		EventsBackend:     config.EventsLocal,
	}
}

func newClient(t *testing.T, cfg authsession.Config, opts ...authsession.Option) *authsession.Client {
	t.Helper()
	client, err := authsession.New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func fetchBalance(t *testing.T, client *authsession.Client, api *apiFixture) (decimal.Decimal, error) {
	t.Helper()

	resp, err := client.HTTPClient().Get(api.url + "/wallet")
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Balance  decimal.Decimal `json:"balance"`
		Currency string          `json:"currency"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "YESS", body.Currency)
	return body.Balance, nil
}

func TestLoginAndFetchWallet(t *testing.T) {
	api := newAPI(t)
	client := newClient(t, testConfig(api))

	snap, err := client.Session().Login(context.Background(), authsession.Credentials{Username: "demo", Password: "demo"})
	require.NoError(t, err)
	assert.Equal(t, core.StatusAuthenticated, snap.Status)
	assert.Equal(t, "demo", snap.SubjectID)
	assert.True(t, snap.HasRole("customer"))

	balance, err := fetchBalance(t, client, api)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1250.50").Equal(balance))
	assert.Zero(t, api.server.Handlers.RefreshCalls())
}

func TestAnonymousRequestNeverLeavesClient(t *testing.T) {
	api := newAPI(t)
	client := newClient(t, testConfig(api))

	_, err := client.HTTPClient().Get(api.url + "/wallet")
	require.ErrorIs(t, err, authsession.ErrNotAuthenticated)
}

func TestExpiredTokenIsRenewedOnce(t *testing.T) {
	api := newAPI(t)
	client := newClient(t, testConfig(api))

	_, err := client.Session().Login(context.Background(), authsession.Credentials{Username: "partner", Password: "partner"})
	require.NoError(t, err)
	before, _ := client.Session().AccessToken()

	api.clock.Advance(20 * time.Minute)

	balance, err := fetchBalance(t, client, api)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("98000").Equal(balance))
	assert.Equal(t, 1, api.server.Handlers.RefreshCalls())

	after, ok := client.Session().AccessToken()
	require.True(t, ok)
	assert.NotEqual(t, before, after)
	assert.Equal(t, core.StatusAuthenticated, client.Session().Snapshot().Status)
}

// stallFirstRefresh holds the first refresh call until its deadline passes
type stallFirstRefresh struct {
	stalled atomic.Bool
}

func (s *stallFirstRefresh) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, "/auth/refresh") && s.stalled.CompareAndSwap(false, true) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestGuardedRequestOutlivesSlowRenewalAttempt(t *testing.T) {
	api := newAPI(t)
	cfg := testConfig(api)
	cfg.RequestTimeout = 300 * time.Millisecond
	client := newClient(t, cfg, authsession.WithHTTPTransport(&stallFirstRefresh{}))

	assert.Greater(t, client.HTTPClient().Timeout, cfg.RequestTimeout)

	_, err := client.Session().Login(context.Background(), authsession.Credentials{Username: "demo", Password: "demo"})
	require.NoError(t, err)
	api.clock.Advance(20 * time.Minute)

	balance, err := fetchBalance(t, client, api)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1250.50").Equal(balance))
	assert.Equal(t, 1, api.server.Handlers.RefreshCalls())
	assert.Equal(t, core.StatusAuthenticated, client.Session().Snapshot().Status)
}

func TestUnavailableRefreshEndsSession(t *testing.T) {
	api := newAPI(t)
	client := newClient(t, testConfig(api))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ended, err := client.SessionEnded(ctx)
	require.NoError(t, err)

	_, err = client.Session().Login(ctx, authsession.Credentials{Username: "demo", Password: "demo"})
	require.NoError(t, err)

	api.server.Handlers.FailRefreshes(10)
	api.clock.Advance(20 * time.Minute)

	_, err = fetchBalance(t, client, api)
	require.ErrorIs(t, err, authsession.ErrCredentialRejected)
	assert.Equal(t, 2, api.server.Handlers.RefreshCalls())
	assert.Equal(t, core.StatusRevoked, client.Session().Snapshot().Status)

	select {
	case event := <-ended:
		assert.False(t, event.EndedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("session-ended signal not delivered")
	}

	require.NoError(t, client.Session().Acknowledge())
	assert.Equal(t, core.StatusAnonymous, client.Session().Snapshot().Status)
}

func TestSecondFactorThroughAPI(t *testing.T) {
	api := newAPI(t)
	client := newClient(t, testConfig(api))
	ctx := context.Background()

	_, err := client.Session().Login(ctx, authsession.Credentials{Username: "demo", Password: "demo"})
	require.NoError(t, err)

	challenge, err := client.Session().BeginChallenge(ctx, core.MethodEmail)
	require.NoError(t, err)
	assert.Equal(t, 3, challenge.AttemptsRemaining)

	err = client.Session().SubmitCode(ctx, "000000")
	require.ErrorIs(t, err, authsession.ErrChallengeFailed)
	assert.Equal(t, 2, client.Session().Snapshot().Challenge.AttemptsRemaining)

	require.NoError(t, client.Session().SubmitCode(ctx, "123456"))
	snap := client.Session().Snapshot()
	assert.Equal(t, core.StatusAuthenticated, snap.Status)
	assert.Nil(t, snap.Challenge)
}

func TestRedisVaultSurvivesRestart(t *testing.T) {
	api := newAPI(t)
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	cfg := testConfig(api)
	cfg.VaultBackend = config.BackendRedis

	first, err := authsession.New(context.Background(), cfg, authsession.WithRedisClient(redisClient))
	require.NoError(t, err)
	_, err = first.Session().Login(context.Background(), authsession.Credentials{Username: "demo", Password: "demo"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := newClient(t, cfg, authsession.WithRedisClient(redisClient))
	snap := second.Session().Snapshot()
	assert.Equal(t, core.StatusAuthenticated, snap.Status)
	assert.Equal(t, "demo", snap.SubjectID)

	require.NoError(t, second.Session().Logout(context.Background()))

	third := newClient(t, cfg, authsession.WithRedisClient(redisClient))
	assert.Equal(t, core.StatusAnonymous, third.Session().Snapshot().Status)
}

func TestRedisEventsBackend(t *testing.T) {
	api := newAPI(t)
	mr := miniredis.RunT(t)

	cfg := testConfig(api)
	cfg.EventsBackend = config.EventsRedis
	cfg.RedisURL = "redis://" + mr.Addr() + "/0"

	client := newClient(t, cfg)
	_, err := client.Session().Login(context.Background(), authsession.Credentials{Username: "demo", Password: "demo"})
	require.NoError(t, err)
	require.NoError(t, client.Session().Logout(context.Background()))

	verify := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer verify.Close()
	length, err := verify.XLen(context.Background(), events.SessionEndedTopic).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, length)
}

func TestWithStoreOverridesBackend(t *testing.T) {
	api := newAPI(t)
	kv := store.NewMemoryStore()

	cfg := testConfig(api)
	cfg.VaultBackend = config.BackendKeyring

	client := newClient(t, cfg, authsession.WithStore(kv))
	_, err := client.Session().Login(context.Background(), authsession.Credentials{Username: "demo", Password: "demo"})
	require.NoError(t, err)
	assert.Positive(t, kv.Len())
}
