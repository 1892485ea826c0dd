package http_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yessloyalty/authsession/adapters/store"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/ports/portsfake"
	"github.com/yessloyalty/authsession/service"
	guard "github.com/yessloyalty/authsession/transport/http"
	"github.com/yessloyalty/authsession/vault"
)

// apiServer accepts exactly one bearer token at a time
type apiServer struct {
	*httptest.Server

	mu       sync.Mutex
	accepted string
	hits     atomic.Int32
	bodies   []string
	ids      []string

	onReject func()
}

func newAPIServer(t *testing.T) *apiServer {
	s := &apiServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		s.bodies = append(s.bodies, string(body))
		s.ids = append(s.ids, r.Header.Get(guard.RequestIDHeader))
		ok := r.Header.Get("Authorization") == "Bearer "+s.accepted
		onReject := s.onReject
		s.mu.Unlock()

		if !ok {
			if onReject != nil {
				onReject()
			}
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		_, _ = fmt.Fprintf(w, `{"echo":%q}`, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) accept(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted = token
}

type fixture struct {
	session *service.SessionService
	remote  *portsfake.Authenticator
	issuer  *portsfake.Issuer
	clock   *portsfake.Scheduler
	api     *apiServer
	client  *http.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		remote: &portsfake.Authenticator{},
		issuer: portsfake.NewIssuer(),
		clock:  portsfake.NewScheduler(time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)),
		api:    newAPIServer(t),
	}
	f.remote.LoginFunc = func(context.Context, core.Credentials) (core.CredentialPair, error) {
		return f.issuer.Pair("user-1", f.clock.Now(), 15*time.Minute), nil
	}

	v, err := vault.New(store.NewMemoryStore(), []byte("secret"), zerolog.Nop())
	require.NoError(t, err)

	cfg := service.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	f.session, err = service.New(cfg, service.Deps{
		Remote:    f.remote,
		Vault:     v,
		Decoder:   f.issuer.Decoder(),
		Publisher: &portsfake.Publisher{},
		Scheduler: f.clock,
	})
	require.NoError(t, err)
	t.Cleanup(f.session.Dispose)

	f.client = guard.NewClient(f.session, nil, 5*time.Second, zerolog.Nop())
	return f
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	_, err := f.session.Login(context.Background(), core.Credentials{Username: "user-1"})
	require.NoError(t, err)
	token, _ := f.session.AccessToken()
	return token
}

// rotateOnRefresh makes the next renewal issue a token the server accepts
func (f *fixture) rotateOnRefresh() {
	f.remote.SetRefresh(func(context.Context, string) (core.CredentialPair, error) {
		pair := f.issuer.Pair("user-1", f.clock.Now(), 15*time.Minute)
		f.api.accept(pair.AccessToken)
		return pair, nil
	})
}

func TestValidTokenIsAttached(t *testing.T) {
	f := newFixture(t)
	f.api.accept(f.login(t))

	resp, err := f.client.Get(f.api.URL + "/api/me")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), f.api.hits.Load())
	assert.Zero(t, f.remote.RefreshCalls())
	assert.NotEmpty(t, f.api.ids[0])
}

func TestAnonymousRequestsNeverReachNetwork(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.Get(f.api.URL + "/api/me")
	require.ErrorIs(t, err, core.ErrNotAuthenticated)
	assert.Zero(t, f.api.hits.Load())
}

func TestStaleTokenIsRenewedAndReplayedOnce(t *testing.T) {
	f := newFixture(t)
	stale := f.login(t)
	f.rotateOnRefresh()

	req, err := http.NewRequest(http.MethodPost, f.api.URL+"/api/wallet/redeem", bytes.NewReader([]byte(`{"points":50}`)))
	require.NoError(t, err)
	req.Header.Set(guard.RequestIDHeader, "req-1")

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), f.api.hits.Load())
	assert.Equal(t, 1, f.remote.RefreshCalls())
	assert.Equal(t, []string{`{"points":50}`, `{"points":50}`}, f.api.bodies)
	assert.Equal(t, []string{"req-1", "req-1"}, f.api.ids)

	fresh, _ := f.session.AccessToken()
	assert.NotEqual(t, stale, fresh)
	assert.Empty(t, req.Header.Get("Authorization"), "caller's request is not modified")
}

func TestSecond401IsHardFailure(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.remote.SetRefresh(func(context.Context, string) (core.CredentialPair, error) {
		return f.issuer.Pair("user-1", f.clock.Now(), 15*time.Minute), nil
	})

	_, err := f.client.Get(f.api.URL + "/api/me")
	require.ErrorIs(t, err, core.ErrAuthFailed)
	assert.Equal(t, int32(2), f.api.hits.Load())
	assert.Equal(t, 1, f.remote.RefreshCalls())
}

func TestRejectedRenewalFailsRequest(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.remote.SetRefresh(func(context.Context, string) (core.CredentialPair, error) {
		return core.CredentialPair{}, core.ErrCredentialRejected
	})

	_, err := f.client.Get(f.api.URL + "/api/me")
	require.ErrorIs(t, err, core.ErrCredentialRejected)
	assert.Equal(t, int32(1), f.api.hits.Load())
	assert.Equal(t, core.StatusRevoked, f.session.Snapshot().Status)

	_, err = f.client.Get(f.api.URL + "/api/me")
	require.ErrorIs(t, err, core.ErrNotAuthenticated)
	assert.Equal(t, int32(1), f.api.hits.Load())
}

func TestUnrewindableBodySurfaces401(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	f.rotateOnRefresh()

	req, err := http.NewRequest(http.MethodPost, f.api.URL+"/api/upload", io.NopCloser(strings.NewReader("stream")))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, f.remote.RefreshCalls())
}

func TestConcurrentExpiredRequestsShareOneRenewal(t *testing.T) {
	const m = 8

	f := newFixture(t)
	f.login(t)
	f.rotateOnRefresh()

	var rejected atomic.Int32
	allRejected := make(chan struct{})
	f.api.onReject = func() {
		if rejected.Add(1) == m {
			close(allRejected)
		}
		<-allRejected
	}

	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := f.client.Get(fmt.Sprintf("%s/api/orders/%d", f.api.URL, i))
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, f.remote.RefreshCalls())
	assert.Equal(t, int32(2*m), f.api.hits.Load())
}
