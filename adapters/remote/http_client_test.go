package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yessloyalty/authsession/adapters/remote"
	"github.com/yessloyalty/authsession/adapters/store"
	"github.com/yessloyalty/authsession/adapters/tokenizer"
	"github.com/yessloyalty/authsession/core"
	"github.com/yessloyalty/authsession/internal/mockapi"
)

func newMockAPI(t *testing.T) (*remote.Client, *mockapi.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv, err := mockapi.NewServer(store.NewMemoryStore(), mockapi.DefaultOptions(), zerolog.Nop(), mockapi.DemoAccounts()...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)

	return remote.NewClient(ts.URL+mockapi.BasePath, ts.Client()), srv
}

var demo = core.Credentials{Username: "demo", Password: "demo"}

func TestLogin(t *testing.T) {
	client, _ := newMockAPI(t)

	pair, err := client.Login(context.Background(), demo)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, 5*time.Minute, pair.ExpiresAt.Sub(pair.IssuedAt))

	claims, err := tokenizer.NewJWTDecoder().Decode(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "demo", claims.SubjectID)
	assert.True(t, claims.ExpiresAt.Equal(pair.ExpiresAt))
}

func TestLoginRejected(t *testing.T) {
	client, _ := newMockAPI(t)

	_, err := client.Login(context.Background(), core.Credentials{Username: "demo", Password: "nope"})
	require.ErrorIs(t, err, core.ErrCredentialRejected)

	var statusErr *remote.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "Invalid username or password", statusErr.Message)
}

func TestRefreshRotatesTokens(t *testing.T) {
	client, srv := newMockAPI(t)
	ctx := context.Background()

	first, err := client.Login(ctx, demo)
	require.NoError(t, err)

	second, err := client.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = client.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, core.ErrCredentialRejected)

	_, err = client.Refresh(ctx, "not-a-token")
	require.ErrorIs(t, err, core.ErrCredentialRejected)

	assert.Equal(t, 3, srv.Handlers.RefreshCalls())
}

func TestRefreshServerErrorIsTransient(t *testing.T) {
	client, srv := newMockAPI(t)
	ctx := context.Background()

	pair, err := client.Login(ctx, demo)
	require.NoError(t, err)

	srv.Handlers.FailRefreshes(1)
	_, err = client.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, core.ErrNetwork)
	require.NotErrorIs(t, err, core.ErrCredentialRejected)

	_, err = client.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestTwoFactor(t *testing.T) {
	client, _ := newMockAPI(t)
	ctx := context.Background()

	pair, err := client.Login(ctx, demo)
	require.NoError(t, err)

	require.ErrorIs(t, client.VerifyCode(ctx, pair.AccessToken, "123456"), core.ErrChallengeFailed, "no challenge yet")

	expiresAt, err := client.BeginChallenge(ctx, pair.AccessToken, core.MethodSMS)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	require.ErrorIs(t, client.VerifyCode(ctx, pair.AccessToken, "000000"), core.ErrChallengeFailed)
	require.NoError(t, client.VerifyCode(ctx, pair.AccessToken, "123456"))

	_, err = client.BeginChallenge(ctx, pair.AccessToken, core.ChallengeMethod("carrier-pigeon"))
	require.ErrorIs(t, err, core.ErrCredentialRejected)

	_, err = client.BeginChallenge(ctx, "bogus", core.MethodEmail)
	require.ErrorIs(t, err, core.ErrCredentialRejected)
}

func TestUnreachableServerIsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := remote.NewClient(url, nil).Login(context.Background(), demo)
	require.ErrorIs(t, err, core.ErrNetwork)
}

func TestMalformedResponses(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"not json": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>oops</html>"))
		},
		"missing fields": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"access_token":"a"}`))
		},
		"bad gateway": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
	} {
		t.Run(name, func(t *testing.T) {
			ts := httptest.NewServer(handler)
			defer ts.Close()

			_, err := remote.NewClient(ts.URL, ts.Client()).Refresh(context.Background(), "r")
			require.ErrorIs(t, err, core.ErrNetwork)
		})
	}
}
