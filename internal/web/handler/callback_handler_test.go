package handler

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/freekieb7/formlink/internal/reauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) state(t *testing.T, intent reauth.Intent) string {
	t.Helper()
	state, err := e.flow.Codec.Encode(intent)
	require.NoError(t, err)
	return state
}

func TestCallbackStoresGrant(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "user-1")
	state := env.state(t, reauth.Intent{ReturnPath: "/forms/42", RequestedCapability: "sheets.write", IsReauthorization: true})

	rr := env.do(http.MethodGet, "/oauth/callback?code=good-code&state="+url.QueryEscape(state), "", cookie)
	require.Equal(t, http.StatusFound, rr.Code, rr.Body.String())
	assert.Equal(t, "/forms/42", rr.Header().Get("Location"))

	g, err := env.grants.Get(context.Background(), "user-1", testProvider)
	require.NoError(t, err)
	require.NotNil(t, g.AccessToken)
	assert.Equal(t, "fresh-access", *g.AccessToken)
	require.NotNil(t, g.RefreshToken)
	assert.Equal(t, "fresh-refresh", *g.RefreshToken)
	assert.Equal(t, []string{driveFileScope}, g.Scope)
	require.NotNil(t, g.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *g.ExpiresAt, time.Minute)
}

func TestCallbackKeepsRefreshTokenAndScope(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "user-1")
	env.saveGrant(t, "user-1", time.Minute, "openid", "email")
	env.tokenBody = `{"access_token":"fresh-access","token_type":"Bearer"}`

	state := env.state(t, reauth.Intent{ReturnPath: "/forms", RequestedCapability: "sheets.write"})
	rr := env.do(http.MethodGet, "/oauth/callback?code=good-code&state="+url.QueryEscape(state), "", cookie)
	require.Equal(t, http.StatusFound, rr.Code)

	g, err := env.grants.Get(context.Background(), "user-1", testProvider)
	require.NoError(t, err)
	require.NotNil(t, g.RefreshToken)
	assert.Equal(t, "refresh-user-1", *g.RefreshToken, "missing refresh token keeps the stored one")
	assert.ElementsMatch(t, []string{"openid", "email", driveFileScope}, g.Scope)
	require.NotNil(t, g.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *g.ExpiresAt, time.Minute, "default lifetime applies")
}

func TestCallbackFailuresLandSafely(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "user-1")
	valid := env.state(t, reauth.Intent{ReturnPath: "/forms", RequestedCapability: "sheets.write"})

	tests := []struct {
		name   string
		query  string
		cookie *http.Cookie
	}{
		{name: "tampered state", query: "code=good-code&state=" + url.QueryEscape(valid+"x"), cookie: cookie},
		{name: "missing state", query: "code=good-code", cookie: cookie},
		{name: "provider error", query: "error=access_denied&state=" + url.QueryEscape(valid), cookie: cookie},
		{name: "rejected code", query: "code=bad-code&state=" + url.QueryEscape(valid), cookie: cookie},
		{name: "no session", query: "code=good-code&state=" + url.QueryEscape(valid)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodGet, "/oauth/callback?"+tt.query, "", tt.cookie)
			require.Equal(t, http.StatusFound, rr.Code)
			assert.Equal(t, "/dashboard?error=reauthorization_failed", rr.Header().Get("Location"))
		})
	}

	_, err := env.grants.Get(context.Background(), "user-1", testProvider)
	assert.Error(t, err, "no grant is stored on failure")
}

func TestCallbackUnsafeReturnPath(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.signIn(t, "user-1")
	state := env.state(t, reauth.Intent{ReturnPath: "//evil.example.com/phish", RequestedCapability: "sheets.write"})

	rr := env.do(http.MethodGet, "/oauth/callback?code=good-code&state="+url.QueryEscape(state), "", cookie)
	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/dashboard", rr.Header().Get("Location"))
}
